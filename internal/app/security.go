package app

import (
	"fmt"

	"area-engine/internal/auth"
	"area-engine/internal/crypto"
)

func (app *App) initializeSecurity() error {
	a, err := auth.New(app.Config.JWTSecret, 0)
	if err != nil {
		return err
	}
	app.Auth = a

	if app.Config.EncryptionKey == "" {
		app.Logger.Warn("CONFIG_ENCRYPTION_KEY not set, credentials are stored unencrypted")
		return nil
	}
	cipher, err := crypto.NewTokenCipher(app.Config.EncryptionKey)
	if err != nil {
		return fmt.Errorf("failed to initialize credential cipher: %w", err)
	}
	app.Cipher = cipher
	return nil
}
