package app

import (
	"fmt"
	"time"

	"area-engine/internal/common/cache"
	"area-engine/internal/common/logging"
	"area-engine/internal/locks"
	"area-engine/internal/redis"
)

// initializeRedis connects when REDIS_ADDRESS is set. Without Redis the
// dedup cache and execution lock stay in process.
func (app *App) initializeRedis() error {
	if !app.Config.RedisEnabled() {
		app.Logger.Info("Redis: Not configured (dedup, locks and tokens kept in memory)")
		app.Cache = cache.NewLocalCache(24*time.Hour, 10*time.Minute)
		app.Locker = locks.NewLocalLocker()
		return nil
	}

	client, err := redis.NewClient(&redis.Config{
		Address:  app.Config.RedisAddress,
		Password: app.Config.RedisPassword,
		DB:       app.Config.RedisDB,
		PoolSize: app.Config.RedisPoolSize,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	app.RedisClient = client
	app.Cache = cache.NewRedisCache(client.Redis(), "")

	locker, err := locks.NewRedsyncLocker(client, app.Logger)
	if err != nil {
		return err
	}
	app.Locker = locker

	app.Logger.Info("Redis: Connected", logging.Field{Key: "address", Value: app.Config.RedisAddress})
	return nil
}
