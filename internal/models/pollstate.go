package models

// PollState is what a poller remembers about one (user, resource) pair.
type PollState struct {
	// LastSeenIDs are the item ids of the latest listing, newest first.
	LastSeenIDs []string `json:"last_seen_ids"`
	Initialized bool     `json:"initialized"`
}
