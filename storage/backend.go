package storage

import (
	"context"
)

// Backend is a raw string key/value store. Implementations must be safe for
// concurrent use. A missing key is reported as ok == false with a nil error.
type Backend interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Remove(key string) error
	// Keys lists the keys that start with prefix.
	Keys(prefix string) ([]string, error)
	// Name identifies the backend in logs and metrics.
	Name() string
}

// Batcher is implemented by backends that can apply several writes as one
// atomic unit.
type Batcher interface {
	SetMany(entries map[string]string) error
	RemoveMany(keys []string) error
}

// Watcher is implemented by backends whose contents can change underneath
// the process, e.g. a file shared with sibling processes. Each receive on the
// returned channel means "re-read what you care about"; it carries no detail.
// The channel is closed when ctx is done.
type Watcher interface {
	Watch(ctx context.Context) (<-chan struct{}, error)
}
