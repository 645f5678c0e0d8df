// Package prefs persists small user preferences, such as the last selected
// model source, across restarts.
package prefs

import (
	"fmt"

	"github.com/rs/zerolog"
)

// KeyModelsURI holds the last selected model source.
const KeyModelsURI = "models_uri"

// Store is a string key/value store. Get reports ok=false for a missing key.
type Store interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendBadger = "badger"
)

// Open returns the store for backend rooted at path. For the file backend
// path is a YAML file; for badger it is a directory.
func Open(backend, path string, logger zerolog.Logger) (Store, error) {
	switch backend {
	case "", BackendFile:
		return NewFileStore(path)
	case BackendBadger:
		return OpenBadger(BadgerConfig{Path: path, SyncWrites: true, Logger: &logger})
	default:
		return nil, fmt.Errorf("unknown prefs backend %q", backend)
	}
}
