package service

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrLayerNotFound is returned for unknown layer ids.
	ErrLayerNotFound = errors.New("layer not found")
	// ErrSourceNotFound is returned for unknown source names.
	ErrSourceNotFound = errors.New("source not found")
)

// ConfigurationError reports a layer or source registration that cannot be
// honoured, such as a layer referencing a source that is not loaded.
type ConfigurationError struct {
	Layer  string
	Source string
	Reason string
}

func (e *ConfigurationError) Error() string {
	switch {
	case e.Layer != "":
		return fmt.Sprintf("configuration error: layer %q (source %q): %s", e.Layer, e.Source, e.Reason)
	case e.Source != "":
		return fmt.Sprintf("configuration error: source %q: %s", e.Source, e.Reason)
	}
	return "configuration error: " + e.Reason
}

// DataFetchError reports a remote collection that could not be loaded. The
// affected source renders empty; the session carries on.
type DataFetchError struct {
	Source   string
	URL      string
	Attempts int
	Err      error
}

func (e *DataFetchError) Error() string {
	return fmt.Sprintf("fetching source %q from %s failed after %d attempt(s): %v", e.Source, e.URL, e.Attempts, e.Err)
}

func (e *DataFetchError) Unwrap() error { return e.Err }
