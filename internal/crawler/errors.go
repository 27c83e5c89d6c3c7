package crawler

import (
	"errors"
	"fmt"
)

// Sentinel kinds wrapped by FetchError.
var (
	ErrNetwork    = errors.New("network error")
	ErrTimeout    = errors.New("timeout")
	ErrInvalidURL = errors.New("invalid url")
)

// FetchError describes a failed fetch. Kind is one of the sentinels above.
type FetchError struct {
	URL  string
	Kind error
	Err  error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Kind)
	}
	return fmt.Sprintf("fetch %s: %v: %v", e.URL, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *FetchError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// LayerError records a failed extraction layer. It never escapes the extractor.
type LayerError struct {
	Layer Source
	Err   error
}

func (e *LayerError) Error() string {
	return fmt.Sprintf("layer %s: %v", e.Layer, e.Err)
}

func (e *LayerError) Unwrap() error {
	return e.Err
}
