package loader

import (
	"errors"
	"fmt"
)

// Discovery error kinds. They never escape Discover; they are carried by a
// Failed result and can be matched with errors.Is.
var (
	ErrNotFound      = errors.New("module not found")
	ErrInvalidConfig = errors.New("invalid module config")
	ErrInvalidPage   = errors.New("invalid module page")
)

// LoadError describes why a module failed to load.
type LoadError struct {
	Kind    error
	Field   string
	Message string
}

func (e *LoadError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%v: %s (field %q)", e.Kind, e.Message, e.Field)
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.Message)
}

func (e *LoadError) Unwrap() error {
	return e.Kind
}

func notFound(format string, args ...any) *LoadError {
	return &LoadError{Kind: ErrNotFound, Message: fmt.Sprintf(format, args...)}
}

func invalidConfig(field, format string, args ...any) *LoadError {
	return &LoadError{Kind: ErrInvalidConfig, Field: field, Message: fmt.Sprintf(format, args...)}
}

func invalidPage(field, format string, args ...any) *LoadError {
	return &LoadError{Kind: ErrInvalidPage, Field: field, Message: fmt.Sprintf(format, args...)}
}
