package provider

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported webhook format")
	ErrValidation        = errors.New("invalid payload")
	ErrTransformContract = errors.New("transform produced an invalid note")
)

type ValidationError struct {
	Platform string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s payload - missing required fields", e.Platform)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
