package models

import (
	"fmt"
	"strings"
)

// ValidationError reports one rejected config key, matrix entry or
// clustering property.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   string `json:"value,omitempty"`
}

func (ve ValidationError) Error() string {
	if ve.Value == "" {
		return ve.Field + ": " + ve.Message
	}
	return fmt.Sprintf("%s = %s: %s", ve.Field, ve.Value, ve.Message)
}

// ValidationErrors collects every failure of one check.
type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	switch len(ve) {
	case 0:
		return "valid"
	case 1:
		return ve[0].Error()
	}
	msgs := make([]string, len(ve))
	for i, e := range ve {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("%d problems: %s", len(ve), strings.Join(msgs, "; "))
}

// OrNil returns nil when nothing was collected.
func (ve ValidationErrors) OrNil() error {
	if len(ve) == 0 {
		return nil
	}
	return ve
}

// Is matches ErrInvalidParameter.
func (ve ValidationErrors) Is(target error) bool {
	return target == ErrInvalidParameter
}
