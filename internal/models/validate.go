package models

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/mpoliveira/medtrack/internal/common"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks v against its struct tags and wraps any violation in
// common.ErrValidationRejected so callers can match with errors.Is.
func Validate(v any) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", common.ErrValidationRejected, err)
	}
	return nil
}
