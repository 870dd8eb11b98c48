package models

import (
	"fmt"

	"github.com/alphaitsolutions/storefront_backend/utils"
)

// validateInput runs the validator tags of an input struct and reports the
// first failing field as a ValidationError.
func validateInput(input any) error {
	fields, err := utils.ValidateStruct(input)
	if err != nil {
		return &ValidationError{Message: err.Error()}
	}
	if len(fields) == 0 {
		return nil
	}
	f := fields[0]
	return &ValidationError{Field: f.Field, Message: describeTag(f)}
}

func describeTag(f utils.FieldError) string {
	switch f.Tag {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", f.Param)
	case "gt":
		return fmt.Sprintf("must be greater than %s", f.Param)
	case "gte", "min":
		return fmt.Sprintf("must be at least %s", f.Param)
	case "email":
		return "must be an email address"
	default:
		return fmt.Sprintf("failed %s", f.Tag)
	}
}
