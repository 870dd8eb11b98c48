package utils

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// GetValidator returns the shared validator. Field names in errors use the
// json tag so they match request payloads.
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// FieldError is a flattened validator failure.
type FieldError struct {
	Field string
	Tag   string
	Param string
}

// ValidateStruct runs struct tag validation and returns the failing fields in
// declaration order. A non-validation error (e.g. nil input) is returned as is.
func ValidateStruct(s any) ([]FieldError, error) {
	err := GetValidator().Struct(s)
	if err == nil {
		return nil, nil
	}
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return nil, err
	}
	out := make([]FieldError, 0, len(ves))
	for _, ve := range ves {
		out = append(out, FieldError{
			Field: trimNamespace(ve.Namespace()),
			Tag:   ve.Tag(),
			Param: ve.Param(),
		})
	}
	return out, nil
}

// "NewSuccessOrder.items[0].quantity" -> "items[0].quantity"
func trimNamespace(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}
