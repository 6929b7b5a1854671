// Package validate holds the shared struct validator.
package validate

import (
	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Struct validates s against its `validate` tags.
func Struct(s any) error {
	return validate.Struct(s)
}

// Get returns the shared validator for custom registrations.
func Get() *validator.Validate {
	return validate
}
