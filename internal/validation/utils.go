package validation

import "github.com/go-playground/validator/v10"

// Error represents a single field validation failure.
type Error struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func FormatValidationError(err error) []Error {
	var errs []Error
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		for _, e := range validationErrors {
			errs = append(errs, Error{
				Field:   e.Field(),
				Message: e.Error(),
			})
		}
	}

	return errs
}
