package auth

import (
	"chatter/errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

type RegisterRequest struct {
	Username  string `validate:"required,alphanum,min=3,max=32"`
	Password  string `validate:"required,min=12,max=72,complex"`
	FirstName string `validate:"max=64"`
	LastName  string `validate:"max=64"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	// complex: upper, lower, digit and a symbol or punctuation mark
	_ = v.RegisterValidation("complex", func(fl validator.FieldLevel) bool {
		var classes [4]bool
		for _, r := range fl.Field().String() {
			switch {
			case unicode.IsUpper(r):
				classes[0] = true
			case unicode.IsLower(r):
				classes[1] = true
			case unicode.IsNumber(r):
				classes[2] = true
			case unicode.IsPunct(r) || unicode.IsSymbol(r):
				classes[3] = true
			}
		}
		return classes[0] && classes[1] && classes[2] && classes[3]
	})
	return v
}

// ValidateRegister reports the first invalid field in plain words.
func ValidateRegister(req RegisterRequest) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}
	fe := fieldErrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "complex":
		return errors.ErrInvalidPassword
	case "required":
		return fmt.Errorf("%s is required", field)
	case "min":
		return fmt.Errorf("%s must be at least %s characters", field, fe.Param())
	case "max":
		return fmt.Errorf("%s must be at most %s characters", field, fe.Param())
	case "alphanum":
		return fmt.Errorf("%s must only contain letters and digits", field)
	default:
		return fmt.Errorf("%s is invalid", field)
	}
}
