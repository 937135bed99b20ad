package service

import (
	"regexp"

	"github.com/go-playground/validator/v10"
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9._]{3,30}$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	})
	return v
}

func validEmail(email string) bool {
	return validate.Var(email, "required,email") == nil
}

func validUsername(username string) bool {
	return validate.Var(username, "username") == nil
}
