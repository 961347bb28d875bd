package auth

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	mustRegister(v, "role", func(fl validator.FieldLevel) bool {
		return Role(fl.Field().String()).Valid()
	})
	mustRegister(v, "actor_status", func(fl validator.FieldLevel) bool {
		return ActorStatus(fl.Field().String()).Valid()
	})
	mustRegister(v, "agency_status", func(fl validator.FieldLevel) bool {
		return AgencyStatus(fl.Field().String()).Valid()
	})
	return v
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register %s validation: %v", tag, err))
	}
}

// ValidateActor checks an actor record produced by an identity provider.
// Unknown roles and statuses are rejected here rather than left to the model.
func ValidateActor(a Actor) error {
	return validateStruct(a)
}

// ValidateStruct runs tag validation on request payloads and records,
// reporting failures as ErrInvalidInput.
func ValidateStruct(v any) error {
	return validateStruct(v)
}

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	fields := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields = append(fields, fe.Namespace())
	}
	return fmt.Errorf("%w: validation failed on fields: %s", ErrInvalidInput, strings.Join(fields, ", "))
}
