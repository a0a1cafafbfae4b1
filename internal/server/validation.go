package server

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/smallbiznis/muanapay/internal/phone"
)

var registerValidatorsOnce sync.Once

// registerValidators installs the custom tags on gin's shared validator and
// makes field errors report json names.
func registerValidators() {
	registerValidatorsOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(jsonFieldName)
		_ = v.RegisterValidation("msisdn", validateMSISDN)
	})
}

func jsonFieldName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" || name == "" {
		return fld.Name
	}
	return name
}

// validateMSISDN accepts dialable numbers written with spaces, dashes,
// dots, parentheses and a leading plus, as long as enough digits remain to match.
func validateMSISDN(fl validator.FieldLevel) bool {
	raw := strings.TrimSpace(fl.Field().String())
	if raw == "" {
		return true
	}
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
		case r == ' ', r == '-', r == '.', r == '(', r == ')':
		case r == '+' && i == 0:
		default:
			return false
		}
	}
	return phone.Matchable(phone.Normalize(raw))
}

// bindingError converts validator failures into the response envelope.
func bindingError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return invalidRequestError()
	}

	out := &ValidationErrors{Errors: make([]ValidationError, 0, len(fieldErrs))}
	for _, fe := range fieldErrs {
		out.Errors = append(out.Errors, ValidationError{
			Field:   fe.Field(),
			Code:    bindingErrorCode(fe.Tag()),
			Message: bindingErrorMessage(fe),
		})
	}
	return out
}

func bindingErrorCode(tag string) string {
	switch tag {
	case "required":
		return "required"
	case "msisdn":
		return "invalid_msisdn"
	default:
		return "invalid_value"
	}
}

func bindingErrorMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "msisdn":
		if fe.Field() == "sender_number" {
			return "sender_number must be a phone number with at least 8 digits; it is checked before transaction_id, so send only transaction_id when the number is unknown"
		}
		return fe.Field() + " must be a phone number with at least 8 digits"
	case "gt", "gte":
		return fe.Field() + " must be greater than " + fe.Param()
	default:
		return "invalid value"
	}
}
