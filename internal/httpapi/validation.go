package httpapi

import (
	"errors"
	"reflect"
	"strings"

	"softphone-platform/pkg/phone"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// RegisterValidators adds the custom binding tags used by request structs.
// Call once at startup before serving requests.
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return errors.New("httpapi: gin validator is not go-playground/validator")
	}
	// Report fields by their wire names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"json", "form"} {
			name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return f.Name
	})
	return v.RegisterValidation("e164ish", func(fl validator.FieldLevel) bool {
		return phone.IsDialable(fl.Field().String())
	})
}

// validationMessages turns binding errors into one readable string per field.
func validationMessages(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{"invalid request body"}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required", "required_without":
			out = append(out, fe.Field()+" is required")
		case "e164ish":
			out = append(out, fe.Field()+" must be a phone number")
		default:
			out = append(out, fe.Field()+" is invalid")
		}
	}
	return out
}
