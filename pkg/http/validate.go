package http

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

var validate = newValidator()

// newValidator reports fields by their json name.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// ReadAndValidateRequest binds path and query parameters into req, fills
// zero fields from their default tags and validates the result.
func ReadAndValidateRequest(c echo.Context, req interface{}) []ValidationError {
	if err := c.Bind(req); err != nil {
		return toValidationErrors(err)
	}
	if err := defaults.Set(req); err != nil {
		return toValidationErrors(err)
	}
	if err := validate.StructCtx(c.Request().Context(), req); err != nil {
		return toValidationErrors(err)
	}
	return nil
}

// ruleText phrases a failed rule; %s is the rule parameter.
var ruleText = map[string]string{
	"required": "is required",
	"min":      "must be at least %s",
	"max":      "must be at most %s",
	"gt":       "must be greater than %s",
	"gte":      "must be %s or more",
	"lt":       "must be less than %s",
	"lte":      "must be %s or less",
	"oneof":    "must be one of %s",
}

func toValidationErrors(err error) []ValidationError {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		out := make([]ValidationError, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			out = append(out, fieldError(fe))
		}
		return out
	}

	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg = fmt.Sprint(he.Message)
	}
	return []ValidationError{{Code: "ERR_UNKNOWN", Message: msg}}
}

func fieldError(fe validator.FieldError) ValidationError {
	ve := ValidationError{Code: "ERR_" + strings.ToUpper(fe.Tag()), Field: fe.Field()}
	text, ok := ruleText[fe.Tag()]
	switch {
	case !ok:
		ve.Message = fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	case strings.Contains(text, "%s"):
		param := fe.Param()
		if fe.Tag() == "oneof" {
			param = strings.ReplaceAll(param, " ", ", ")
		}
		ve.Message = fe.Field() + " " + fmt.Sprintf(text, param)
		ve.Params = map[string]interface{}{"limit": fe.Param()}
	default:
		ve.Message = fe.Field() + " " + text
	}
	return ve
}
