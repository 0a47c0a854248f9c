// Package validators decodes and checks request input, turning every
// problem into a CodeValidation error with per-field details.
package validators

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/angelmondragon/marketpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketpay-backend/pkg/errors"
)

const maxBodyBytes = 1 << 20

var validate = func() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(jsonName)
	for tag, ok := range map[string]func(string) bool{
		"payment_method": func(s string) bool { return enums.PaymentMethod(s).IsValid() },
		"order_status":   func(s string) bool { return enums.OrderStatus(s).IsValid() },
	} {
		if err := v.RegisterValidation(tag, func(fl validator.FieldLevel) bool { return ok(fl.Field().String()) }); err != nil {
			panic(err)
		}
	}
	return v
}()

func jsonName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "" || name == "-" {
		return f.Name
	}
	return name
}

// messages maps a validator tag to a sentence; %s receives the tag param.
var messages = map[string]string{
	"required":       "is required",
	"min":            "must be at least %s",
	"max":            "must be at most %s",
	"gte":            "must be greater than or equal to %s",
	"gt":             "must be greater than %s",
	"lte":            "must be less than or equal to %s",
	"email":          "must be a valid email",
	"oneof":          "must be one of: %s",
	"uuid":           "must be a uuid",
	"payment_method": "is not a supported payment method",
	"order_status":   "is not a known order status",
	"dive":           "contains an invalid entry",
}

// DecodeJSONBody reads exactly one JSON object into dest, rejecting unknown
// fields, then runs dest's validate tags.
func DecodeJSONBody(r *http.Request, dest any) error {
	defer io.Copy(io.Discard, r.Body) //nolint:errcheck

	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return bodyError(err)
	}
	if dec.More() {
		return bodyError(errors.New("body must hold a single JSON object"))
	}
	return ValidateStruct(dest)
}

func bodyError(err error) error {
	return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid request body").
		WithDetails(map[string]any{"error": err.Error()})
}

// ValidateStruct runs the validate tags on an already populated value.
func ValidateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "validation failed")
	}
	details := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		// drop the root struct name: "sampleBody.lines[0].quantity" -> "lines[0].quantity"
		_, field, _ := strings.Cut(fe.Namespace(), ".")
		details[field] = describe(fe)
	}
	return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(details)
}

func describe(fe validator.FieldError) string {
	msg, ok := messages[fe.Tag()]
	if !ok {
		return "is invalid"
	}
	if strings.Contains(msg, "%s") {
		return fmt.Sprintf(msg, fe.Param())
	}
	return msg
}
