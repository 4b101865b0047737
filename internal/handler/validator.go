package handler

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// echoのValidator。項目名はjsonタグを使う
type RequestValidator struct {
	v *validator.Validate
}

func NewRequestValidator() *RequestValidator {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return strings.ToLower(f.Name)
		}
		return name
	})
	return &RequestValidator{v: v}
}

func (rv *RequestValidator) Validate(i interface{}) error {
	return rv.v.Struct(i)
}

// Bind + Validate。失敗したらそのまま400を書いて false を返す
func bindAndValidate(c echo.Context, req interface{}) (bool, error) {
	if err := c.Bind(req); err != nil {
		return false, badRequest(c, "invalid body")
	}
	if err := c.Validate(req); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			return false, c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation error", Fields: fieldErrors(ve)})
		}
		return false, badRequest(c, "invalid body")
	}
	return true, nil
}

func fieldErrors(ve validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(ve))
	for _, fe := range ve {
		out[fe.Field()] = messageForTag(fe.Tag(), fe.Param())
	}
	return out
}

func messageForTag(tag, param string) string {
	switch tag {
	case "required":
		return "required"
	case "gt":
		return "must be greater than " + param
	case "gte", "min":
		return "must be at least " + param
	case "max", "lte":
		return "must be at most " + param
	case "oneof":
		return "must be one of " + param
	default:
		return "invalid"
	}
}
