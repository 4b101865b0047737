package usecase

import (
	"errors"
	"fmt"
	"net/http"
)

// エラーの種類。handlerはStatusをそのまま返す
type ErrorKind string

const (
	KindValidation     ErrorKind = "validation"
	KindNotFound       ErrorKind = "not_found"
	KindStateConflict  ErrorKind = "state_conflict"
	KindGateway        ErrorKind = "gateway"
	KindGatewayTimeout ErrorKind = "gateway_timeout"
	KindInventory      ErrorKind = "inventory"
	KindEmptyCart      ErrorKind = "empty_cart"
	KindUnauthorized   ErrorKind = "unauthorized"
	KindForbidden      ErrorKind = "forbidden"
	KindInternal       ErrorKind = "internal"
)

type HTTPError struct {
	Status  int
	Kind    ErrorKind
	Message string
	// 項目ごとのエラー（validationのみ）
	Fields map[string]string
	cause  error
}

func (e *HTTPError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%d: %s: %v", e.Status, e.Message, e.cause)
	}
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

func (e *HTTPError) Unwrap() error { return e.cause }

func NewHTTPError(status int, message string) error {
	return &HTTPError{
		Status:  status,
		Kind:    kindForStatus(status),
		Message: message,
	}
}

func kindForStatus(status int) ErrorKind {
	switch status {
	case http.StatusBadRequest:
		return KindValidation
	case http.StatusUnauthorized:
		return KindUnauthorized
	case http.StatusForbidden:
		return KindForbidden
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusGatewayTimeout:
		return KindGatewayTimeout
	}
	return KindInternal
}

func ValidationError(message string, fields map[string]string) error {
	return &HTTPError{Status: http.StatusBadRequest, Kind: KindValidation, Message: message, Fields: fields}
}

func NotFoundError(message string) error {
	return &HTTPError{Status: http.StatusNotFound, Kind: KindNotFound, Message: message}
}

func StateConflictError(message string) error {
	return &HTTPError{Status: http.StatusBadRequest, Kind: KindStateConflict, Message: message}
}

// 利用者には汎用メッセージだけ返す。詳細はcauseに残してログへ
func GatewayError(message string, cause error) error {
	return &HTTPError{Status: http.StatusBadRequest, Kind: KindGateway, Message: message, cause: cause}
}

func GatewayTimeoutError(cause error) error {
	return &HTTPError{Status: http.StatusGatewayTimeout, Kind: KindGatewayTimeout, Message: "payment gateway timeout", cause: cause}
}

func InventoryError(message string) error {
	return &HTTPError{Status: http.StatusBadRequest, Kind: KindInventory, Message: message}
}

func EmptyCartError() error {
	return &HTTPError{Status: http.StatusBadRequest, Kind: KindEmptyCart, Message: "cart is empty"}
}

func dbError(cause error) error {
	return &HTTPError{Status: http.StatusInternalServerError, Kind: KindInternal, Message: "db error", cause: cause}
}

func AsHTTPError(err error) (*HTTPError, bool) {
	var he *HTTPError
	ok := errors.As(err, &he)
	return he, ok
}

func IsKind(err error, kind ErrorKind) bool {
	he, ok := AsHTTPError(err)
	return ok && he.Kind == kind
}
