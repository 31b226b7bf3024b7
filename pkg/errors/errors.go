package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies client and relay failures.
type ErrorCode string

const (
	ErrCodeTransportFault        ErrorCode = "TRANSPORT_FAULT"
	ErrCodeMalformedMessage      ErrorCode = "MALFORMED_MESSAGE"
	ErrCodeNegotiationFailed     ErrorCode = "NEGOTIATION_FAILED"
	ErrCodeCapabilityUnavailable ErrorCode = "CAPABILITY_UNAVAILABLE"
	ErrCodeSendWhileDisconnected ErrorCode = "SEND_WHILE_DISCONNECTED"
	ErrCodeReconnectExhausted    ErrorCode = "RECONNECT_EXHAUSTED"
	ErrCodeInvalidInput          ErrorCode = "INVALID_INPUT"
	ErrCodeInternal              ErrorCode = "INTERNAL_ERROR"
)

// AppError is an error with a code, an HTTP mapping for the control surface
// and a terminal flag for failures the client cannot recover from on its own.
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Terminal   bool
	Cause      error
	Context    map[string]interface{}
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds a key/value pair surfaced in logs.
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Context:    make(map[string]interface{}),
	}
}

func WrapError(err error, code ErrorCode, message string, httpStatus int) *AppError {
	appErr := NewAppError(code, message, httpStatus)
	appErr.Cause = err
	return appErr
}

func NewTransportError(err error, message string) *AppError {
	return WrapError(err, ErrCodeTransportFault, message, http.StatusBadGateway)
}

func NewMalformedMessageError(err error) *AppError {
	return WrapError(err, ErrCodeMalformedMessage, "malformed signaling message", http.StatusBadRequest)
}

func NewNegotiationError(err error, step string) *AppError {
	return WrapError(err, ErrCodeNegotiationFailed, step+" failed", http.StatusConflict).
		WithContext("step", step)
}

// NewCapabilityError reports that no capture profile could be satisfied.
func NewCapabilityError(err error) *AppError {
	appErr := WrapError(err, ErrCodeCapabilityUnavailable, "camera/microphone unavailable", http.StatusServiceUnavailable)
	appErr.Terminal = true
	return appErr
}

func NewSendWhileDisconnectedError(messageType string) *AppError {
	return NewAppError(ErrCodeSendWhileDisconnected, "signaling channel not open", http.StatusServiceUnavailable).
		WithContext("message_type", messageType)
}

func NewReconnectExhaustedError(attempts int) *AppError {
	appErr := NewAppError(ErrCodeReconnectExhausted,
		fmt.Sprintf("gave up reconnecting after %d attempts", attempts), http.StatusServiceUnavailable)
	appErr.Terminal = true
	return appErr.WithContext("attempts", attempts)
}

func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrCodeInternal, message, http.StatusInternalServerError)
}

func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// GetAppError extracts the first AppError from the chain.
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Code == code
}

// IsTerminal reports whether err ends the client's ability to proceed.
func IsTerminal(err error) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Terminal
}
