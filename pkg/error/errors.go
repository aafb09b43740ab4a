package error

import "net/http"

// GenericError is the contract the recovery middleware uses to map
// application errors to HTTP responses.
type GenericError interface {
	Error() string
	ErrCode() string
	StatusCode() int
}

type ValidationError string

func (err ValidationError) Error() string {
	return string(err)
}

func (err ValidationError) ErrCode() string {
	return "VALIDATION_ERROR"
}

func (err ValidationError) StatusCode() int {
	return http.StatusBadRequest
}

type AuthError string

func (err AuthError) Error() string {
	return string(err)
}

func (err AuthError) ErrCode() string {
	return "AUTH_ERROR"
}

func (err AuthError) StatusCode() int {
	return http.StatusUnauthorized
}

type PermissionError string

func (err PermissionError) Error() string {
	return string(err)
}

func (err PermissionError) ErrCode() string {
	return "PERMISSION_ERROR"
}

func (err PermissionError) StatusCode() int {
	return http.StatusForbidden
}

type InternalServerError string

func (err InternalServerError) Error() string {
	return string(err)
}

func (err InternalServerError) ErrCode() string {
	return "INTERNAL_SERVER_ERROR"
}

func (err InternalServerError) StatusCode() int {
	return http.StatusInternalServerError
}
