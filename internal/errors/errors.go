// Package errors defines the error taxonomy shared by the sync engine, the
// record store and the read path.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Code identifies an error class.
type Code string

const (
	CodeLedgerUnavailable   Code = "LEDGER_UNAVAILABLE"
	CodeManifestFetchFailed Code = "MANIFEST_FETCH_FAILED"
	CodeStoreUnavailable    Code = "STORE_UNAVAILABLE"
	CodeNotFound            Code = "NOT_FOUND"
	CodeBadRequest          Code = "BAD_REQUEST"
	CodeUnauthorized        Code = "UNAUTHORIZED"
	CodeRateLimitExceeded   Code = "RATE_LIMIT_EXCEEDED"
)

// Manifest fetch stages recorded on ManifestFetchFailed errors.
const (
	StageTransport = "transport"
	StageStatus    = "status"
	StageParse     = "parse"
	StageValidate  = "validate"
)

// ServiceError is a classified error carrying an HTTP status for the read path.
type ServiceError struct {
	Code       Code
	Message    string
	HTTPStatus int
	Details    map[string]interface{}
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Is matches any ServiceError with the same code, so sentinels below can be
// used with errors.Is.
func (e *ServiceError) Is(target error) bool {
	t, ok := target.(*ServiceError)
	if !ok {
		return false
	}
	if t == e {
		return true
	}
	return t.Message == "" && t.Code == e.Code
}

// WithDetails returns a copy of e with an extra detail attached.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	cp := *e
	cp.Details = make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

// Sentinels for errors.Is checks.
var (
	ErrLedgerUnavailable   = &ServiceError{Code: CodeLedgerUnavailable}
	ErrManifestFetchFailed = &ServiceError{Code: CodeManifestFetchFailed}
	ErrStoreUnavailable    = &ServiceError{Code: CodeStoreUnavailable}
	ErrNotFound            = &ServiceError{Code: CodeNotFound}
	ErrUnauthorized        = &ServiceError{Code: CodeUnauthorized}
)

// LedgerUnavailable wraps an RPC or decoding failure against any contract.
func LedgerUnavailable(op string, err error) *ServiceError {
	return &ServiceError{
		Code:       CodeLedgerUnavailable,
		Message:    "ledger unavailable: " + op,
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
	}
}

// ManifestFetchFailed records which stage of fetching a manifest failed.
func ManifestFetchFailed(domain, stage string, err error) *ServiceError {
	return &ServiceError{
		Code:       CodeManifestFetchFailed,
		Message:    fmt.Sprintf("unable to load manifest for %s", domain),
		HTTPStatus: http.StatusBadGateway,
		Details:    map[string]interface{}{"domain": domain, "stage": stage},
		Err:        err,
	}
}

// StoreUnavailable wraps a relational store failure.
func StoreUnavailable(op string, err error) *ServiceError {
	return &ServiceError{
		Code:       CodeStoreUnavailable,
		Message:    "store unavailable: " + op,
		HTTPStatus: http.StatusServiceUnavailable,
		Err:        err,
	}
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *ServiceError {
	return &ServiceError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s %s not found", resource, id),
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]interface{}{"resource": resource, "id": id},
	}
}

// BadRequest reports invalid caller input.
func BadRequest(message string) *ServiceError {
	return &ServiceError{Code: CodeBadRequest, Message: message, HTTPStatus: http.StatusBadRequest}
}

// Unauthorized reports a missing or unknown API key.
func Unauthorized(message string) *ServiceError {
	return &ServiceError{Code: CodeUnauthorized, Message: message, HTTPStatus: http.StatusUnauthorized}
}

// RateLimitExceeded reports a throttled caller.
func RateLimitExceeded(limit int, window string) *ServiceError {
	return &ServiceError{
		Code:       CodeRateLimitExceeded,
		Message:    "rate limit exceeded",
		HTTPStatus: http.StatusTooManyRequests,
		Details:    map[string]interface{}{"limit": limit, "window": window},
	}
}

// Stage returns the manifest fetch stage recorded on err, or "" if err is not
// a ManifestFetchFailed error.
func Stage(err error) string {
	var se *ServiceError
	if !stderrors.As(err, &se) || se.Code != CodeManifestFetchFailed {
		return ""
	}
	stage, _ := se.Details["stage"].(string)
	return stage
}

// HTTPStatus returns the status associated with err, defaulting to 500.
func HTTPStatus(err error) int {
	var se *ServiceError
	if stderrors.As(err, &se) && se.HTTPStatus != 0 {
		return se.HTTPStatus
	}
	return http.StatusInternalServerError
}
