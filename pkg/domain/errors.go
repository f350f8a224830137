package domain

import (
	"net/http"

	"github.com/pkg/errors"
)

var (
	ErrNotFound          = NewErr(1, "ERR_NOT_FOUND", "resource not found", http.StatusNotFound)
	ErrInvalidRequest    = NewErr(2, "ERR_INVALID_REQUEST", "invalid request", http.StatusBadRequest)
	ErrTitleRequired     = NewErr(2, "ERR_INVALID_REQUEST", "title required", http.StatusBadRequest)
	ErrTitleTooLong      = NewErr(2, "ERR_INVALID_REQUEST", "title too long", http.StatusBadRequest)
	ErrContentRequired   = NewErr(2, "ERR_INVALID_REQUEST", "content required", http.StatusBadRequest)
	ErrContentTooLarge   = NewErr(2, "ERR_INVALID_REQUEST", "content too large", http.StatusBadRequest)
	ErrExpirationTooLong = NewErr(2, "ERR_INVALID_REQUEST", "expiration too long", http.StatusBadRequest)
	ErrRateLimited       = NewErr(4, "ERR_RATE_LIMITED", "rate limit exceeded", http.StatusTooManyRequests)
	ErrInternal          = NewErr(3, "ERR_INTERNAL_SERVER_ERROR", "internal error", http.StatusInternalServerError)
)

// Err is a boundary error: a stable numeric code and reason the request
// layer renders, plus the HTTP status it maps to.
type Err struct {
	Code   int
	Reason string
	Msg    string
	Status int
}

func (e *Err) Error() string { return e.Msg }

func NewErr(code int, reason, msg string, status int) *Err {
	return &Err{Code: code, Reason: reason, Msg: msg, Status: status}
}

// ErrResp is the wire shape of a rendered error.
type ErrResp struct {
	Code    int    `json:"code"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// ToResp renders err for the wire. Anything that is not a boundary error
// collapses to the generic internal failure; detail stays in the logs.
func ToResp(err error) ErrResp {
	if e := asBoundary(err); e != nil {
		return ErrResp{Code: e.Code, Reason: e.Reason, Message: e.Msg}
	}
	return ErrResp{Code: ErrInternal.Code, Reason: ErrInternal.Reason, Message: ErrInternal.Msg}
}

// Status returns the HTTP status for err.
func Status(err error) int {
	if e := asBoundary(err); e != nil {
		return e.Status
	}
	return http.StatusInternalServerError
}

func asBoundary(err error) *Err {
	if e, ok := err.(*Err); ok {
		return e
	}
	if e, ok := errors.Cause(err).(*Err); ok {
		return e
	}
	return nil
}
