package domain

import (
	"github.com/pkg/errors"
	"net/http"
)

var (
	ErrNotFound          = NewErr("PASTE_NOT_FOUND", "paste not found", http.StatusNotFound)
	ErrMultipleRecords   = NewErr("MULTIPLE_RECORDS", "multiple records for key", http.StatusInternalServerError)
	ErrDecryption        = NewErr("DECRYPTION_FAILED", "could not decrypt or verify paste", http.StatusBadRequest)
	ErrStorage           = NewErr("STORAGE_ERROR", "storage unavailable", http.StatusServiceUnavailable)
	ErrKeyAllocation     = NewErr("KEY_ALLOCATION_FAILED", "key allocation failed", http.StatusInternalServerError)
	ErrInvalidTTL        = NewErr("INVALID_TTL", "invalid ttl", http.StatusBadRequest)
	ErrPasteTooLarge     = NewErr("PASTE_TOO_LARGE", "paste too large", http.StatusRequestEntityTooLarge)
	ErrInvalidRequest    = NewErr("INVALID_REQUEST", "invalid request", http.StatusBadRequest)
	ErrRateLimitExceeded = NewErr("RATE_LIMIT_EXCEEDED", "rate limit exceeded", http.StatusTooManyRequests)
	ErrInternalServer    = NewErr("INTERNAL_ERROR", "internal error", http.StatusInternalServerError)
)

type Err struct {
	Code   string `json:"code"`
	Msg    string `json:"message"`
	Status int    `json:"-"`
}

func (e *Err) Error() string { return e.Msg }
func NewErr(code, msg string, status int) *Err {
	return &Err{Code: code, Msg: msg, Status: status}
}

// StorageError carries the failing operation and the driver error.
// It matches ErrStorage under errors.Is.
type StorageError struct {
	Op  string
	Err error
}

func NewStorageError(op string, err error) *StorageError {
	return &StorageError{Op: op, Err: err}
}
func (e *StorageError) Error() string {
	if e.Err == nil {
		return "storage: " + e.Op
	}
	return "storage: " + e.Op + ": " + e.Err.Error()
}
func (e *StorageError) Unwrap() error { return e.Err }
func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

type ErrResp struct {
	Error ErrDetail `json:"error"`
}
type ErrDetail struct {
	Code string                 `json:"code"`
	Msg  string                 `json:"message"`
	Meta map[string]interface{} `json:"meta,omitempty"`
}

func ToResp(err error) ErrResp {
	if e := asErr(err); e != nil {
		return ErrResp{Error: ErrDetail{Code: e.Code, Msg: e.Msg}}
	}
	return ErrResp{Error: ErrDetail{Code: ErrInternalServer.Code, Msg: ErrInternalServer.Msg}}
}
func Status(err error) int {
	if e := asErr(err); e != nil {
		return e.Status
	}
	return http.StatusInternalServerError
}
func asErr(err error) *Err {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorage) {
		return ErrStorage
	}
	var e *Err
	if errors.As(err, &e) {
		return e
	}
	if e, ok := errors.Cause(err).(*Err); ok {
		return e
	}
	return nil
}
