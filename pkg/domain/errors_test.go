package domain

import (
	"database/sql"
	"github.com/pkg/errors"
	"net/http"
	"testing"
)

func TestStorageErrorMatchesSentinel(t *testing.T) {
	err := errors.Wrap(NewStorageError("insert", sql.ErrConnDone), "insert paste")
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected storage error to match ErrStorage")
	}
	if !errors.Is(err, sql.ErrConnDone) {
		t.Fatalf("expected storage error to unwrap to driver error")
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatalf("storage error must not match ErrNotFound")
	}
	if got := Status(err); got != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", got, http.StatusServiceUnavailable)
	}
}

func TestStatusAndResp(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", ErrNotFound, http.StatusNotFound, "PASTE_NOT_FOUND"},
		{"wrapped decryption", errors.Wrap(ErrDecryption, "touch"), http.StatusBadRequest, "DECRYPTION_FAILED"},
		{"too large", ErrPasteTooLarge, http.StatusRequestEntityTooLarge, "PASTE_TOO_LARGE"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Status(tt.err); got != tt.status {
				t.Errorf("Status() = %d, want %d", got, tt.status)
			}
			if got := ToResp(tt.err).Error.Code; got != tt.code {
				t.Errorf("ToResp().Code = %s, want %s", got, tt.code)
			}
		})
	}
}
