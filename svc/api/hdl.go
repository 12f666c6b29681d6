package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
	"upaste/cfg"
	"upaste/pkg/domain"
	"upaste/svc/util"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"
	"golang.org/x/text/unicode/norm"
)

const (
	encryptionKeyHeader = "X-Upaste-Encryption-Key"
	defaultContentType  = "auto"
	maxContentTypeLen   = 64
)

type Hdl struct {
	pastes PasteService
	cfg    *cfg.Cfg
}

type NewPasteResp struct {
	Message string `json:"message"`
	Key     string `json:"key"`
}
type ViewResp struct {
	Paste *domain.Paste `json:"paste"`
}

// NewPaste stores the raw request body as a paste. The body is kept
// byte-exact; only the type label is normalised.
func (h *Hdl) NewPaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	limit := h.cfg.MaxPasteBytes
	if r.ContentLength > limit {
		log.Warn().Int64("content_length", r.ContentLength).Msg("Content-Length exceeds maximum")
		writeErr(w, domain.ErrPasteTooLarge, requestID)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			log.Warn().Int64("limit", limit).Msg("paste too large")
			writeErr(w, domain.ErrPasteTooLarge, requestID)
			return
		}
		log.Warn().Err(err).Msg("failed to read body")
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return
	}
	if !utf8.Valid(body) {
		log.Warn().Msg("paste is not valid utf-8")
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return
	}

	q := r.URL.Query()
	contentType := norm.NFC.String(strings.TrimSpace(q.Get("type")))
	if contentType == "" {
		contentType = defaultContentType
	}
	if utf8.RuneCountInString(contentType) > maxContentTypeLen {
		log.Warn().Int("len", len(contentType)).Msg("type label too long")
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return
	}
	var ttl time.Duration
	if raw := q.Get("ttl_seconds"); raw != "" {
		secs, err := strconv.ParseUint(raw, 10, 32)
		if err != nil || secs == 0 {
			log.Warn().Str("ttl_seconds", raw).Msg("invalid ttl")
			writeErr(w, domain.ErrInvalidTTL, requestID)
			return
		}
		ttl = time.Duration(secs) * time.Second
	}
	passphrase := r.Header.Get(encryptionKeyHeader)

	p, err := h.pastes.Insert(r.Context(), domain.NewPaste{
		Content:     string(body),
		ContentType: contentType,
		TTL:         ttl,
		Passphrase:  passphrase,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to create paste")
		writeErr(w, err, requestID)
		return
	}
	log.Info().
		Str("key", util.RedactKey(p.Key)).
		Int("size", len(body)).
		Dur("ttl", ttl).
		Bool("encrypted", passphrase != "").
		Msg("paste created")
	writeJSON(w, http.StatusOK, NewPasteResp{Message: "success", Key: p.Key})
}

// ViewRaw returns the paste content as plain text.
func (h *Hdl) ViewRaw(w http.ResponseWriter, r *http.Request) {
	p, err := h.lookup(r)
	if err != nil {
		if errors.Is(err, domain.ErrDecryption) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error":   "decryption_key_required",
				"message": "x-upaste-encryption-key header is required",
			})
			return
		}
		writeErr(w, err, util.GetRequestID(r.Context()))
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, p.Content)
}
func (h *Hdl) ViewJSON(w http.ResponseWriter, r *http.Request) {
	p, err := h.lookup(r)
	if err != nil {
		writeErr(w, err, util.GetRequestID(r.Context()))
		return
	}
	writeJSON(w, http.StatusOK, ViewResp{Paste: p})
}
func (h *Hdl) AppInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": h.cfg.Version})
}

func (h *Hdl) lookup(r *http.Request) (*domain.Paste, error) {
	key := chi.URLParam(r, "key")
	if !util.ValidKey(key) {
		return nil, domain.ErrNotFound
	}
	p, err := h.pastes.TouchAndGet(r.Context(), key, r.Header.Get(encryptionKeyHeader))
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) && !errors.Is(err, domain.ErrDecryption) {
			hlog.FromRequest(r).Error().Err(err).Str("key", util.RedactKey(key)).Msg("paste lookup failed")
		}
		return nil, err
	}
	return p, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
func writeErr(w http.ResponseWriter, err error, requestID string) {
	statusCode := domain.Status(err)
	detail := domain.ToResp(err).Error
	if statusCode >= 500 && statusCode != http.StatusServiceUnavailable {
		detail = domain.ToResp(domain.ErrInternalServer).Error
		util.Error().
			Err(err).
			Str("request_id", requestID).
			Msg("internal error with detailed info")
	}
	writeJSON(w, statusCode, map[string]string{
		"error":      detail.Msg,
		"code":       detail.Code,
		"request_id": requestID,
	})
}
