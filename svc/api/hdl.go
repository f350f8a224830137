package api

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
	"golang.org/x/text/unicode/norm"

	"pastekv/cfg"
	"pastekv/pkg/domain"
	"pastekv/svc/svc"
	"pastekv/svc/util"
)

type Hdl struct {
	paste *svc.Paste
	cfg   *cfg.Cfg
}

type AddReq struct {
	Title      string  `json:"title"`
	Content    string  `json:"content"`
	Expiration *uint64 `json:"expiration,omitempty"`
}

type AddResp struct {
	Key string `json:"key"`
}

// QueryResp renders expire_at as an explicit null when the paste never
// expires, so clients can tell "no expiry" from a missing field.
type QueryResp struct {
	Title     string  `json:"title"`
	Content   string  `json:"content"`
	CreatedAt string  `json:"created_at"`
	ExpireAt  *string `json:"expire_at"`
}

func (h *Hdl) AddPaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	contentType := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != "application/json" {
		log.Warn().Str("content_type", contentType).Msg("invalid Content-Type header")
		w.WriteHeader(http.StatusUnsupportedMediaType)
		json.NewEncoder(w).Encode(domain.ToResp(domain.ErrInvalidRequest))
		return
	}

	limit := h.cfg.MaxContentSize * 2
	if clHeader := r.Header.Get("Content-Length"); clHeader != "" {
		cl, err := strconv.ParseInt(clHeader, 10, 64)
		if err != nil || cl < 0 {
			log.Warn().Str("content_length", clHeader).Msg("invalid Content-Length")
			writeErr(w, domain.ErrInvalidRequest)
			return
		}
		if cl > limit {
			log.Warn().Int64("content_length", cl).Msg("Content-Length exceeds maximum")
			writeErr(w, domain.ErrContentTooLarge)
			return
		}
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	var req AddReq
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		if err == io.EOF {
			log.Warn().Msg("empty request body")
		} else {
			log.Warn().Err(err).Msg("malformed request body")
		}
		writeErr(w, domain.ErrInvalidRequest)
		return
	}

	params := domain.CreateParams{
		Title:   sanitizeText(req.Title),
		Content: sanitizeText(req.Content),
	}
	if req.Expiration != nil {
		// bounds check before the int64 conversion can overflow
		if *req.Expiration > uint64(h.cfg.MaxTTL/time.Second) {
			log.Warn().Uint64("expiration", *req.Expiration).Msg("expiration exceeds maximum")
			writeErr(w, domain.ErrExpirationTooLong)
			return
		}
		params.TTL = time.Duration(*req.Expiration) * time.Second
		params.HasTTL = true
	}

	key, err := h.paste.Create(r.Context(), params)
	if err != nil {
		if domain.Status(err) < 500 {
			log.Warn().Err(err).Msg("paste rejected")
		} else {
			log.Error().Err(err).Msg("failed to create paste")
		}
		writeErr(w, err)
		return
	}
	log.Info().
		Str("key", util.RedactToken(key)).
		Bool("expires", params.HasTTL).
		Msg("paste created")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(AddResp{Key: key})
}

func (h *Hdl) QueryPaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	key := chi.URLParam(r, "key")

	paste, err := h.paste.Fetch(r.Context(), key)
	if err != nil {
		if domain.Status(err) >= 500 {
			log.Error().Err(err).Msg("failed to fetch paste")
		} else {
			log.Debug().Str("key", util.RedactToken(key)).Msg("paste not found")
		}
		writeErr(w, err)
		return
	}

	resp := QueryResp{
		Title:     paste.Title,
		Content:   paste.Content,
		CreatedAt: paste.CreatedAt.UTC().Format(time.RFC3339),
	}
	if paste.ExpireAt != nil {
		s := paste.ExpireAt.UTC().Format(time.RFC3339)
		resp.ExpireAt = &s
	}
	json.NewEncoder(w).Encode(resp)
}

func writeErr(w http.ResponseWriter, err error) {
	status := domain.Status(err)
	if status >= 500 {
		util.Error().Err(err).Msg("internal error")
	}
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(domain.ToResp(err))
}

// sanitizeText normalizes to NFC and strips control characters other than
// newline, carriage return and tab. No HTML escaping happens here; stored
// bytes come back exactly as submitted.
func sanitizeText(s string) string {
	s = norm.NFC.String(s)
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for _, r := range s {
			if r != utf8.RuneError {
				v = append(v, r)
			}
		}
		s = string(v)
	}
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return r
		}
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, s)
}
