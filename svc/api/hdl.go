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

	"mdbin/cfg"
	"mdbin/pkg/domain"
	"mdbin/svc/svc"
	"mdbin/svc/util"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"
	"golang.org/x/text/unicode/norm"
)

type Hdl struct {
	paste *svc.Paste
	mod   *svc.Moderation
	cfg   *cfg.Cfg
}

type CreateReq struct {
	Content    string `json:"content"`
	Title      string `json:"title,omitempty"`
	Password   string `json:"password,omitempty"`
	Expiration string `json:"expiration,omitempty"`
}

type CreateResp struct {
	ID        string     `json:"id"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type UnlockReq struct {
	Password string `json:"password"`
}

type ReportReq struct {
	Reason string `json:"reason,omitempty"`
}

func (h *Hdl) CreatePaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())

	var req CreateReq
	if !decodeJSON(w, r, &req, h.cfg.MaxPasteSize*2) {
		return
	}
	if req.Expiration != "" && !domain.Expiration(req.Expiration).Valid() {
		log.Warn().Str("expiration", req.Expiration).Msg("invalid expiration choice")
		writeErr(w, domain.ErrInvalidExpiration, requestID)
		return
	}
	params := domain.CreateParams{
		Content:    sanitizeContent(req.Content),
		Title:      req.Title,
		Password:   req.Password,
		Expiration: domain.Expiration(req.Expiration),
	}
	if params.Expiration == "" {
		params.Expiration = domain.ExpireNever
	}
	paste, err := h.paste.Create(r.Context(), params)
	if err != nil {
		if domain.Status(err) < 500 {
			writeErr(w, err, requestID)
			return
		}
		log.Error().Err(err).Msg("failed to create paste")
		writeErr(w, domain.ErrInternalServer, requestID)
		return
	}
	log.Info().
		Str("paste_id", paste.ID).
		Str("expiration", string(params.Expiration)).
		Bool("password_protected", paste.Protected()).
		Msg("paste created")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(CreateResp{
		ID:        paste.ID,
		CreatedAt: paste.CreatedAt,
		ExpiresAt: paste.ExpiresAt,
	})
}

func (h *Hdl) GetPaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	id := chi.URLParam(r, "id")
	view, err := h.paste.GetForView(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrPasteNotFound) {
			writeErr(w, domain.ErrPasteNotFound, requestID)
			return
		}
		log.Error().Err(err).Str("paste_id", id).Msg("view failed")
		writeErr(w, domain.ErrInternalServer, requestID)
		return
	}
	json.NewEncoder(w).Encode(view)
}

// UnlockPaste exchanges a password for the content of a gated paste.
// Missing and unprotected pastes answer 404 so the endpoint cannot be
// used to probe which ids exist.
func (h *Hdl) UnlockPaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	id := chi.URLParam(r, "id")

	var req UnlockReq
	if !decodeJSON(w, r, &req, maxRequestSize) {
		return
	}
	view, err := h.paste.SubmitPassword(r.Context(), id, req.Password)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidPassword) {
			log.Warn().
				Str("paste_id", id).
				Str("client_ip", util.RedactIP(r.RemoteAddr)).
				Msg("failed password attempt")
			writeErr(w, domain.ErrInvalidPassword, requestID)
			return
		}
		if errors.Is(err, domain.ErrPasteNotFound) {
			writeErr(w, domain.ErrPasteNotFound, requestID)
			return
		}
		log.Error().Err(err).Str("paste_id", id).Msg("unlock failed")
		writeErr(w, domain.ErrInternalServer, requestID)
		return
	}
	json.NewEncoder(w).Encode(view)
}

func (h *Hdl) ReportPaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	id := chi.URLParam(r, "id")

	var req ReportReq
	if !decodeJSON(w, r, &req, maxRequestSize) {
		return
	}
	report, err := h.mod.FileReport(r.Context(), id, req.Reason)
	if err != nil {
		if domain.Status(err) < 500 {
			writeErr(w, err, requestID)
			return
		}
		log.Error().Err(err).Str("paste_id", id).Msg("report failed")
		writeErr(w, domain.ErrInternalServer, requestID)
		return
	}
	log.Info().
		Str("paste_id", id).
		Int64("report_id", report.ID).
		Msg("report filed")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(report)
}

const maxRequestSize = 16 * 1024

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, limit int64) bool {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	contentType := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != "application/json" {
		log.Warn().
			Str("content_type", contentType).
			Str("request_id", requestID).
			Msg("invalid Content-Type header")
		w.WriteHeader(http.StatusUnsupportedMediaType)
		json.NewEncoder(w).Encode(map[string]string{
			"error":      "expected Content-Type: application/json",
			"request_id": requestID,
		})
		return false
	}
	if clHeader := r.Header.Get("Content-Length"); clHeader != "" {
		cl, err := strconv.ParseInt(clHeader, 10, 64)
		if err != nil || cl < 0 {
			log.Warn().Str("content_length", clHeader).Msg("invalid Content-Length")
			writeErr(w, domain.ErrInvalidRequest, requestID)
			return false
		}
		if cl > limit {
			log.Warn().Int64("content_length", cl).Msg("Content-Length exceeds maximum")
			writeErr(w, domain.ErrContentTooLarge, requestID)
			return false
		}
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			log.Warn().Msg("empty request body")
		} else {
			log.Warn().Err(err).Msg("invalid request")
		}
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return false
	}
	return true
}

func writeErr(w http.ResponseWriter, err error, requestID string) {
	statusCode := domain.Status(err)
	resp := domain.ToResp(err)
	if statusCode >= 500 {
		resp = domain.ToResp(domain.ErrInternalServer)
		util.Error().
			Err(err).
			Str("request_id", requestID).
			Msg("internal error with detailed info")
	}
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error":      resp.Error.Msg,
		"code":       resp.Error.Code,
		"request_id": requestID,
	})
}

// sanitizeContent normalizes to NFC and strips control characters.
// Content is stored as raw markdown; escaping is the renderer's job.
func sanitizeContent(s string) string {
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
