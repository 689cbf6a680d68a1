package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"mdbin/cfg"
	"mdbin/pkg/domain"
	"mdbin/svc/svc"
	"mdbin/svc/util"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"
)

const sessionCookie = "mdbin_session"

// AdminHdl is the moderation surface. Handlers only shuttle tokens;
// the service layer decides whether a session is valid.
type AdminHdl struct {
	mod *svc.Moderation
	cfg *cfg.Cfg
}

type LoginReq struct {
	Password string `json:"password"`
}

type LoginResp struct {
	Token string `json:"token"`
}

func (h *AdminHdl) Login(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())

	var req LoginReq
	if !decodeJSON(w, r, &req, maxRequestSize) {
		return
	}
	token, err := h.mod.Login(r.Context(), req.Password)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidPassword) {
			log.Warn().
				Str("client_ip", util.RedactIP(r.RemoteAddr)).
				Msg("failed admin login")
			writeErr(w, domain.ErrInvalidPassword, requestID)
			return
		}
		log.Error().Err(err).Msg("admin login failed")
		writeErr(w, domain.ErrInternalServer, requestID)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.cfg.SessionTTL / time.Second),
		HttpOnly: true,
		Secure:   h.cfg.Environment == "production",
		SameSite: http.SameSiteStrictMode,
	})
	log.Info().Msg("admin session opened")
	json.NewEncoder(w).Encode(LoginResp{Token: token})
}

func (h *AdminHdl) Logout(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	if err := h.mod.Logout(r.Context(), sessionToken(r)); err != nil {
		log.Error().Err(err).Msg("admin logout failed")
		writeErr(w, domain.ErrInternalServer, requestID)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.Environment == "production",
		SameSite: http.SameSiteStrictMode,
	})
	json.NewEncoder(w).Encode(map[string]string{"status": "logged_out"})
}

func (h *AdminHdl) Session(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]bool{
		"authenticated": h.mod.IsAuthenticated(r.Context(), sessionToken(r)),
	})
}

func (h *AdminHdl) ListPastes(w http.ResponseWriter, r *http.Request) {
	requestID := util.GetRequestID(r.Context())
	summaries, err := h.mod.ListPastes(r.Context(), sessionToken(r))
	if err != nil {
		writeAdminErr(w, r, err, requestID, "list pastes")
		return
	}
	if summaries == nil {
		summaries = []domain.PasteSummary{}
	}
	json.NewEncoder(w).Encode(summaries)
}

func (h *AdminHdl) ViewPaste(w http.ResponseWriter, r *http.Request) {
	requestID := util.GetRequestID(r.Context())
	id := chi.URLParam(r, "id")
	paste, err := h.mod.ViewPaste(r.Context(), sessionToken(r), id)
	if err != nil {
		writeAdminErr(w, r, err, requestID, "view paste")
		return
	}
	// moderators see the body even when gated, so marshal explicitly
	json.NewEncoder(w).Encode(map[string]any{
		"id":         paste.ID,
		"title":      domain.DeriveTitle(paste.Title, paste.Content),
		"content":    paste.Content,
		"protected":  paste.Protected(),
		"created_at": paste.CreatedAt,
		"expires_at": paste.ExpiresAt,
	})
}

func (h *AdminHdl) DeletePaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	id := chi.URLParam(r, "id")
	if err := h.mod.DeletePaste(r.Context(), sessionToken(r), id); err != nil {
		writeAdminErr(w, r, err, requestID, "delete paste")
		return
	}
	log.Info().Str("paste_id", id).Msg("paste deleted by moderator")
	json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
}

func (h *AdminHdl) ListReports(w http.ResponseWriter, r *http.Request) {
	requestID := util.GetRequestID(r.Context())
	reports, err := h.mod.ListReports(r.Context(), sessionToken(r))
	if err != nil {
		writeAdminErr(w, r, err, requestID, "list reports")
		return
	}
	if reports == nil {
		reports = []domain.ReportView{}
	}
	json.NewEncoder(w).Encode(reports)
}

func (h *AdminHdl) DismissReport(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	reportID, err := parseReportID(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return
	}
	if err := h.mod.DismissReport(r.Context(), sessionToken(r), reportID); err != nil {
		writeAdminErr(w, r, err, requestID, "dismiss report")
		return
	}
	log.Info().Int64("report_id", reportID).Msg("report dismissed")
	json.NewEncoder(w).Encode(map[string]string{"status": "dismissed"})
}

// sessionToken pulls the admin token from the session cookie, or from
// a bearer header for non-browser clients.
func sessionToken(r *http.Request) string {
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	const prefix = "Bearer "
	if authz := r.Header.Get("Authorization"); len(authz) > len(prefix) && authz[:len(prefix)] == prefix {
		return authz[len(prefix):]
	}
	return ""
}

func writeAdminErr(w http.ResponseWriter, r *http.Request, err error, requestID, action string) {
	if domain.Status(err) < 500 {
		writeErr(w, err, requestID)
		return
	}
	hlog.FromRequest(r).Error().Err(err).Str("action", action).Msg("admin operation failed")
	writeErr(w, domain.ErrInternalServer, requestID)
}

func parseReportID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Errorf("invalid report id %q", raw)
	}
	return id, nil
}
