package svc

import (
	"context"
	"strings"
	"time"

	"mdbin/metrics"
	"mdbin/pkg/domain"
	"mdbin/svc/auth"
	"mdbin/svc/cache"
	"mdbin/svc/db"
	"mdbin/svc/util"

	"github.com/pkg/errors"
)

// Moderation covers report intake (public) and the admin surface
// (listing, inspection, deletion, report triage). Every admin method
// validates the session token itself; the guard is the only
// authorization boundary.
type Moderation struct {
	db    *db.SQLite
	lru   *cache.LRU
	rdb   *db.Redis
	guard *auth.Guard
}

func NewModeration(sqlDB *db.SQLite, lru *cache.LRU, rdb *db.Redis, guard *auth.Guard) *Moderation {
	if sqlDB == nil || lru == nil || guard == nil {
		panic("moderation service: nil dependency (sqlDB, lru, or guard)")
	}
	return &Moderation{
		db:    sqlDB,
		lru:   lru,
		rdb:   rdb,
		guard: guard,
	}
}

// FileReport records a complaint against a live paste. The reason is
// optional; blank reasons are stored as NULL rather than empty strings.
func (m *Moderation) FileReport(ctx context.Context, pasteID, reason string) (*domain.Report, error) {
	exists, err := m.db.PasteExists(ctx, pasteID)
	if err != nil {
		return nil, errors.Wrap(err, "check paste")
	}
	if !exists {
		return nil, domain.ErrPasteNotFound
	}
	reason = strings.TrimSpace(reason)
	if len(reason) > domain.MaxReasonLength {
		return nil, domain.ErrReasonTooLong
	}
	var reasonPtr *string
	if reason != "" {
		reasonPtr = &reason
	}
	now := time.Now()
	id, err := m.db.InsertReport(ctx, pasteID, reasonPtr, now)
	if err != nil {
		return nil, errors.Wrap(err, "insert report")
	}
	metrics.ReportFiled.Inc()
	return &domain.Report{
		ID:        id,
		PasteID:   pasteID,
		Reason:    reasonPtr,
		CreatedAt: now,
	}, nil
}

func (m *Moderation) Login(ctx context.Context, password string) (string, error) {
	token, err := m.guard.Login(ctx, password)
	if err != nil {
		if errors.Is(err, auth.ErrBadCredential) || errors.Is(err, auth.ErrGuardDisabled) {
			return "", domain.ErrInvalidPassword
		}
		return "", errors.Wrap(err, "login")
	}
	metrics.AdminActions.WithLabelValues("login").Inc()
	return token, nil
}

func (m *Moderation) Logout(ctx context.Context, token string) error {
	if err := m.guard.Logout(ctx, token); err != nil {
		return errors.Wrap(err, "logout")
	}
	metrics.AdminActions.WithLabelValues("logout").Inc()
	return nil
}

// IsAuthenticated reports whether the token is a live admin session.
func (m *Moderation) IsAuthenticated(ctx context.Context, token string) bool {
	return m.guard.Check(ctx, token)
}

func (m *Moderation) ListPastes(ctx context.Context, token string) ([]domain.PasteSummary, error) {
	if !m.guard.Check(ctx, token) {
		return nil, domain.ErrUnauthorized
	}
	summaries, err := m.db.ListPastes(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list pastes")
	}
	metrics.AdminActions.WithLabelValues("list_pastes").Inc()
	return summaries, nil
}

// ViewPaste returns the full paste for moderation review, password
// protection and all. The admin session substitutes for the password.
func (m *Moderation) ViewPaste(ctx context.Context, token, pasteID string) (*domain.Paste, error) {
	if !m.guard.Check(ctx, token) {
		return nil, domain.ErrUnauthorized
	}
	paste, err := m.db.GetPaste(ctx, pasteID)
	if err != nil {
		if errors.Is(err, domain.ErrPasteNotFound) {
			return nil, domain.ErrPasteNotFound
		}
		return nil, errors.Wrap(err, "get paste")
	}
	metrics.AdminActions.WithLabelValues("view_paste").Inc()
	return paste, nil
}

// DeletePaste removes a paste and all reports filed against it in one
// transaction, then invalidates the cache tiers. Deleting an id that
// is already gone succeeds.
func (m *Moderation) DeletePaste(ctx context.Context, token, pasteID string) error {
	if !m.guard.Check(ctx, token) {
		return domain.ErrUnauthorized
	}
	if err := m.db.DeletePasteAndReports(ctx, pasteID); err != nil {
		return errors.Wrap(err, "delete paste")
	}
	m.lru.Delete(pasteID)
	if m.rdb != nil {
		if err := m.rdb.DeletePaste(ctx, pasteID); err != nil {
			util.Warn().Err(err).Str("id", pasteID).Msg("failed to evict from redis")
		}
	}
	metrics.AdminActions.WithLabelValues("delete_paste").Inc()
	util.Info().Str("id", pasteID).Msg("paste deleted by moderator")
	return nil
}

func (m *Moderation) ListReports(ctx context.Context, token string) ([]domain.ReportView, error) {
	if !m.guard.Check(ctx, token) {
		return nil, domain.ErrUnauthorized
	}
	reports, err := m.db.ListReports(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list reports")
	}
	metrics.AdminActions.WithLabelValues("list_reports").Inc()
	return reports, nil
}

// DismissReport drops a single report and leaves the paste alone.
func (m *Moderation) DismissReport(ctx context.Context, token string, reportID int64) error {
	if !m.guard.Check(ctx, token) {
		return domain.ErrUnauthorized
	}
	if err := m.db.DismissReport(ctx, reportID); err != nil {
		return errors.Wrap(err, "dismiss report")
	}
	metrics.AdminActions.WithLabelValues("dismiss_report").Inc()
	return nil
}
