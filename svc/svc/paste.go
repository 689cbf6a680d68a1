package svc

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"mdbin/cfg"
	"mdbin/metrics"
	"mdbin/pkg/domain"
	"mdbin/svc/auth"
	"mdbin/svc/cache"
	"mdbin/svc/db"
	"mdbin/svc/util"

	"github.com/pkg/errors"
)

// Paste implements the public paste lifecycle: create, view, unlock.
// Reads go lru -> redis -> sqlite; the sqlite layer purges expired rows
// on contact, the cache layers only ever see live pastes.
type Paste struct {
	db     *db.SQLite
	lru    *cache.LRU
	rdb    *db.Redis
	hasher *auth.Hasher
	cfg    *cfg.Cfg
}

func NewPaste(sqlDB *db.SQLite, lru *cache.LRU, rdb *db.Redis, h *auth.Hasher, c *cfg.Cfg) *Paste {
	if sqlDB == nil || lru == nil || h == nil || c == nil {
		panic("paste service: nil dependency (sqlDB, lru, hasher, or cfg)")
	}
	return &Paste{
		db:     sqlDB,
		lru:    lru,
		rdb:    rdb,
		hasher: h,
		cfg:    c,
	}
}

func (p *Paste) Create(ctx context.Context, params domain.CreateParams) (*domain.Paste, error) {
	content := params.Content
	if strings.TrimSpace(content) == "" {
		return nil, domain.ErrContentRequired
	}
	if len(content) > int(p.cfg.MaxPasteSize) {
		return nil, domain.ErrContentTooLarge
	}
	if !params.Expiration.Valid() {
		return nil, domain.ErrInvalidExpiration
	}

	id, err := util.GenID()
	if err != nil {
		return nil, errors.Wrap(err, "gen id")
	}

	var pwHash string
	if strings.TrimSpace(params.Password) != "" {
		pwHash, err = p.hasher.Hash(params.Password)
		if err != nil {
			return nil, errors.Wrap(err, "hash password")
		}
	}

	now := time.Now()
	var expiresAt *time.Time
	if d, ok := params.Expiration.Duration(); ok {
		t := now.Add(d)
		expiresAt = &t
	}
	var title *string
	if t := strings.TrimSpace(params.Title); t != "" {
		title = &t
	}

	paste := &domain.Paste{
		ID:           id,
		Title:        title,
		Content:      content,
		PasswordHash: pwHash,
		CreatedAt:    now,
		ExpiresAt:    expiresAt,
	}
	if err := p.db.CreatePaste(ctx, paste); err != nil {
		return nil, errors.Wrap(err, "create paste")
	}
	p.lru.Set(ctx, paste)
	if p.rdb != nil {
		if err := p.rdb.CachePaste(ctx, paste, cacheTTL(paste)); err != nil {
			util.Warn().Err(err).Str("id", id).Msg("failed to cache in redis")
		}
	}
	metrics.PasteCreated.Inc()
	return paste, nil
}

// GetForView resolves a paste for the public view path. Protected
// pastes come back with the content withheld; callers unlock them
// through SubmitPassword.
func (p *Paste) GetForView(ctx context.Context, id string) (*domain.PasteView, error) {
	paste, err := p.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	metrics.PasteViewed.Inc()
	return p.view(paste, !paste.Protected()), nil
}

// SubmitPassword checks a password attempt against a gated paste and
// returns the full view on success. A paste that is missing, expired,
// or was never password protected reads as not found; only a live
// gated paste with a wrong password yields an invalid-credential
// error.
func (p *Paste) SubmitPassword(ctx context.Context, id, password string) (*domain.PasteView, error) {
	paste, err := p.lookup(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrPasteNotFound) {
			p.hasher.DummyVerify()
		}
		return nil, err
	}
	if !paste.Protected() {
		p.hasher.DummyVerify()
		metrics.UnlockAttempts.WithLabelValues("notfound").Inc()
		return nil, domain.ErrPasteNotFound
	}
	match, err := p.hasher.Verify(password, paste.PasswordHash)
	if err != nil {
		return nil, errors.Wrap(err, "verify password")
	}
	if !match {
		metrics.UnlockAttempts.WithLabelValues("denied").Inc()
		return nil, domain.ErrInvalidPassword
	}
	metrics.UnlockAttempts.WithLabelValues("granted").Inc()
	return p.view(paste, true), nil
}

// lookup walks the cache tiers and re-checks expiry at each one, so a
// paste that lapsed while cached is evicted rather than served.
func (p *Paste) lookup(ctx context.Context, id string) (*domain.Paste, error) {
	now := time.Now()
	if paste := p.lru.Get(ctx, id); paste != nil {
		if paste.Expired(now) {
			p.evict(ctx, id)
			return nil, domain.ErrPasteNotFound
		}
		metrics.CacheHits.Inc()
		return paste, nil
	}
	if p.rdb != nil {
		if paste, err := p.rdb.GetPaste(ctx, id); err == nil && paste != nil {
			if paste.Expired(now) {
				p.evict(ctx, id)
				return nil, domain.ErrPasteNotFound
			}
			metrics.CacheHits.Inc()
			p.lru.Set(ctx, paste)
			return paste, nil
		}
	}
	metrics.CacheMisses.Inc()
	paste, err := p.db.GetPaste(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrPasteNotFound) {
			p.evict(ctx, id)
			return nil, domain.ErrPasteNotFound
		}
		return nil, errors.Wrap(err, "get paste")
	}
	p.lru.Set(ctx, paste)
	if p.rdb != nil {
		if err := p.rdb.CachePaste(ctx, paste, cacheTTL(paste)); err != nil {
			util.Warn().Err(err).Str("id", id).Msg("failed to cache in redis")
		}
	}
	return paste, nil
}

func (p *Paste) view(paste *domain.Paste, withContent bool) *domain.PasteView {
	v := &domain.PasteView{
		ID:        paste.ID,
		Protected: paste.Protected(),
		CreatedAt: paste.CreatedAt,
		ExpiresAt: paste.ExpiresAt,
	}
	if withContent {
		v.Title = domain.DeriveTitle(paste.Title, paste.Content)
		v.Content = paste.Content
	} else {
		v.Title = domain.DeriveTitle(paste.Title, "")
	}
	return v
}

func (p *Paste) evict(ctx context.Context, id string) {
	p.lru.Delete(id)
	if p.rdb != nil {
		if err := p.rdb.DeletePaste(ctx, id); err != nil {
			util.Warn().Err(err).Str("id", id).Msg("failed to evict from redis")
		}
	}
}

func cacheTTL(p *domain.Paste) time.Duration {
	if p.ExpiresAt == nil {
		return 0
	}
	return time.Until(*p.ExpiresAt)
}

var (
	cleanerOnce    sync.Once
	cleanerRunning atomic.Bool
)

// StartCleaner runs an optional background sweep for expired pastes.
// Expiry is enforced on read regardless; the sweep just keeps long-idle
// rows from accumulating.
func StartCleaner(ctx context.Context, sqlDB *db.SQLite, interval time.Duration) error {
	if cleanerRunning.Load() {
		return errors.New("cleaner already running")
	}
	cleanerOnce.Do(func() {
		cleanerRunning.Store(true)
		go runCleaner(ctx, sqlDB, interval)
	})
	return nil
}

func runCleaner(ctx context.Context, sqlDB *db.SQLite, interval time.Duration) {
	defer cleanerRunning.Store(false)
	cleanupRequestID := util.NewRequestID()
	ctx = util.SetRequestID(ctx, cleanupRequestID)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	util.Info().
		Str("request_id", cleanupRequestID).
		Dur("interval", interval).
		Msg("cleanup worker started")
	for {
		select {
		case <-ctx.Done():
			util.Info().
				Str("request_id", cleanupRequestID).
				Msg("cleanup worker shutting down")
			return
		case <-ticker.C:
			deleted, err := sqlDB.CleanupExpired(ctx)
			metrics.PruneCycles.Inc()
			if err != nil {
				util.Error().
					Err(err).
					Str("request_id", util.GetRequestID(ctx)).
					Msg("cleanup failed")
			} else if deleted > 0 {
				metrics.PasteExpired.Add(float64(deleted))
				util.Info().
					Int("deleted", deleted).
					Str("request_id", util.GetRequestID(ctx)).
					Msg("cleanup completed")
			}
		}
	}
}
