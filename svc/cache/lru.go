package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"mdbin/pkg/domain"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LRU keeps recently viewed pastes in process. Entries for pastes with
// no expiry get a bounded residence time instead of living forever.
type LRU struct {
	c  *lru.Cache[string, item]
	mu sync.Mutex
}

type item struct {
	paste *domain.Paste
	exp   time.Time
}

const maxResidence = 10 * time.Minute

func NewLRU(size int) (*LRU, error) {
	if size <= 0 {
		return nil, errors.New("cache size must be positive")
	}
	if size > 100000 {
		return nil, errors.New("cache size too large")
	}
	c, err := lru.New[string, item](size)
	if err != nil {
		return nil, err
	}
	return &LRU{c: c}, nil
}

func (l *LRU) Get(ctx context.Context, id string) *domain.Paste {
	select {
	case <-ctx.Done():
		return nil
	default:
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	it, ok := l.c.Get(id)
	if !ok {
		return nil
	}
	if time.Now().After(it.exp) {
		l.c.Remove(id)
		return nil
	}
	return it.paste
}

func (l *LRU) Set(ctx context.Context, p *domain.Paste) {
	residence := maxResidence
	if p.ExpiresAt != nil {
		if until := time.Until(*p.ExpiresAt); until < residence {
			residence = until
		}
	}
	if residence <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.c.Add(p.ID, item{
		paste: p,
		exp:   time.Now().Add(residence),
	})
}

func (l *LRU) Delete(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.c.Remove(id)
}
