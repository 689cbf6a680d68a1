package domain

import (
	"time"
)

const MaxContentLength = 500_000

type Paste struct {
	ID           string     `json:"id"`
	Title        *string    `json:"title,omitempty"`
	Content      string     `json:"content"`
	PasswordHash string     `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

func (p *Paste) Protected() bool {
	return p.PasswordHash != ""
}

func (p *Paste) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && !p.ExpiresAt.After(now)
}

type CreateParams struct {
	Content    string
	Title      string
	Password   string
	Expiration Expiration
}

// Expiration is the fixed set of lifetimes a paste may be created with.
type Expiration string

const (
	ExpireNever Expiration = "never"
	Expire1h    Expiration = "1h"
	Expire1d    Expiration = "1d"
	Expire7d    Expiration = "7d"
	Expire30d   Expiration = "30d"
)

var expirationDurations = map[Expiration]time.Duration{
	Expire1h:  time.Hour,
	Expire1d:  24 * time.Hour,
	Expire7d:  7 * 24 * time.Hour,
	Expire30d: 30 * 24 * time.Hour,
}

// Duration returns the lifetime for a choice, or ok=false for "never"
// and anything unrecognized.
func (e Expiration) Duration() (time.Duration, bool) {
	d, ok := expirationDurations[e]
	return d, ok
}

func (e Expiration) Valid() bool {
	if e == ExpireNever || e == "" {
		return true
	}
	_, ok := expirationDurations[e]
	return ok
}

// PasteView is what the public view path returns. Content is withheld
// while the paste is gated behind a password.
type PasteView struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Content   string     `json:"content,omitempty"`
	Protected bool       `json:"protected"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// PasteSummary is the moderation listing row. ContentLength is computed
// in SQL so bodies never cross the wire for a listing.
type PasteSummary struct {
	ID            string     `json:"id"`
	Title         *string    `json:"title"`
	Protected     bool       `json:"protected"`
	ContentLength int64      `json:"content_length"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

const MaxReasonLength = 200

type Report struct {
	ID        int64     `json:"id"`
	PasteID   string    `json:"paste_id"`
	Reason    *string   `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// ReportView joins a report with its paste's title, best effort. A
// report whose paste was deleted out from under it is still listed,
// with PasteExists false.
type ReportView struct {
	ReportID    int64     `json:"report_id"`
	PasteID     string    `json:"paste_id"`
	Reason      *string   `json:"reason"`
	ReportedAt  time.Time `json:"reported_at"`
	PasteTitle  *string   `json:"paste_title"`
	PasteExists bool      `json:"paste_exists"`
}
