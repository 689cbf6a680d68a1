package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrBadCredential = errors.New("incorrect admin password")
	ErrGuardDisabled = errors.New("admin secret not configured")
)

const sessionIDLength = 16

// Revoker is the server-side revocation list behind logout. Redis
// implements it in production; an in-process map is the fallback.
type Revoker interface {
	Revoke(ctx context.Context, sessionID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, sessionID string) (bool, error)
}

// Guard is the single shared-secret gate for moderation operations. A
// successful login yields an opaque sealed token: expiry, a random
// session id, and an HMAC marker, encrypted under the guard key so the
// holder can neither read nor forge it. The token is a capability, not
// an identity.
type Guard struct {
	secret  []byte
	key     []byte
	ttl     time.Duration
	revoker Revoker
}

// NewGuard builds the guard. An empty adminPassword leaves the guard
// disabled: Login always fails and Check always returns false, so
// moderation fails closed instead of crashing. A nil key gets a random
// one, which means sessions do not survive a restart.
func NewGuard(adminPassword string, key []byte, ttl time.Duration, revoker Revoker) (*Guard, error) {
	if key == nil {
		key = make([]byte, chacha20poly1305.KeySize)
		if _, err := rand.Read(key); err != nil {
			return nil, errors.Wrap(err, "generate session key")
		}
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, errors.New("session key must be exactly 32 bytes")
	}
	if ttl <= 0 {
		return nil, errors.New("session TTL must be positive")
	}
	if revoker == nil {
		revoker = newMemRevoker()
	}
	g := &Guard{
		key:     key,
		ttl:     ttl,
		revoker: revoker,
	}
	if adminPassword != "" {
		g.secret = []byte(adminPassword)
	}
	return g, nil
}

func (g *Guard) Enabled() bool {
	return len(g.secret) > 0
}

// Login compares the candidate against the operator secret in constant
// time and issues a session token valid for the guard TTL.
func (g *Guard) Login(ctx context.Context, password string) (string, error) {
	if !g.Enabled() {
		g.dummyCompare(password)
		return "", ErrGuardDisabled
	}
	if subtle.ConstantTimeCompare([]byte(password), g.secret) != 1 {
		return "", ErrBadCredential
	}
	sid := make([]byte, sessionIDLength)
	if _, err := rand.Read(sid); err != nil {
		return "", errors.Wrap(err, "generate session id")
	}
	expiry := time.Now().Add(g.ttl).Unix()
	payload := g.encodePayload(sid, expiry)
	aead, err := chacha20poly1305.NewX(g.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", errors.Wrap(err, "generate nonce")
	}
	sealed := aead.Seal(nonce, nonce, payload, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Check reports whether the presented artifact is a live admin
// session. Any failure, including a revocation-list lookup error,
// yields false: the guard never errs open.
func (g *Guard) Check(ctx context.Context, token string) bool {
	if !g.Enabled() || token == "" {
		return false
	}
	sid, expiry, ok := g.open(token)
	if !ok {
		return false
	}
	if time.Now().Unix() > expiry {
		return false
	}
	revoked, err := g.revoker.IsRevoked(ctx, encodeSID(sid))
	if err != nil || revoked {
		return false
	}
	return true
}

// Logout invalidates the session immediately by putting its id on the
// revocation list until the token would have expired anyway.
// Unreadable tokens are ignored; there is nothing to revoke.
func (g *Guard) Logout(ctx context.Context, token string) error {
	if !g.Enabled() || token == "" {
		return nil
	}
	sid, expiry, ok := g.open(token)
	if !ok {
		return nil
	}
	remaining := time.Until(time.Unix(expiry, 0))
	if remaining <= 0 {
		return nil
	}
	return g.revoker.Revoke(ctx, encodeSID(sid), remaining)
}

func (g *Guard) encodePayload(sid []byte, expiry int64) []byte {
	expiryBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(expiryBytes, uint64(expiry))
	mac := hmac.New(sha256.New, g.key)
	mac.Write([]byte("admin"))
	mac.Write(sid)
	mac.Write(expiryBytes)
	payload := make([]byte, 0, 8+sessionIDLength+sha256.Size)
	payload = append(payload, expiryBytes...)
	payload = append(payload, sid...)
	return mac.Sum(payload)
}

func (g *Guard) open(token string) (sid []byte, expiry int64, ok bool) {
	sealed, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, 0, false
	}
	aead, err := chacha20poly1305.NewX(g.key)
	if err != nil {
		return nil, 0, false
	}
	if len(sealed) < aead.NonceSize() {
		return nil, 0, false
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	payload, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, 0, false
	}
	if len(payload) != 8+sessionIDLength+sha256.Size {
		return nil, 0, false
	}
	expiryBytes := payload[:8]
	sid = payload[8 : 8+sessionIDLength]
	providedMAC := payload[8+sessionIDLength:]
	mac := hmac.New(sha256.New, g.key)
	mac.Write([]byte("admin"))
	mac.Write(sid)
	mac.Write(expiryBytes)
	if !hmac.Equal(providedMAC, mac.Sum(nil)) {
		return nil, 0, false
	}
	return sid, int64(binary.BigEndian.Uint64(expiryBytes)), true
}

func (g *Guard) dummyCompare(password string) {
	dummy := make([]byte, 32)
	subtle.ConstantTimeCompare([]byte(password), dummy)
}

func encodeSID(sid []byte) string {
	return base64.RawURLEncoding.EncodeToString(sid)
}

type memRevoker struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

func newMemRevoker() *memRevoker {
	return &memRevoker{entries: make(map[string]time.Time)}
}

func (m *memRevoker) Revoke(ctx context.Context, sessionID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[sessionID] = time.Now().Add(ttl)
	return nil
}

func (m *memRevoker) IsRevoked(ctx context.Context, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for id, exp := range m.entries {
		if now.After(exp) {
			delete(m.entries, id)
		}
	}
	_, revoked := m.entries[sessionID]
	return revoked, nil
}
