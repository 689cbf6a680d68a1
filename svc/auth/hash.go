package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/argon2"
)

const (
	maxPasswordLength = 1024
	saltLength        = 16
	minVerifyDuration = 50 * time.Millisecond
)

type Hasher struct {
	iterations  uint32
	memory      uint32
	parallelism uint8
	keyLength   uint32
}

func NewHasher(time, memory uint32, parallelism uint8) (*Hasher, error) {
	if time == 0 || time > 100 {
		return nil, errors.New("iterations must be between 1 and 100")
	}
	if memory < 8*1024 || memory > 2*1024*1024 {
		return nil, errors.New("memory must be between 8192 and 2097152 KiB")
	}
	if parallelism == 0 || parallelism > 128 {
		return nil, errors.New("parallelism must be between 1 and 128")
	}
	return &Hasher{
		iterations:  time,
		memory:      memory,
		parallelism: parallelism,
		keyLength:   32,
	}, nil
}

// Hash derives an argon2id hash in the standard encoded form. Blank
// passwords mean "no protection" and are never hashed; callers must
// filter them out before getting here.
func (h *Hasher) Hash(password string) (string, error) {
	if strings.TrimSpace(password) == "" {
		return "", errors.New("refusing to hash empty password")
	}
	if len(password) > maxPasswordLength {
		return "", errors.New("password too long")
	}
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", errors.Wrap(err, "generate salt")
	}
	hash := argon2.IDKey([]byte(password), salt, h.iterations, h.memory, h.parallelism, h.keyLength)
	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Hash := base64.RawStdEncoding.EncodeToString(hash)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.memory, h.iterations, h.parallelism, b64Salt, b64Hash), nil
}

// Verify reports whether pwd matches the encoded hash. The comparison
// is constant-time and the total call is padded to a floor duration so
// parse failures are indistinguishable from mismatches.
func (h *Hasher) Verify(pwd, encoded string) (bool, error) {
	start := time.Now()
	defer func() {
		if elapsed := time.Since(start); elapsed < minVerifyDuration {
			time.Sleep(minVerifyDuration - elapsed)
		}
	}()
	if len(pwd) > maxPasswordLength {
		h.DummyVerify()
		return false, nil
	}
	mem, iters, threads := h.memory, h.iterations, h.parallelism
	var salt, hash []byte
	valid := true
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		valid = false
	} else if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &iters, &threads); err != nil {
		valid = false
	} else if mem > 2*1024*1024 || iters > 1000 || threads > 128 {
		valid = false
	} else {
		var err error
		salt, err = base64.RawStdEncoding.DecodeString(parts[4])
		if err != nil || len(salt) == 0 {
			valid = false
		}
		hash, err = base64.RawStdEncoding.DecodeString(parts[5])
		if err != nil || len(hash) == 0 || len(hash) > 256 {
			valid = false
		}
	}
	if !valid {
		mem, iters, threads = h.memory, h.iterations, h.parallelism
		salt = make([]byte, saltLength)
		hash = make([]byte, 32)
	}
	other := argon2.IDKey([]byte(pwd), salt, iters, mem, threads, uint32(len(hash)))
	match := subtle.ConstantTimeCompare(hash, other) == 1
	return valid && match, nil
}

// DummyVerify burns a full argon2 derivation. Callers use it to keep
// attempts against nonexistent pastes timed like real mismatches.
func (h *Hasher) DummyVerify() {
	salt := make([]byte, saltLength)
	argon2.IDKey([]byte("dummy"), salt, h.iterations, h.memory, h.parallelism, h.keyLength)
}
