package util

import (
	"crypto/rand"

	"github.com/pkg/errors"
)

// URL-safe, 64 symbols so every random byte maps to exactly 6 bits.
const idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

const IDLength = 10

// GenID returns a fixed-length random paste identifier. At 10 symbols
// over a 64-character alphabet the collision probability is negligible
// for any realistic paste volume; the store's primary key catches the
// astronomically unlikely duplicate.
func GenID() (string, error) {
	buf := make([]byte, IDLength)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "rand fail")
	}
	id := make([]byte, IDLength)
	for i, b := range buf {
		id[i] = idAlphabet[b&0x3F]
	}
	return string(id), nil
}
