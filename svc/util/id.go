package util

import (
	"math/rand/v2"

	"github.com/pkg/errors"
)

const (
	IDLength   = 6
	idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
)

var ErrIDCollision = errors.New("id collision")

// NewID draws IDLength characters independently from [a-z0-9]. It is not
// suitable for secrets; uniqueness is enforced by the caller.
func NewID() string {
	b := make([]byte, IDLength)
	for i := range b {
		b[i] = idAlphabet[rand.IntN(len(idAlphabet))]
	}
	return string(b)
}

// GenID asks gen for candidates until exists reports a free one or attempts
// run out.
func GenID(gen func() string, exists func(string) bool, attempts int) (string, error) {
	if attempts <= 0 {
		attempts = 1
	}
	for retry := 0; retry < attempts; retry++ {
		id := gen()
		if !exists(id) {
			return id, nil
		}
	}
	return "", errors.Wrapf(ErrIDCollision, "after %d attempts", attempts)
}

func ValidID(id string) bool {
	if len(id) != IDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}
