package domain

import (
	"time"
	"unicode/utf8"
)

type Paste struct {
	ID        string     `json:"id"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether p is logically deleted at now. A paste without an
// expiry never expires.
func (p *Paste) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && !p.ExpiresAt.After(now)
}

type CreateParams struct {
	Content string
	TTL     *time.Duration
}

// TTLHours converts a fractional hour count into a TTL for CreateParams.
func TTLHours(h float64) *time.Duration {
	d := time.Duration(h * float64(time.Hour))
	return &d
}

type Summary struct {
	ID        string     `json:"id"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Preview   string     `json:"preview"`
}

func NewSummary(p Paste, previewLen int) Summary {
	return Summary{
		ID:        p.ID,
		CreatedAt: p.CreatedAt,
		ExpiresAt: p.ExpiresAt,
		Preview:   Preview(p.Content, previewLen),
	}
}

// Preview cuts s to at most n runes, appending an ellipsis when truncated.
func Preview(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "…"
}
