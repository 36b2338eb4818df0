package store

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"pastebox/pkg/domain"
	"pastebox/svc/util"
)

// record is the on-disk shape of one paste. The id is the enclosing key.
type record struct {
	Content   string     `json:"content"`
	Created   time.Time  `json:"created"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// Encode renders pastes as a single JSON object keyed by id. Keys are
// emitted in sorted order and timestamps in RFC 3339 UTC, so equal inputs
// always give equal bytes.
func Encode(pastes []domain.Paste) ([]byte, error) {
	doc := make(map[string]record, len(pastes))
	for _, p := range pastes {
		if _, dup := doc[p.ID]; dup {
			return nil, errors.Errorf("encode: duplicate id %q", p.ID)
		}
		rec := record{Content: p.Content, Created: p.CreatedAt.UTC()}
		if p.ExpiresAt != nil {
			exp := p.ExpiresAt.UTC()
			rec.ExpiresAt = &exp
		}
		doc[p.ID] = rec
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "encode snapshot")
	}
	return append(data, '\n'), nil
}

// Decode parses a snapshot produced by Encode. Any structural problem is
// reported as domain.ErrDecode. Blank input is an empty store.
func Decode(data []byte) ([]domain.Paste, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var doc map[string]record
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrapf(domain.ErrDecode, "parse snapshot: %v", err)
	}
	if doc == nil {
		return nil, errors.Wrap(domain.ErrDecode, "snapshot is not an object")
	}
	pastes := make([]domain.Paste, 0, len(doc))
	for id, rec := range doc {
		if !util.ValidID(id) {
			return nil, errors.Wrapf(domain.ErrDecode, "invalid id %q", id)
		}
		if rec.Content == "" {
			return nil, errors.Wrapf(domain.ErrDecode, "paste %s: empty content", id)
		}
		if rec.Created.IsZero() {
			return nil, errors.Wrapf(domain.ErrDecode, "paste %s: missing created", id)
		}
		p := domain.Paste{ID: id, Content: rec.Content, CreatedAt: rec.Created.UTC()}
		if rec.ExpiresAt != nil {
			exp := rec.ExpiresAt.UTC()
			p.ExpiresAt = &exp
		}
		pastes = append(pastes, p)
	}
	return pastes, nil
}
