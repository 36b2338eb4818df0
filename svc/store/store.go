package store

import (
	"context"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"

	"pastebox/metrics"
	"pastebox/pkg/domain"
	"pastebox/svc/util"
)

const (
	DefaultFlushDelay    = 2 * time.Second
	DefaultSweepInterval = time.Hour
	DefaultMaxIDAttempts = 10
)

type Options struct {
	Path string
	// FlushDelay is the debounce quiet period before a snapshot is written.
	FlushDelay time.Duration
	// SweepInterval is the expiration sweep period. Negative disables the
	// background sweeper; EvictExpired can still be called directly.
	SweepInterval time.Duration
	MaxIDAttempts int
	// MaxPasteSize caps content length in bytes; zero means unlimited.
	MaxPasteSize int
	Clock        Clock
	NewID        func() string
}

// Store is the authoritative in-memory index of pastes. Every mutation goes
// through mu and schedules a debounced snapshot of the whole index.
type Store struct {
	clock       Clock
	newID       func() string
	maxAttempts int
	maxSize     int
	writer      *FileWriter
	flusher     *Flusher
	sweeper     *Sweeper

	mu     sync.RWMutex
	pastes map[string]domain.Paste
	closed bool
}

type Stats struct {
	Pastes int
	Flush  FlushStatus
}

// Open loads the snapshot at opts.Path and starts the expiration sweeper. A
// missing snapshot is an empty store; an unreadable one is moved aside and
// the store starts empty.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Path == "" {
		return nil, errors.New("store path is required")
	}
	if opts.FlushDelay <= 0 {
		opts.FlushDelay = DefaultFlushDelay
	}
	if opts.SweepInterval == 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.MaxIDAttempts <= 0 {
		opts.MaxIDAttempts = DefaultMaxIDAttempts
	}
	if opts.Clock == nil {
		opts.Clock = RealClock
	}
	if opts.NewID == nil {
		opts.NewID = util.NewID
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create storage dir")
	}
	s := &Store{
		clock:       opts.Clock,
		newID:       opts.NewID,
		maxAttempts: opts.MaxIDAttempts,
		maxSize:     opts.MaxPasteSize,
		writer:      NewFileWriter(opts.Path),
		pastes:      make(map[string]domain.Paste),
	}
	s.flusher = NewFlusher(opts.Clock, opts.FlushDelay, s.persist)
	s.sweeper = NewSweeper(opts.SweepInterval, s.EvictExpired)
	s.load()
	if opts.SweepInterval > 0 {
		s.sweeper.Start(ctx)
	}
	return s, nil
}

func (s *Store) load() {
	log := util.Component("store")
	path := s.writer.Path()
	data, err := s.writer.ReadSnapshot()
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("snapshot unreadable, starting empty")
		return
	}
	pastes, err := Decode(data)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("snapshot malformed, starting empty")
		suffix := strconv.FormatInt(s.clock.Now().Unix(), 10)
		if dst, qerr := s.writer.Quarantine(suffix); qerr != nil {
			log.Warn().Err(qerr).Msg("could not move malformed snapshot aside")
		} else {
			log.Warn().Str("moved_to", dst).Msg("malformed snapshot preserved")
		}
		return
	}
	now := s.clock.Now()
	dropped := 0
	for _, p := range pastes {
		if p.Expired(now) {
			dropped++
			continue
		}
		s.pastes[p.ID] = p
	}
	metrics.LivePastes.Set(float64(len(s.pastes)))
	log.Info().Int("pastes", len(s.pastes)).Int("expired", dropped).Str("path", path).Msg("snapshot loaded")
	if dropped > 0 {
		s.markDirty()
	}
}

func (s *Store) Create(params domain.CreateParams) (*domain.Paste, error) {
	if params.Content == "" {
		return nil, domain.ErrContentRequired
	}
	if s.maxSize > 0 && len(params.Content) > s.maxSize {
		return nil, domain.ErrPasteTooLarge
	}
	if params.TTL != nil && *params.TTL < 0 {
		return nil, domain.ErrInvalidTTL
	}
	now := s.clock.Now().UTC()
	p := domain.Paste{Content: params.Content, CreatedAt: now}
	if params.TTL != nil {
		exp := now.Add(*params.TTL)
		p.ExpiresAt = &exp
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, domain.ErrStoreClosed
	}
	id, err := util.GenID(s.newID, s.taken, s.maxAttempts)
	if err != nil {
		s.mu.Unlock()
		return nil, errors.Wrap(domain.ErrIDGenerationFailed, err.Error())
	}
	p.ID = id
	s.pastes[id] = p
	n := len(s.pastes)
	s.mu.Unlock()

	metrics.PasteCreated.Inc()
	metrics.LivePastes.Set(float64(n))
	s.markDirty()
	return clonePaste(p), nil
}

// taken must be called with mu held. An expired paste that has not been
// swept still owns its id.
func (s *Store) taken(id string) bool {
	_, ok := s.pastes[id]
	if ok {
		metrics.IDCollisions.Inc()
	}
	return ok
}

// Get returns domain.ErrPasteNotFound for unknown ids and for pastes whose
// expiry has passed, whether or not they have been swept yet.
func (s *Store) Get(id string) (*domain.Paste, error) {
	s.mu.RLock()
	p, ok := s.pastes[id]
	s.mu.RUnlock()
	if !ok || p.Expired(s.clock.Now()) {
		metrics.PasteMisses.Inc()
		return nil, domain.ErrPasteNotFound
	}
	metrics.PasteRetrieved.Inc()
	return clonePaste(p), nil
}

// ListRecent yields live pastes newest first. Each iteration takes a fresh
// snapshot of the index, so the sequence can be ranged over repeatedly.
func (s *Store) ListRecent() iter.Seq[domain.Paste] {
	return func(yield func(domain.Paste) bool) {
		for _, p := range s.live() {
			if !yield(p) {
				return
			}
		}
	}
}

func (s *Store) live() []domain.Paste {
	now := s.clock.Now()
	s.mu.RLock()
	out := make([]domain.Paste, 0, len(s.pastes))
	for _, p := range s.pastes {
		if !p.Expired(now) {
			out = append(out, *clonePaste(p))
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Delete removes id if present and reports whether anything was removed.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	_, ok := s.pastes[id]
	if ok {
		delete(s.pastes, id)
	}
	n := len(s.pastes)
	s.mu.Unlock()
	if !ok {
		return false
	}
	metrics.PasteDeleted.Inc()
	metrics.LivePastes.Set(float64(n))
	s.markDirty()
	return true
}

// EvictExpired removes every paste whose expiry is at or before now.
func (s *Store) EvictExpired() int {
	now := s.clock.Now()
	s.mu.Lock()
	evicted := 0
	for id, p := range s.pastes {
		if p.Expired(now) {
			delete(s.pastes, id)
			evicted++
		}
	}
	n := len(s.pastes)
	s.mu.Unlock()
	if evicted > 0 {
		metrics.LivePastes.Set(float64(n))
		s.markDirty()
	}
	return evicted
}

// Sweep runs one expiration pass through the sweeper, with its logging and
// metrics.
func (s *Store) Sweep() int {
	return s.sweeper.Sweep()
}

func (s *Store) markDirty() {
	s.flusher.Mark()
}

// persist is the flush function: copy under the read lock, encode and write
// outside it.
func (s *Store) persist() error {
	s.mu.RLock()
	pastes := make([]domain.Paste, 0, len(s.pastes))
	for _, p := range s.pastes {
		pastes = append(pastes, p)
	}
	s.mu.RUnlock()

	data, err := Encode(pastes)
	if err != nil {
		return err
	}
	if err := s.writer.WriteSnapshot(data); err != nil {
		return err
	}
	metrics.SnapshotBytes.Set(float64(len(data)))
	return nil
}

// Flush writes the current state immediately, cancelling a pending debounce.
func (s *Store) Flush() error {
	return s.flusher.Flush()
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pastes)
}

func (s *Store) Stats() Stats {
	return Stats{Pastes: s.Len(), Flush: s.flusher.Status()}
}

// Close stops the sweeper, rejects further creates and makes a final flush
// if anything is unwritten.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.sweeper.Stop()
	if err := s.flusher.Close(); err != nil {
		return errors.Wrap(err, "final flush")
	}
	return nil
}

func clonePaste(p domain.Paste) *domain.Paste {
	if p.ExpiresAt != nil {
		exp := *p.ExpiresAt
		p.ExpiresAt = &exp
	}
	return &p
}
