package store

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"pastebox/pkg/domain"
	"pastebox/svc/util"
)

const testDelay = 2 * time.Second

func openTestStore(t *testing.T, clock *fakeClock, path string, ids ...string) *Store {
	t.Helper()
	opts := Options{
		Path:          path,
		FlushDelay:    testDelay,
		SweepInterval: -1,
		Clock:         clock,
	}
	if len(ids) > 0 {
		var mu sync.Mutex
		next := 0
		opts.NewID = func() string {
			mu.Lock()
			defer mu.Unlock()
			id := ids[next%len(ids)]
			next++
			return id
		}
	}
	s, err := Open(context.Background(), opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func snapshotPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "pastes.json")
}

func readSnapshot(t *testing.T, path string) map[string]domain.Paste {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	pastes, err := Decode(data)
	if err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	out := make(map[string]domain.Paste, len(pastes))
	for _, p := range pastes {
		out[p.ID] = p
	}
	return out
}

func TestCreateThenGet(t *testing.T) {
	clock := newFakeClock()
	s := openTestStore(t, clock, snapshotPath(t))
	defer s.Close()

	for _, content := range []string{"a", "hello", "unicode ✓ 日本", strings.Repeat("x", 10000)} {
		p, err := s.Create(domain.CreateParams{Content: content})
		if err != nil {
			t.Fatalf("Create(%q): %v", content[:1], err)
		}
		if !util.ValidID(p.ID) {
			t.Fatalf("id %q is not 6 chars of [a-z0-9]", p.ID)
		}
		got, err := s.Get(p.ID)
		if err != nil {
			t.Fatalf("Get(%s): %v", p.ID, err)
		}
		if got.Content != content {
			t.Errorf("content mismatch for %s", p.ID)
		}
		if got.CreatedAt.After(clock.Now()) {
			t.Errorf("createdAt %v is after now %v", got.CreatedAt, clock.Now())
		}
		if got.ExpiresAt != nil {
			t.Errorf("unexpected expiry %v", got.ExpiresAt)
		}
	}
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	s, err := Open(context.Background(), Options{
		Path:          snapshotPath(t),
		SweepInterval: -1,
		MaxPasteSize:  8,
		Clock:         newFakeClock(),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	neg := -time.Minute
	tests := []struct {
		name   string
		params domain.CreateParams
		want   error
	}{
		{"empty", domain.CreateParams{Content: ""}, domain.ErrContentRequired},
		{"too large", domain.CreateParams{Content: "123456789"}, domain.ErrPasteTooLarge},
		{"negative ttl", domain.CreateParams{Content: "x", TTL: &neg}, domain.ErrInvalidTTL},
	}
	for _, tt := range tests {
		_, err := s.Create(tt.params)
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: err = %v, want %v", tt.name, err, tt.want)
		}
		if !domain.IsInvalidInput(err) {
			t.Errorf("%s: not classified as invalid input", tt.name)
		}
	}
	if s.Len() != 0 {
		t.Fatalf("rejected creates left %d pastes", s.Len())
	}
	if s.Stats().Flush.Pending {
		t.Fatal("rejected creates scheduled a flush")
	}
}

func TestGetUnknownID(t *testing.T) {
	s := openTestStore(t, newFakeClock(), snapshotPath(t))
	defer s.Close()
	for _, id := range []string{"zzzzzz", "", "ab12cd", "../etc"} {
		if _, err := s.Get(id); !errors.Is(err, domain.ErrPasteNotFound) {
			t.Errorf("Get(%q) err = %v, want not found", id, err)
		}
	}
}

func TestZeroTTLIsAlreadyExpired(t *testing.T) {
	s := openTestStore(t, newFakeClock(), snapshotPath(t))
	defer s.Close()
	p, err := s.Create(domain.CreateParams{Content: "bye", TTL: domain.TTLHours(0)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(p.ID); !errors.Is(err, domain.ErrPasteNotFound) {
		t.Fatalf("Get on zero-ttl paste: %v, want not found", err)
	}
}

func TestExpiredHiddenBeforeSweep(t *testing.T) {
	clock := newFakeClock()
	s := openTestStore(t, clock, snapshotPath(t))
	defer s.Close()

	p, err := s.Create(domain.CreateParams{Content: "short lived", TTL: domain.TTLHours(1)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(p.ID); err != nil {
		t.Fatalf("fresh paste not readable: %v", err)
	}
	clock.Advance(time.Hour)
	if _, err := s.Get(p.ID); !errors.Is(err, domain.ErrPasteNotFound) {
		t.Fatalf("expired paste returned: %v", err)
	}
	for range s.ListRecent() {
		t.Fatal("expired paste listed")
	}
	if s.Len() != 1 {
		t.Fatalf("paste evicted before sweep, len=%d", s.Len())
	}
	if n := s.Sweep(); n != 1 {
		t.Fatalf("Sweep evicted %d, want 1", n)
	}
	if s.Len() != 0 {
		t.Fatal("paste still present after sweep")
	}
}

func TestCreateRetriesOnCollision(t *testing.T) {
	clock := newFakeClock()
	s := openTestStore(t, clock, snapshotPath(t), "aaaaaa", "aaaaaa", "aaaaaa", "bbbbbb")
	defer s.Close()

	first, err := s.Create(domain.CreateParams{Content: "one"})
	if err != nil || first.ID != "aaaaaa" {
		t.Fatalf("first = %+v, %v", first, err)
	}
	second, err := s.Create(domain.CreateParams{Content: "two"})
	if err != nil {
		t.Fatal(err)
	}
	if second.ID != "bbbbbb" {
		t.Fatalf("second id = %q, want bbbbbb", second.ID)
	}
	got, _ := s.Get("aaaaaa")
	if got.Content != "one" {
		t.Fatal("collision overwrote the existing paste")
	}
}

func TestCreateGivesUpAfterMaxAttempts(t *testing.T) {
	s, err := Open(context.Background(), Options{
		Path:          snapshotPath(t),
		SweepInterval: -1,
		MaxIDAttempts: 3,
		Clock:         newFakeClock(),
		NewID:         func() string { return "cccccc" },
	})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if _, err := s.Create(domain.CreateParams{Content: "x"}); err != nil {
		t.Fatal(err)
	}
	_, err = s.Create(domain.CreateParams{Content: "y"})
	if !errors.Is(err, domain.ErrIDGenerationFailed) {
		t.Fatalf("err = %v, want ErrIDGenerationFailed", err)
	}
}

func TestListRecentOrderAndRestart(t *testing.T) {
	clock := newFakeClock()
	s := openTestStore(t, clock, snapshotPath(t), "aaaaaa", "bbbbbb", "cccccc", "dddddd")
	defer s.Close()

	for _, c := range []string{"oldest", "middle", "newest"} {
		if _, err := s.Create(domain.CreateParams{Content: c}); err != nil {
			t.Fatal(err)
		}
		clock.Advance(time.Minute)
	}
	if _, err := s.Create(domain.CreateParams{Content: "gone", TTL: domain.TTLHours(0)}); err != nil {
		t.Fatal(err)
	}

	collect := func() []string {
		var out []string
		for p := range s.ListRecent() {
			out = append(out, p.Content)
		}
		return out
	}
	want := "newest,middle,oldest"
	if got := strings.Join(collect(), ","); got != want {
		t.Fatalf("ListRecent = %s, want %s", got, want)
	}
	if got := strings.Join(collect(), ","); got != want {
		t.Fatalf("second pass = %s, want %s", got, want)
	}

	n := 0
	for range s.ListRecent() {
		n++
		if n == 1 {
			break
		}
	}
	if n != 1 {
		t.Fatalf("early break yielded %d", n)
	}
}

func TestListRecentTieBreaksByID(t *testing.T) {
	s := openTestStore(t, newFakeClock(), snapshotPath(t), "cccccc", "aaaaaa", "bbbbbb")
	defer s.Close()
	for i := 0; i < 3; i++ {
		if _, err := s.Create(domain.CreateParams{Content: "same instant"}); err != nil {
			t.Fatal(err)
		}
	}
	var ids []string
	for p := range s.ListRecent() {
		ids = append(ids, p.ID)
	}
	if got := strings.Join(ids, ","); got != "aaaaaa,bbbbbb,cccccc" {
		t.Fatalf("order = %s", got)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	clock := newFakeClock()
	path := snapshotPath(t)
	s := openTestStore(t, clock, path)
	defer s.Close()

	if s.Delete("nothing") {
		t.Fatal("Delete of absent id reported removal")
	}
	if s.Stats().Flush.Pending {
		t.Fatal("no-op delete scheduled a flush")
	}

	p, _ := s.Create(domain.CreateParams{Content: "doomed"})
	clock.Advance(testDelay)
	if !s.Delete(p.ID) {
		t.Fatal("Delete reported nothing removed")
	}
	if !s.Stats().Flush.Pending {
		t.Fatal("delete did not schedule a flush")
	}
	if s.Delete(p.ID) {
		t.Fatal("second Delete reported removal")
	}
	if _, err := s.Get(p.ID); !errors.Is(err, domain.ErrPasteNotFound) {
		t.Fatal("deleted paste still readable")
	}
	clock.Advance(testDelay)
	if _, ok := readSnapshot(t, path)[p.ID]; ok {
		t.Fatal("deleted paste still on disk")
	}
}

func TestReturnedPasteIsACopy(t *testing.T) {
	s := openTestStore(t, newFakeClock(), snapshotPath(t))
	defer s.Close()
	p, _ := s.Create(domain.CreateParams{Content: "x", TTL: domain.TTLHours(1)})
	*p.ExpiresAt = p.ExpiresAt.Add(-24 * time.Hour)
	p.Content = "mutated"
	got, err := s.Get(p.ID)
	if err != nil {
		t.Fatalf("caller mutation leaked into the store: %v", err)
	}
	if got.Content != "x" {
		t.Fatal("content mutated through returned pointer")
	}
}

func TestHelloScenarioPersistsAfterDebounce(t *testing.T) {
	clock := newFakeClock()
	path := snapshotPath(t)
	s := openTestStore(t, clock, path, "ab12cd")
	defer s.Close()

	p, err := s.Create(domain.CreateParams{Content: "hello"})
	if err != nil {
		t.Fatal(err)
	}
	if p.ID != "ab12cd" {
		t.Fatalf("id = %q", p.ID)
	}
	got, err := s.Get("ab12cd")
	if err != nil || got.Content != "hello" || got.ExpiresAt != nil {
		t.Fatalf("Get = %+v, %v", got, err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("snapshot written before the debounce interval")
	}
	clock.Advance(testDelay)
	disk := readSnapshot(t, path)
	if disk["ab12cd"].Content != "hello" {
		t.Fatalf("snapshot = %+v", disk)
	}
}

func TestBurstOfCreatesFlushesOnce(t *testing.T) {
	clock := newFakeClock()
	path := snapshotPath(t)
	s := openTestStore(t, clock, path)
	defer s.Close()

	const n = 25
	var last string
	for i := 0; i < n; i++ {
		p, err := s.Create(domain.CreateParams{Content: fmt.Sprintf("paste %d", i)})
		if err != nil {
			t.Fatal(err)
		}
		last = p.ID
		clock.Advance(testDelay / 10)
	}
	if st := s.Stats().Flush; st.Flushes != 0 {
		t.Fatalf("flushed %d times during burst", st.Flushes)
	}
	clock.Advance(testDelay)
	if st := s.Stats().Flush; st.Flushes != 1 {
		t.Fatalf("flushes = %d, want 1", st.Flushes)
	}
	disk := readSnapshot(t, path)
	if len(disk) != n {
		t.Fatalf("snapshot has %d pastes, want %d", len(disk), n)
	}
	if disk[last].Content != fmt.Sprintf("paste %d", n-1) {
		t.Fatal("final state missing from snapshot")
	}
}

func TestReopenRestoresState(t *testing.T) {
	clock := newFakeClock()
	path := snapshotPath(t)
	s := openTestStore(t, clock, path)

	keep, _ := s.Create(domain.CreateParams{Content: "survivor", TTL: domain.TTLHours(48)})
	forever, _ := s.Create(domain.CreateParams{Content: "forever"})
	soon, _ := s.Create(domain.CreateParams{Content: "soon gone", TTL: domain.TTLHours(1)})
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Create(domain.CreateParams{Content: "late"}); !errors.Is(err, domain.ErrStoreClosed) {
		t.Fatalf("create after close: %v", err)
	}

	clock.Advance(2 * time.Hour)
	s2 := openTestStore(t, clock, path)
	defer s2.Close()

	got, err := s2.Get(keep.ID)
	if err != nil || got.Content != "survivor" || !got.CreatedAt.Equal(keep.CreatedAt) || !got.ExpiresAt.Equal(*keep.ExpiresAt) {
		t.Fatalf("survivor = %+v, %v", got, err)
	}
	if _, err := s2.Get(forever.ID); err != nil {
		t.Fatal(err)
	}
	if s2.Len() != 2 {
		t.Fatalf("len = %d, want 2 (expired paste dropped on load)", s2.Len())
	}
	if !s2.Stats().Flush.Pending {
		t.Fatal("dropping expired pastes on load should schedule a flush")
	}
	clock.Advance(testDelay)
	if _, ok := readSnapshot(t, path)[soon.ID]; ok {
		t.Fatal("expired paste still on disk after load-time eviction")
	}
}

func TestCorruptSnapshotStartsEmpty(t *testing.T) {
	clock := newFakeClock()
	path := snapshotPath(t)
	garbage := []byte("{not json")
	if err := os.WriteFile(path, garbage, 0o600); err != nil {
		t.Fatal(err)
	}
	s := openTestStore(t, clock, path)
	defer s.Close()
	if s.Len() != 0 {
		t.Fatalf("len = %d", s.Len())
	}
	matches, _ := filepath.Glob(path + ".corrupt-*")
	if len(matches) != 1 {
		t.Fatalf("quarantined files = %v", matches)
	}
	if got, _ := os.ReadFile(matches[0]); !bytes.Equal(got, garbage) {
		t.Fatal("quarantined file altered")
	}
	if _, err := s.Create(domain.CreateParams{Content: "fresh start"}); err != nil {
		t.Fatal(err)
	}
	clock.Advance(testDelay)
	if len(readSnapshot(t, path)) != 1 {
		t.Fatal("new snapshot not written")
	}
}

func TestCrashBeforeRenameLeavesSnapshotIntact(t *testing.T) {
	clock := newFakeClock()
	path := snapshotPath(t)
	s := openTestStore(t, clock, path)
	if _, err := s.Create(domain.CreateParams{Content: "committed"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Flush(); err != nil {
		t.Fatal(err)
	}
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	renameFile = func(string, string) error { return errors.New("killed") }
	if _, err := s.Create(domain.CreateParams{Content: "lost in crash"}); err != nil {
		t.Fatal(err)
	}
	clock.Advance(testDelay)
	renameFile = os.Rename

	st := s.Stats().Flush
	if !errors.Is(st.LastErr, domain.ErrWrite) || !st.Dirty {
		t.Fatalf("flush status after failed rename: %+v", st)
	}
	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(before, after) {
		t.Fatal("snapshot changed although rename never happened")
	}

	// a stray temp file from a killed process must not be picked up
	stray := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp-999")
	if err := os.WriteFile(stray, []byte("half written"), 0o600); err != nil {
		t.Fatal(err)
	}
	s2 := openTestStore(t, clock, path)
	defer s2.Close()
	if s2.Len() != 1 {
		t.Fatalf("restart sees %d pastes, want 1", s2.Len())
	}
	// the live process still serves the unflushed paste and retries on close
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if len(readSnapshot(t, path)) != 2 {
		t.Fatal("close did not retry the failed flush")
	}
}

func TestConcurrentOperations(t *testing.T) {
	path := snapshotPath(t)
	s, err := Open(context.Background(), Options{
		Path:          path,
		FlushDelay:    time.Millisecond,
		SweepInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		kept    = make(map[string]string)
		deleted = make(map[string]bool)
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				content := fmt.Sprintf("w%d-%d", w, i)
				p, err := s.Create(domain.CreateParams{Content: content})
				if err != nil {
					t.Errorf("Create: %v", err)
					return
				}
				if _, err := s.Create(domain.CreateParams{Content: "ephemeral", TTL: domain.TTLHours(0)}); err != nil {
					t.Errorf("Create: %v", err)
					return
				}
				if got, err := s.Get(p.ID); err != nil || got.Content != content {
					t.Errorf("Get(%s) = %v, %v", p.ID, got, err)
				}
				for range s.ListRecent() {
				}
				mu.Lock()
				if i%5 == 0 {
					deleted[p.ID] = true
				} else {
					kept[p.ID] = content
				}
				mu.Unlock()
				if i%5 == 0 {
					s.Delete(p.ID)
				}
				if i%10 == 0 {
					_ = s.Flush()
				}
			}
		}(w)
	}
	wg.Wait()
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	disk := readSnapshot(t, path)
	for id, content := range kept {
		if disk[id].Content != content {
			t.Errorf("paste %s missing from final snapshot", id)
		}
	}
	for id := range deleted {
		if _, ok := disk[id]; ok {
			t.Errorf("deleted paste %s persisted", id)
		}
	}
}

func TestBackgroundSweeperEvicts(t *testing.T) {
	s, err := Open(context.Background(), Options{
		Path:          snapshotPath(t),
		FlushDelay:    time.Millisecond,
		SweepInterval: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if _, err := s.Create(domain.CreateParams{Content: "tick", TTL: domain.TTLHours(0)}); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for s.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("sweeper never evicted the expired paste")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(context.Background(), Options{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}
