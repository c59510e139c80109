package pool

import (
	"errors"
	"math/rand"
	"reflect"
	"sort"
	"sync"
	"testing"

	"github.com/linkerlin/nanoalarm.go/internal/db"
)

// firstRand always picks index 0 and records the sizes it was asked for.
type firstRand struct {
	mu    sync.Mutex
	sizes []int
}

func (r *firstRand) IntN(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sizes = append(r.sizes, n)
	return 0
}

type failingStore struct {
	*MemoryStore
	failPut bool
	failGet bool
}

func (s *failingStore) Put(key, value string) error {
	if s.failPut {
		return errors.New("disk full")
	}
	return s.MemoryStore.Put(key, value)
}

func (s *failingStore) Get(key string) (string, bool, error) {
	if s.failGet {
		return "", false, errors.New("io error")
	}
	return s.MemoryStore.Get(key)
}

func TestPickNext_NoRepeatWithinCycle(t *testing.T) {
	p := New(NewMemoryStore(), WithRand(seededRand{rand.New(rand.NewSource(1))}))
	media := []string{"A", "B", "C"}

	for cycle := 0; cycle < 20; cycle++ {
		var got []string
		for i := 0; i < 3; i++ {
			m, ok := p.PickNext("g", media)
			if !ok {
				t.Fatal("PickNext returned none for non-empty pool")
			}
			got = append(got, m)
		}
		sort.Strings(got)
		if !reflect.DeepEqual(got, media) {
			t.Fatalf("cycle %d picks = %v, want a permutation of %v", cycle, got, media)
		}
	}
}

func TestPickNext_FourthPickResets(t *testing.T) {
	r := &firstRand{}
	p := New(NewMemoryStore(), WithRand(r))
	media := []string{"A", "B", "C"}

	var got []string
	for i := 0; i < 4; i++ {
		m, _ := p.PickNext("g", media)
		got = append(got, m)
	}
	if want := []string{"A", "B", "C", "A"}; !reflect.DeepEqual(got, want) {
		t.Errorf("picks = %v, want %v", got, want)
	}
	if want := []int{3, 2, 1, 3}; !reflect.DeepEqual(r.sizes, want) {
		t.Errorf("pool sizes = %v, want %v", r.sizes, want)
	}
}

func TestPickNext_ResyncDropsAndAdds(t *testing.T) {
	r := &firstRand{}
	p := New(NewMemoryStore(), WithRand(r))

	if m, _ := p.PickNext("g", []string{"A", "B", "C"}); m != "A" {
		t.Fatalf("first pick = %q, want A", m)
	}
	rem, err := p.Remaining("g")
	if err != nil {
		t.Fatalf("Remaining: %v", err)
	}
	if want := []string{"B", "C"}; !reflect.DeepEqual(rem, want) {
		t.Fatalf("remaining = %v, want %v", rem, want)
	}

	m, ok := p.PickNext("g", []string{"B", "D"})
	if !ok {
		t.Fatal("expected a pick")
	}
	if got := r.sizes[len(r.sizes)-1]; got != 2 {
		t.Errorf("resynced pool size = %d, want 2 ({B, D})", got)
	}
	if m != "B" {
		t.Errorf("pick = %q, want B", m)
	}
	rem, _ = p.Remaining("g")
	if want := []string{"D"}; !reflect.DeepEqual(rem, want) {
		t.Errorf("remaining = %v, want %v", rem, want)
	}
}

func TestPickNext_ShrinkBelowPickedResets(t *testing.T) {
	r := &firstRand{}
	p := New(NewMemoryStore(), WithRand(r))
	p.PickNext("g", []string{"A", "B", "C"})
	p.PickNext("g", []string{"A", "B", "C"})

	// Only C was left; the list now holds A and B, both already played.
	m, ok := p.PickNext("g", []string{"A", "B"})
	if !ok {
		t.Fatal("expected a pick")
	}
	if m != "A" {
		t.Errorf("pick = %q, want A after natural reset", m)
	}
	if got := r.sizes[len(r.sizes)-1]; got != 2 {
		t.Errorf("pool size = %d, want full reset to 2", got)
	}
}

func TestPickNext_EmptyClearsState(t *testing.T) {
	store := NewMemoryStore()
	p := New(store)

	p.PickNext("g", []string{"A", "B"})
	if _, ok, _ := store.Get(KeyPrefix + "g"); !ok {
		t.Fatal("expected stored pool after a pick")
	}

	if m, ok := p.PickNext("g", nil); ok {
		t.Errorf("PickNext(empty) = %q, want none", m)
	}
	if _, ok, _ := store.Get(KeyPrefix + "g"); ok {
		t.Error("stored pool not cleared for empty media list")
	}

	if _, ok := p.PickNext("g", []string{"", "  "}); ok {
		t.Error("blank entries must count as empty")
	}
}

func TestPickNext_SingleItemRepeats(t *testing.T) {
	p := New(NewMemoryStore())
	for i := 0; i < 3; i++ {
		if m, ok := p.PickNext("solo", []string{"only.mp3"}); !ok || m != "only.mp3" {
			t.Fatalf("pick %d = (%q, %v)", i, m, ok)
		}
	}
}

func TestPickNext_GroupsAreIndependent(t *testing.T) {
	r := &firstRand{}
	p := New(NewMemoryStore(), WithRand(r))
	p.PickNext("a", []string{"X", "Y"})

	if m, _ := p.PickNext("b", []string{"X", "Y"}); m != "X" {
		t.Errorf("group b first pick = %q, want X", m)
	}
	if m, _ := p.PickNext("a", []string{"X", "Y"}); m != "Y" {
		t.Errorf("group a second pick = %q, want Y", m)
	}
}

func TestPickNext_EmptyGroupID(t *testing.T) {
	store := NewMemoryStore()
	p := New(store)
	if _, ok := p.PickNext("", []string{"A"}); !ok {
		t.Fatal("empty group id must be valid")
	}
	if _, ok, _ := store.Get(KeyPrefix); !ok {
		t.Error("expected state under bare prefix key")
	}
}

func TestPickNext_PersistFailureIsBestEffort(t *testing.T) {
	store := &failingStore{MemoryStore: NewMemoryStore(), failPut: true}
	p := New(store)
	if _, ok := p.PickNext("g", []string{"A", "B"}); !ok {
		t.Fatal("pick must succeed even when persisting fails")
	}

	store.failPut = false
	store.failGet = true
	if _, ok := p.PickNext("g", []string{"A", "B"}); !ok {
		t.Fatal("pick must succeed even when loading fails")
	}
}

func TestPickNext_LegacyArrayState(t *testing.T) {
	store := NewMemoryStore()
	store.Put(KeyPrefix+"g", `["B","C"]`)
	r := &firstRand{}
	p := New(store, WithRand(r))

	m, ok := p.PickNext("g", []string{"B", "C"})
	if !ok || m != "B" {
		t.Errorf("pick = (%q, %v), want B", m, ok)
	}
}

func TestPickNext_CorruptStateResets(t *testing.T) {
	store := NewMemoryStore()
	store.Put(KeyPrefix+"g", `{not json`)
	p := New(store)
	if _, ok := p.PickNext("g", []string{"A"}); !ok {
		t.Fatal("corrupt state should reset, not fail")
	}
}

func TestPickNext_ConcurrentSameGroup(t *testing.T) {
	p := New(NewMemoryStore())
	media := make([]string, 50)
	for i := range media {
		media[i] = string(rune('a'+i%26)) + string(rune('A'+i/26))
	}

	var mu sync.Mutex
	seen := map[string]int{}
	var wg sync.WaitGroup
	for i := 0; i < len(media); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, ok := p.PickNext("shared", media)
			if !ok {
				t.Error("unexpected empty pick")
				return
			}
			mu.Lock()
			seen[m]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != len(media) {
		t.Errorf("got %d distinct picks from %d concurrent calls, want %d", len(seen), len(media), len(media))
	}
	for m, n := range seen {
		if n != 1 {
			t.Errorf("%q picked %d times in one cycle", m, n)
		}
	}
}

func TestClearPool(t *testing.T) {
	store := NewMemoryStore()
	p := New(store)
	p.PickNext("g", []string{"A", "B"})

	if err := p.ClearPool("g"); err != nil {
		t.Fatalf("ClearPool: %v", err)
	}
	if rem, _ := p.Remaining("g"); rem != nil {
		t.Errorf("remaining after clear = %v, want nil", rem)
	}
	if err := p.ClearPool("missing"); err != nil {
		t.Errorf("ClearPool on missing group = %v, want nil", err)
	}
}

func TestPool_SQLiteStore(t *testing.T) {
	d, err := db.Open(t.TempDir() + "/pool.db")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	r := &firstRand{}
	p := New(d, WithRand(r))
	p.PickNext("g", []string{"A", "B", "C"})

	// A fresh Pool over the same store continues the cycle.
	p2 := New(d, WithRand(&firstRand{}))
	if m, _ := p2.PickNext("g", []string{"A", "B", "C"}); m != "B" {
		t.Errorf("pick after reopen = %q, want B", m)
	}
}

// seededRand adapts math/rand's *rand.Rand to the Rand interface.
type seededRand struct{ *rand.Rand }

func (r seededRand) IntN(n int) int { return r.Intn(n) }
