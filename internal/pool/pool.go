// Package pool keeps a per-group rotation of media picks so that no item
// repeats until every item of the group has been played once.
package pool

import (
	"encoding/json"
	"log/slog"
	"math/rand"
	"sync"

	"github.com/linkerlin/nanoalarm.go/internal/types"
)

// KeyPrefix is prepended to the group id to form the store key.
const KeyPrefix = "pool_"

// Store is the string blob store the pool persists into.
type Store interface {
	Get(key string) (string, bool, error)
	Put(key, value string) error
	Delete(key string) error
}

// Rand picks an index in [0, n).
type Rand interface {
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.Intn(n) }

// Pool hands out media picks without repetition within a rotation cycle.
type Pool struct {
	store  Store
	log    *slog.Logger
	locks  keyedMutex
	randMu sync.Mutex
	rand   Rand
}

// Option configures a Pool.
type Option func(*Pool)

// WithRand replaces the random source, mostly for tests.
func WithRand(r Rand) Option {
	return func(p *Pool) { p.rand = r }
}

// WithLogger sets the logger used for best-effort persistence failures.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) { p.log = l }
}

// New returns a Pool backed by store.
func New(store Store, opts ...Option) *Pool {
	p := &Pool{
		store: store,
		log:   slog.Default(),
		rand:  globalRand{},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// PickNext returns the next media identifier for groupID. mediaPaths is the
// authoritative list as currently configured; the stored rotation is
// resynced against it on every call. It returns false when mediaPaths is
// empty, in which case any stored rotation for the group is dropped.
func (p *Pool) PickNext(groupID string, mediaPaths []string) (string, bool) {
	all := types.CleanPaths(mediaPaths)

	unlock := p.locks.Lock(groupID)
	defer unlock()

	if len(all) == 0 {
		if err := p.store.Delete(key(groupID)); err != nil {
			p.log.Warn("clear empty pool", "group", groupID, "err", err)
		}
		return "", false
	}

	st := p.load(groupID).resync(all)
	if len(st.Remaining) == 0 {
		st = state{Remaining: append([]string(nil), all...)}
	}

	idx := p.intN(len(st.Remaining))
	picked := st.Remaining[idx]
	st.Remaining = append(st.Remaining[:idx], st.Remaining[idx+1:]...)
	st.Picked = append(st.Picked, picked)

	p.save(groupID, st)
	return picked, true
}

// ClearPool removes the stored rotation for groupID.
func (p *Pool) ClearPool(groupID string) error {
	unlock := p.locks.Lock(groupID)
	defer unlock()
	return p.store.Delete(key(groupID))
}

// Remaining returns the identifiers not yet picked in the current cycle.
func (p *Pool) Remaining(groupID string) ([]string, error) {
	unlock := p.locks.Lock(groupID)
	defer unlock()

	raw, ok, err := p.store.Get(key(groupID))
	if err != nil || !ok {
		return nil, err
	}
	st, err := decode(raw)
	if err != nil {
		return nil, err
	}
	return st.Remaining, nil
}

func (p *Pool) load(groupID string) state {
	raw, ok, err := p.store.Get(key(groupID))
	if err != nil {
		p.log.Warn("load pool", "group", groupID, "err", err)
		return state{}
	}
	if !ok || raw == "" {
		return state{}
	}
	st, err := decode(raw)
	if err != nil {
		p.log.Warn("decode pool, resetting", "group", groupID, "err", err)
		return state{}
	}
	return st
}

func (p *Pool) save(groupID string, st state) {
	raw, err := json.Marshal(st)
	if err == nil {
		err = p.store.Put(key(groupID), string(raw))
	}
	if err != nil {
		// The picked item may come up again next cycle.
		p.log.Warn("persist pool", "group", groupID, "err", err)
	}
}

func (p *Pool) intN(n int) int {
	p.randMu.Lock()
	defer p.randMu.Unlock()
	return p.rand.IntN(n)
}

// state is the persisted rotation of one group. Picked remembers what was
// already played this cycle so it is not mistaken for newly added media.
type state struct {
	Remaining []string `json:"remaining"`
	Picked    []string `json:"picked,omitempty"`
}

// resync drops entries that are no longer in all and appends entries of all
// the rotation has never seen.
func (s state) resync(all []string) state {
	current := make(map[string]struct{}, len(all))
	for _, m := range all {
		current[m] = struct{}{}
	}

	seen := make(map[string]struct{}, len(s.Remaining)+len(s.Picked))
	var out state
	for _, m := range s.Remaining {
		if _, ok := current[m]; !ok {
			continue
		}
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		out.Remaining = append(out.Remaining, m)
	}
	for _, m := range s.Picked {
		if _, ok := current[m]; !ok {
			continue
		}
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		out.Picked = append(out.Picked, m)
	}
	for _, m := range all {
		if _, ok := seen[m]; !ok {
			out.Remaining = append(out.Remaining, m)
		}
	}
	return out
}

// decode accepts the current object form and the legacy bare array of
// remaining identifiers.
func decode(raw string) (state, error) {
	var st state
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		var legacy []string
		if lerr := json.Unmarshal([]byte(raw), &legacy); lerr != nil {
			return state{}, err
		}
		st = state{Remaining: legacy}
	}
	st.Remaining = types.CleanPaths(st.Remaining)
	st.Picked = types.CleanPaths(st.Picked)
	return st, nil
}

func key(groupID string) string {
	return KeyPrefix + groupID
}
