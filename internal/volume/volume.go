// Package volume maps the alarm volume between percent and mixer steps.
package volume

import (
	"fmt"
	"math"
	"strconv"
	"sync"
)

// DefaultMaxLevel matches the step count of a typical alarm stream.
const DefaultMaxLevel = 7

// StoreKey is the blob store key holding the stored level.
const StoreKey = "volume_level"

// Mixer is a stepped volume control.
type Mixer interface {
	MaxLevel() int
	Level() (int, error)
	SetLevel(level int) error
}

// LevelFor converts percent (clamped to 0..100) to a level in 0..max.
func LevelFor(percent, max int) int {
	if max <= 0 {
		return 0
	}
	p := clamp(percent, 0, 100)
	return clamp(int(math.Round(float64(max)*float64(p)/100)), 0, max)
}

// PercentFor converts a level to a percent in 0..100. It is 0 when max is 0.
func PercentFor(level, max int) int {
	if max <= 0 {
		return 0
	}
	return clamp(int(math.Round(float64(level)*100/float64(max))), 0, 100)
}

// SetPercent sets the mixer to the level closest to percent.
func SetPercent(m Mixer, percent int) error {
	if err := m.SetLevel(LevelFor(percent, m.MaxLevel())); err != nil {
		return fmt.Errorf("set alarm volume: %w", err)
	}
	return nil
}

// Percent reads the mixer level as a percent.
func Percent(m Mixer) (int, error) {
	level, err := m.Level()
	if err != nil {
		return 0, fmt.Errorf("get alarm volume: %w", err)
	}
	return PercentFor(level, m.MaxLevel()), nil
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}

// Store is the blob store StoredMixer keeps its level in.
type Store interface {
	Get(key string) (string, bool, error)
	Put(key, value string) error
}

// StoredMixer is a software mixer whose level lives in a blob store. The
// level starts at the maximum until first set.
type StoredMixer struct {
	mu    sync.Mutex
	store Store
	max   int
}

func NewStoredMixer(store Store, maxLevel int) *StoredMixer {
	if maxLevel < 0 {
		maxLevel = 0
	}
	return &StoredMixer{store: store, max: maxLevel}
}

func (m *StoredMixer) MaxLevel() int { return m.max }

func (m *StoredMixer) Level() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok, err := m.store.Get(StoreKey)
	if err != nil {
		return 0, err
	}
	if !ok {
		return m.max, nil
	}
	level, err := strconv.Atoi(raw)
	if err != nil {
		return m.max, nil
	}
	return clamp(level, 0, m.max), nil
}

func (m *StoredMixer) SetLevel(level int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Put(StoreKey, strconv.Itoa(clamp(level, 0, m.max)))
}
