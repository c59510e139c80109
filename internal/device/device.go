// Package device reports host state the alarm presentation depends on.
package device

import (
	"log/slog"
	"sync/atomic"

	"github.com/spf13/afero"
)

// Static is a lock state fixed by configuration. It can be flipped at
// runtime, e.g. by a screen-saver hook.
type Static struct {
	locked atomic.Bool
}

func NewStatic(locked bool) *Static {
	s := &Static{}
	s.locked.Store(locked)
	return s
}

func (s *Static) Locked() bool { return s.locked.Load() }

func (s *Static) SetLocked(v bool) { s.locked.Store(v) }

// LockFile reports the device as locked while a marker file exists. Screen
// lockers can create and remove it from their hooks.
type LockFile struct {
	Fs   afero.Fs
	Path string
	Log  *slog.Logger
}

func (l LockFile) Locked() bool {
	ok, err := afero.Exists(l.Fs, l.Path)
	if err != nil {
		log := l.Log
		if log == nil {
			log = slog.Default()
		}
		log.Warn("probe lock file", "path", l.Path, "err", err)
		return false
	}
	return ok
}
