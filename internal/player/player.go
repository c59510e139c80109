// Package player plays alarm media by running an external audio command.
package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/linkerlin/nanoalarm.go/internal/volume"
)

// Command template placeholders.
const (
	Placeholder       = "{media}"
	VolumePlaceholder = "{volume}"
)

var (
	// ErrMediaNotFound is returned when a local media file does not exist.
	ErrMediaNotFound = errors.New("media not found")

	// ErrGaveUp is delivered on Failed when the command keeps exiting.
	ErrGaveUp = errors.New("player keeps exiting")
)

// A run shorter than quickExit counts towards maxQuickExits; after that many
// in a row the loop gives up instead of spinning.
const (
	quickExit     = time.Second
	maxQuickExits = 3
)

// Exec loops an external command over one media item until stopped.
type Exec struct {
	argv  []string
	fs    afero.Fs
	log   *slog.Logger
	mixer volume.Mixer

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	failed chan error
}

// ExecOption configures an Exec.
type ExecOption func(*Exec)

// WithMixer fills VolumePlaceholder from m at every Start.
func WithMixer(m volume.Mixer) ExecOption { return func(p *Exec) { p.mixer = m } }

// NewExec returns a player for the command template argv. Placeholder is
// replaced by the media path; without one the path is appended.
// VolumePlaceholder is replaced by the alarm volume in percent. fs is used
// to check that local files exist.
func NewExec(argv []string, fs afero.Fs, log *slog.Logger, opts ...ExecOption) (*Exec, error) {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return nil, errors.New("player: empty command")
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if log == nil {
		log = slog.Default()
	}
	p := &Exec{argv: append([]string(nil), argv...), fs: fs, log: log}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Start launches playback of media, stopping whatever was playing. It returns
// once the first run of the command has started.
func (p *Exec) Start(ctx context.Context, media string) error {
	if err := CheckMedia(p.fs, media); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()

	args := p.args(media, p.volumePercent())
	runCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(runCtx, p.argv[0], args...)
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("start %s: %w", p.argv[0], err)
	}

	done, failed := make(chan struct{}), make(chan error, 1)
	p.cancel, p.done, p.failed = cancel, done, failed
	go p.loop(runCtx, media, args, cmd, done, failed)
	return nil
}

// Failed returns the failure channel of the current run, or nil when
// nothing was started.
func (p *Exec) Failed() <-chan error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failed
}

// Stop halts playback and waits for the command to exit.
func (p *Exec) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	return nil
}

// Playing reports whether the loop is still running.
func (p *Exec) Playing() bool {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

func (p *Exec) stopLocked() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	p.cancel, p.done, p.failed = nil, nil, nil
}

func (p *Exec) loop(ctx context.Context, media string, args []string, cmd *exec.Cmd, done chan struct{}, failed chan error) {
	var gaveUp error
	defer func() {
		if gaveUp != nil {
			failed <- gaveUp
		}
		close(failed)
		close(done)
	}()

	quick := 0
	for {
		started := time.Now()
		err := cmd.Wait()
		if ctx.Err() != nil {
			return
		}
		if time.Since(started) < quickExit {
			quick++
		} else {
			quick = 0
		}
		if quick >= maxQuickExits {
			p.log.Error("player keeps exiting, giving up", "media", media, "err", err)
			gaveUp = fmt.Errorf("%w: %s exited %d times within %s: %v", ErrGaveUp, p.argv[0], quick, quickExit, err)
			return
		}

		cmd = exec.CommandContext(ctx, p.argv[0], args...)
		if err := cmd.Start(); err != nil {
			p.log.Error("restart player", "media", media, "err", err)
			gaveUp = fmt.Errorf("restart %s: %w", p.argv[0], err)
			return
		}
		p.log.Debug("player restarted", "media", media)
	}
}

// volumePercent reads the alarm volume in percent. Without a mixer, or when it
// cannot be read, playback is at full volume.
func (p *Exec) volumePercent() int {
	if p.mixer == nil {
		return 100
	}
	pct, err := volume.Percent(p.mixer)
	if err != nil {
		p.log.Warn("read alarm volume, playing at full volume", "err", err)
		return 100
	}
	return pct
}

// args expands the command template for one run.
func (p *Exec) args(media string, percent int) []string {
	args := make([]string, 0, len(p.argv))
	replaced := false
	for _, a := range p.argv[1:] {
		if strings.Contains(a, Placeholder) {
			a = strings.ReplaceAll(a, Placeholder, media)
			replaced = true
		}
		a = strings.ReplaceAll(a, VolumePlaceholder, strconv.Itoa(percent))
		args = append(args, a)
	}
	if !replaced {
		args = append(args, media)
	}
	return args
}

// CheckMedia verifies that a local media path exists on fs. URIs such as
// content:// or https:// are passed through.
func CheckMedia(fs afero.Fs, media string) error {
	if IsURI(media) {
		return nil
	}
	fi, err := fs.Stat(media)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrMediaNotFound, media)
	}
	if fi.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrMediaNotFound, media)
	}
	return nil
}

// IsURI reports whether media has a scheme.
func IsURI(media string) bool {
	i := strings.Index(media, "://")
	return i > 0
}

// Silent accepts every start and plays nothing. It is used when no player
// command is configured.
type Silent struct {
	Fs  afero.Fs
	Log *slog.Logger

	mu      sync.Mutex
	current string
}

func (s *Silent) Start(_ context.Context, media string) error {
	if s.Fs != nil {
		if err := CheckMedia(s.Fs, media); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.current = media
	s.mu.Unlock()
	s.logger().Info("silent playback", "media", media)
	return nil
}

func (s *Silent) Stop() error {
	s.mu.Lock()
	s.current = ""
	s.mu.Unlock()
	return nil
}

// Current returns the media being "played", or "".
func (s *Silent) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Silent) logger() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}
