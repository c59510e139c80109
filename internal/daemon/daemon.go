// Package daemon wires the alarm core to its host capabilities and serves it
// over HTTP.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/linkerlin/nanoalarm.go/internal/alarm"
	"github.com/linkerlin/nanoalarm.go/internal/config"
	"github.com/linkerlin/nanoalarm.go/internal/db"
	"github.com/linkerlin/nanoalarm.go/internal/device"
	"github.com/linkerlin/nanoalarm.go/internal/metrics"
	"github.com/linkerlin/nanoalarm.go/internal/player"
	"github.com/linkerlin/nanoalarm.go/internal/pool"
	"github.com/linkerlin/nanoalarm.go/internal/queue"
	"github.com/linkerlin/nanoalarm.go/internal/router"
	"github.com/linkerlin/nanoalarm.go/internal/rpc"
	"github.com/linkerlin/nanoalarm.go/internal/scheduler"
	"github.com/linkerlin/nanoalarm.go/internal/types"
	"github.com/linkerlin/nanoalarm.go/internal/volume"
	"github.com/linkerlin/nanoalarm.go/internal/wakeup"
)

const shutdownTimeout = 5 * time.Second

// blobStore is what both store backends provide.
type blobStore interface {
	pool.Store
	volume.Store
}

// Daemon owns every long-lived component.
type Daemon struct {
	cfg   *config.Config
	log   *slog.Logger
	clock clockwork.Clock
	fs    afero.Fs

	store    blobStore
	closer   io.Closer
	registry *prometheus.Registry
	timers   *wakeup.Local
	sched    *scheduler.Scheduler
	ctl      *alarm.Controller
	queue    *queue.GroupQueue
	rpc      *rpc.Server
	handler  http.Handler

	// base is handed to fire jobs so playback ends with the daemon.
	base   context.Context
	cancel context.CancelFunc
}

// Option configures a Daemon.
type Option func(*Daemon)

func WithClock(c clockwork.Clock) Option { return func(d *Daemon) { d.clock = c } }
func WithFs(fs afero.Fs) Option { return func(d *Daemon) { d.fs = fs } }
func WithLogger(l *slog.Logger) Option { return func(d *Daemon) { d.log = l } }

// New builds the daemon described by cfg. Close releases it.
func New(cfg *config.Config, opts ...Option) (*Daemon, error) {
	d := &Daemon{
		cfg:   cfg,
		log:   slog.Default(),
		clock: clockwork.NewRealClock(),
		fs:    afero.NewOsFs(),
	}
	for _, o := range opts {
		o(d)
	}
	d.base, d.cancel = context.WithCancel(context.Background())

	var registry scheduler.Registry
	switch cfg.App.Store {
	case config.StoreMemory:
		d.store = pool.NewMemoryStore()
	default:
		if err := d.fs.MkdirAll(cfg.App.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		database, err := db.Open(cfg.DBPath())
		if err != nil {
			return nil, err
		}
		d.store, d.closer, registry = database, database, database
	}

	d.registry = prometheus.NewRegistry()
	d.timers = wakeup.NewLocal(d.clock, d.log)

	var sched *scheduler.Scheduler
	m := metrics.New(d.registry, func() int { return sched.Pending() })
	schedOpts := []scheduler.Option{
		scheduler.WithClock(d.clock),
		scheduler.WithMetrics(m),
		scheduler.WithLogger(d.log),
		scheduler.WithSweepInterval(cfg.Scheduler.SweepInterval),
		scheduler.WithRestoreGrace(cfg.Scheduler.RestoreGrace),
	}
	if registry != nil {
		schedOpts = append(schedOpts, scheduler.WithRegistry(registry))
	}
	sched = scheduler.New(d.timers, schedOpts...)
	d.sched = sched

	mixer := volume.NewStoredMixer(d.store, cfg.Volume.MaxLevel)
	pl, err := d.newPlayer(mixer)
	if err != nil {
		d.Close()
		return nil, err
	}
	picker := pool.New(d.store, pool.WithLogger(d.log))
	d.ctl = alarm.New(picker, sched, pl, d.newLockState(),
		alarm.WithClock(d.clock),
		alarm.WithMetrics(m),
		alarm.WithLogger(d.log),
		alarm.WithPresenter(alarm.LogPresenter{Log: d.log}),
		alarm.WithSnooze(cfg.Scheduler.Snooze),
	)

	d.queue = queue.New(cfg.Scheduler.MaxConcurrent)
	sched.SetHandler(d.dispatch)

	d.rpc = rpc.NewServer(rpc.Deps{
		Scheduler:  sched,
		Controller: d.ctl,
		Pool:       picker,
		Mixer:      mixer,
		Clock:      d.clock,
		Log:        d.log,
	})
	d.handler = router.New(d.rpc, router.Options{
		Secret:   cfg.RPC.Secret,
		Gatherer: d.registry,
		Log:      d.log,
	})
	return d, nil
}

func (d *Daemon) newPlayer(mixer volume.Mixer) (alarm.Player, error) {
	if len(d.cfg.Player.Command) == 0 {
		d.log.Info("no player command configured, playing silently")
		return &player.Silent{Fs: d.fs, Log: d.log}, nil
	}
	p, err := player.NewExec(d.cfg.Player.Command, d.fs, d.log, player.WithMixer(mixer))
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (d *Daemon) newLockState() alarm.LockState {
	if d.cfg.Device.LockFile != "" {
		return device.LockFile{Fs: d.fs, Path: d.cfg.Device.LockFile, Log: d.log}
	}
	return device.NewStatic(d.cfg.Device.Locked)
}

// dispatch hands a fired alarm to the group queue so the timer callback
// returns immediately.
func (d *Daemon) dispatch(a types.AlarmDescriptor) {
	d.queue.Enqueue(d.base, a.GroupID, func(ctx context.Context) {
		if err := d.ctl.Fire(ctx, a); err != nil {
			d.log.Error("fire alarm", "alarm_id", a.AlarmID, "err", err)
		}
	})
}

// Handler serves /rpc, /metrics and /healthz.
func (d *Daemon) Handler() http.Handler { return d.handler }

func (d *Daemon) Scheduler() *scheduler.Scheduler { return d.sched }

func (d *Daemon) Controller() *alarm.Controller { return d.ctl }

// Restore re-arms the alarms left in the pending registry.
func (d *Daemon) Restore() (int, error) {
	return d.sched.Restore()
}

// Run restores pending alarms, listens on the configured address and serves
// until ctx is done.
func (d *Daemon) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", d.cfg.RPC.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", d.cfg.RPC.Listen, err)
	}
	return d.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (d *Daemon) Serve(ctx context.Context, ln net.Listener) error {
	n, err := d.Restore()
	if err != nil {
		d.log.Warn("restore pending alarms", "err", err)
	} else {
		d.log.Info("restored pending alarms", "count", n)
	}
	if err := d.sched.Start(ctx); err != nil {
		ln.Close()
		return err
	}
	defer d.sched.Stop()

	srv := &http.Server{
		Handler:           d.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(d.log.Handler(), slog.LevelError),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d.log.Info("nanoalarm listening", "addr", ln.Addr().String(), "config", d.cfg.File)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	err = g.Wait()

	if stopErr := d.ctl.Stop(); stopErr != nil && !errors.Is(stopErr, alarm.ErrNotPlaying) {
		d.log.Warn("stop playback", "err", stopErr)
	}
	return err
}

// Close cancels in-flight playback and releases timers and the store.
// Pending alarms stay in the registry for the next Restore.
func (d *Daemon) Close() error {
	d.cancel()
	if d.timers != nil {
		d.timers.Close()
	}
	if d.queue != nil {
		d.queue.Wait()
	}
	if d.rpc != nil {
		d.rpc.Close()
	}
	if d.closer != nil {
		return d.closer.Close()
	}
	return nil
}
