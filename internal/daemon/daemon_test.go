package daemon

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"

	"github.com/linkerlin/nanoalarm.go/internal/alarm"
	"github.com/linkerlin/nanoalarm.go/internal/config"
	"github.com/linkerlin/nanoalarm.go/internal/rpc"
	"github.com/linkerlin/nanoalarm.go/internal/types"
)

var start = time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)

func testConfig(t *testing.T, store string) *config.Config {
	t.Helper()
	return &config.Config{
		App: config.AppConfig{DataDir: t.TempDir(), Store: store},
		RPC: config.RPCConfig{Listen: "127.0.0.1:0"},
		Scheduler: config.SchedulerConfig{
			SweepInterval: time.Minute,
			RestoreGrace:  10 * time.Minute,
			MaxConcurrent: 2,
			Snooze:        5 * time.Minute,
		},
		Volume: config.VolumeConfig{MaxLevel: 7},
		Log:    config.LogConfig{Level: "info", Format: "json"},
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDaemon_FireOverRPC(t *testing.T) {
	clock := clockwork.NewFakeClockAt(start)
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/media/a.mp3", []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	d, err := New(testConfig(t, config.StoreMemory), WithClock(clock), WithFs(fs), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Serve(ctx, ln) }()

	c := rpc.Dial("http://"+ln.Addr().String()+"/rpc", "")
	defer c.Close()

	id, at := 1, start.Add(time.Minute).UnixMilli()
	err = c.Schedule(context.Background(), rpc.ScheduleParams{
		AlarmID:    &id,
		TriggerAt:  &at,
		Label:      "Wake",
		MediaPaths: []string{"/media/a.mp3"},
	})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if list, err := c.List(context.Background()); err != nil || len(list) != 1 {
		t.Fatalf("List = (%v, %v), want one alarm", list, err)
	}

	clock.Advance(time.Minute)
	waitFor(t, "playback", func() bool { return d.Controller().Status().State == alarm.Playing })

	st, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Session == nil || st.Session.Media != "/media/a.mp3" {
		t.Errorf("session = %+v", st.Session)
	}
	if err := c.Stop(context.Background()); err != nil {
		t.Errorf("Stop: %v", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestDaemon_RestoreAcrossRestart(t *testing.T) {
	clock := clockwork.NewFakeClockAt(start)
	cfg := testConfig(t, config.StoreSQLite)

	d, err := New(cfg, WithClock(clock), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a := types.AlarmDescriptor{
		AlarmID:   7,
		TriggerAt: start.Add(time.Hour).UnixMilli(),
		Hour:      types.NoTime,
		Minute:    types.NoTime,
	}
	if err := d.Scheduler().Schedule(a); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	d2, err := New(cfg, WithClock(clock), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("New after restart: %v", err)
	}
	defer d2.Close()
	n, err := d2.Restore()
	if err != nil || n != 1 {
		t.Fatalf("Restore = (%d, %v), want 1", n, err)
	}
	list := d2.Scheduler().List()
	if len(list) != 1 || list[0].AlarmID != 7 || !list[0].At.Equal(start.Add(time.Hour)) {
		t.Errorf("List = %+v", list)
	}
}

func TestDaemon_SecretAndMetrics(t *testing.T) {
	cfg := testConfig(t, config.StoreMemory)
	cfg.RPC.Secret = "tok"
	d, err := New(cfg, WithClock(clockwork.NewFakeClockAt(start)), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close()

	ts := httptest.NewServer(d.Handler())
	defer ts.Close()

	anon := rpc.Dial(ts.URL+"/rpc", "")
	defer anon.Close()
	if _, err := anon.Volume(context.Background()); err == nil {
		t.Error("call without token succeeded")
	}

	authed := rpc.Dial(ts.URL+"/rpc", "tok")
	defer authed.Close()
	if p, err := authed.Volume(context.Background()); err != nil || p != 100 {
		t.Errorf("Volume = (%d, %v), want 100", p, err)
	}

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "nanoalarm_pending_alarms 0") {
		t.Errorf("metrics missing pending gauge:\n%s", body)
	}
}

func TestDaemon_PlayerUsesAlarmVolume(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	clock := clockwork.NewFakeClockAt(start)
	fs := afero.NewMemMapFs()
	afero.WriteFile(fs, "/media/a.mp3", []byte("x"), 0o644)

	out := filepath.Join(t.TempDir(), "volume")
	cfg := testConfig(t, config.StoreMemory)
	cfg.Player.Command = []string{"sh", "-c", `echo "$1" > "$2"; sleep 60`, "player", "{volume}", out}
	d, err := New(cfg, WithClock(clock), WithFs(fs), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close()

	ts := httptest.NewServer(d.Handler())
	defer ts.Close()
	c := rpc.Dial(ts.URL+"/rpc", "")
	defer c.Close()

	ctx := context.Background()
	if err := c.SetVolume(ctx, 30); err != nil {
		t.Fatalf("SetVolume: %v", err)
	}
	id, at := 3, start.Add(time.Minute).UnixMilli()
	if err := c.Schedule(ctx, rpc.ScheduleParams{AlarmID: &id, TriggerAt: &at, MediaPaths: []string{"/media/a.mp3"}}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	clock.Advance(time.Minute)

	// 30% of 7 steps is level 2, played back as 29%.
	waitFor(t, "player volume", func() bool {
		b, err := os.ReadFile(out)
		return err == nil && strings.TrimSpace(string(b)) == "29"
	})
	if err := d.Controller().Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
}

func TestDaemon_BadPlayerCommand(t *testing.T) {
	cfg := testConfig(t, config.StoreMemory)
	cfg.Player.Command = []string{" "}
	if _, err := New(cfg, WithLogger(quietLogger())); err == nil {
		t.Error("New with blank player command = nil error")
	}
}
