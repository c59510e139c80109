package rpc

import (
	"context"
	"net/http"
	"time"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/jhttp"

	"github.com/linkerlin/nanoalarm.go/internal/alarm"
	"github.com/linkerlin/nanoalarm.go/internal/wakeup"
)

// Client calls a nanoalarm daemon.
type Client struct {
	c *jrpc2.Client
}

// Dial returns a Client for the JSON-RPC endpoint at url. A non-empty token
// is sent as a bearer token.
func Dial(url, token string) *Client {
	hc := &http.Client{Timeout: 10 * time.Second}
	if token != "" {
		hc.Transport = bearer{token: token, next: http.DefaultTransport}
	}
	ch := jhttp.NewChannel(url, &jhttp.ChannelOptions{Client: hc})
	return &Client{c: jrpc2.NewClient(ch, nil)}
}

type bearer struct {
	token string
	next  http.RoundTripper
}

func (b bearer) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set("Authorization", "Bearer "+b.token)
	return b.next.RoundTrip(r)
}

// Close releases the client.
func (c *Client) Close() error {
	return c.c.Close()
}

func (c *Client) Schedule(ctx context.Context, p ScheduleParams) error {
	var ok bool
	return c.c.CallResult(ctx, "scheduleAlarm", p, &ok)
}

func (c *Client) Cancel(ctx context.Context, alarmID int) error {
	var ok bool
	return c.c.CallResult(ctx, "cancelAlarm", AlarmIDParam{AlarmID: &alarmID}, &ok)
}

func (c *Client) List(ctx context.Context) ([]wakeup.Entry, error) {
	var res ListResult
	if err := c.c.CallResult(ctx, "listAlarms", nil, &res); err != nil {
		return nil, err
	}
	return res.Alarms, nil
}

func (c *Client) Stop(ctx context.Context) error {
	var ok bool
	return c.c.CallResult(ctx, "stopAlarm", nil, &ok)
}

func (c *Client) Snooze(ctx context.Context, minutes int) error {
	var ok bool
	return c.c.CallResult(ctx, "snoozeAlarm", SnoozeParams{Minutes: minutes}, &ok)
}

func (c *Client) Status(ctx context.Context) (alarm.Status, error) {
	var st alarm.Status
	err := c.c.CallResult(ctx, "alarmStatus", nil, &st)
	return st, err
}

func (c *Client) SetVolume(ctx context.Context, percent int) error {
	var ok bool
	return c.c.CallResult(ctx, "setAlarmVolumePercent", VolumeParams{Percent: &percent}, &ok)
}

func (c *Client) Volume(ctx context.Context) (int, error) {
	var p int
	err := c.c.CallResult(ctx, "getAlarmVolumePercent", nil, &p)
	return p, err
}

func (c *Client) ClearPool(ctx context.Context, groupID string) error {
	var ok bool
	return c.c.CallResult(ctx, "clearPool", GroupParam{GroupID: groupID}, &ok)
}

func (c *Client) NextOccurrence(ctx context.Context, p NextParams) (NextResult, error) {
	var res NextResult
	err := c.c.CallResult(ctx, "nextOccurrence", p, &res)
	return res, err
}
