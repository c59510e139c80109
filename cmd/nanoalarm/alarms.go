package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/linkerlin/nanoalarm.go/internal/alarm"
	"github.com/linkerlin/nanoalarm.go/internal/rpc"
	"github.com/linkerlin/nanoalarm.go/internal/timemath"
	"github.com/linkerlin/nanoalarm.go/internal/tui"
	"github.com/linkerlin/nanoalarm.go/internal/types"
	"github.com/linkerlin/nanoalarm.go/internal/wakeup"
)

var (
	schedID    int
	schedAt    string
	schedDays  string
	schedLabel string
	schedGroup string
	schedMedia []string

	nextAt   string
	nextDays string

	snoozeMinutes int
	tuiInterval   time.Duration
)

// buildSchedule turns the schedule flags into RPC params. at is RFC3339 or
// HH:MM; recurring alarms get their first trigger from the day mask.
func buildSchedule(now time.Time, id int, at, days, label, group string, media []string) (rpc.ScheduleParams, error) {
	if id < 0 {
		return rpc.ScheduleParams{}, types.ErrMissingAlarmID
	}
	if at == "" {
		return rpc.ScheduleParams{}, errors.New("--at is required")
	}
	mask, err := timemath.ParseDays(days)
	if err != nil {
		return rpc.ScheduleParams{}, err
	}

	hour, minute, isClock := parseClock(at)
	var instant time.Time
	if !isClock {
		instant, err = time.Parse(time.RFC3339, at)
		if err != nil {
			return rpc.ScheduleParams{}, fmt.Errorf("--at %q: want RFC3339 or HH:MM", at)
		}
		instant = instant.In(now.Location())
		hour, minute = instant.Hour(), instant.Minute()
	}

	p := rpc.ScheduleParams{
		AlarmID:    &id,
		Label:      label,
		GroupID:    group,
		MediaPaths: media,
	}
	switch {
	case mask != 0:
		next, _ := timemath.NextOccurrence(now, hour, minute, mask)
		instant = next
		p.RepeatDaysMask = int(mask)
		p.Hour, p.Minute = &hour, &minute
	case isClock:
		instant = time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
		if !instant.After(now) {
			instant = instant.AddDate(0, 0, 1)
		}
	}
	ms := instant.UnixMilli()
	p.TriggerAt = &ms
	return p, nil
}

func parseClock(s string) (hour, minute int, ok bool) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, false
	}
	return t.Hour(), t.Minute(), true
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Schedule or replace an alarm",
	Example: `  nanoalarm schedule --id 1 --at 07:30 --days weekdays --media ~/music/a.mp3 --media ~/music/b.mp3
  nanoalarm schedule --id 2 --at 2026-03-02T06:00:00+01:00 --label Flight`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := buildSchedule(time.Now(), schedID, schedAt, schedDays, schedLabel, schedGroup, schedMedia)
		if err != nil {
			return err
		}
		c := dial()
		defer c.Close()
		if err := c.Schedule(cmd.Context(), p); err != nil {
			return err
		}
		at := time.UnixMilli(*p.TriggerAt)
		return render(cmd.OutOrStdout(), output, p, func(w io.Writer) error {
			_, err := fmt.Fprintf(w, "alarm %d scheduled for %s\n", schedID, at.Format("Mon Jan 2 15:04"))
			return err
		})
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <alarm-id>",
	Short: "Cancel a pending alarm",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("alarm id %q: %w", args[0], err)
		}
		c := dial()
		defer c.Close()
		if err := c.Cancel(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "alarm %d cancelled\n", id)
		return nil
	},
}

func writeAlarms(w io.Writer, alarms []wakeup.Entry) error {
	if len(alarms) == 0 {
		_, err := fmt.Fprintln(w, "no pending alarms")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tLABEL\tNEXT\tREPEAT\tGROUP\tMEDIA")
	for _, e := range alarms {
		a := e.Alarm
		repeat := "once"
		switch {
		case e.Snoozed:
			repeat = "snoozed"
		case a.RepeatDaysMask != 0:
			repeat = timemath.CronSpec(a.Hour, a.Minute, timemath.DayMask(a.RepeatDaysMask))
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\n",
			a.AlarmID, a.DisplayLabel(), e.At.Local().Format("Mon Jan 2 15:04"), repeat, a.GroupID, len(a.MediaPaths))
	}
	return tw.Flush()
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending alarms",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := dial()
		defer c.Close()
		alarms, err := c.List(cmd.Context())
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), output, alarms, func(w io.Writer) error {
			return writeAlarms(w, alarms)
		})
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Dismiss the ringing alarm",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := dial()
		defer c.Close()
		if err := c.Stop(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "alarm stopped")
		return nil
	},
}

var snoozeCmd = &cobra.Command{
	Use:   "snooze",
	Short: "Snooze the ringing alarm",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := dial()
		defer c.Close()
		if err := c.Snooze(cmd.Context(), snoozeMinutes); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "alarm snoozed")
		return nil
	},
}

func writeStatus(w io.Writer, st alarm.Status) error {
	fmt.Fprintf(w, "state: %s\n", st.State)
	if s := st.Session; s != nil {
		fmt.Fprintf(w, "ringing: #%d %s\n", s.Alarm.AlarmID, s.Alarm.DisplayLabel())
		fmt.Fprintf(w, "media: %s\n", s.Media)
		fmt.Fprintf(w, "since: %s (%s)\n", s.StartedAt.Local().Format(time.TimeOnly), s.Presentation)
	}
	if n := st.LastNotice; n != nil {
		line := fmt.Sprintf("last notice: %s #%d", n.Kind, n.AlarmID)
		if !n.Until.IsZero() {
			line += " until " + n.Until.Local().Format("15:04")
		}
		if n.Err != "" {
			line += ": " + n.Err
		}
		fmt.Fprintln(w, line)
	}
	return nil
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the playback state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := dial()
		defer c.Close()
		st, err := c.Status(cmd.Context())
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), output, st, func(w io.Writer) error {
			return writeStatus(w, st)
		})
	},
}

var volumeCmd = &cobra.Command{
	Use:   "volume",
	Short: "Get or set the alarm volume",
}

var volumeGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the alarm volume in percent",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := dial()
		defer c.Close()
		p, err := c.Volume(cmd.Context())
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), output, map[string]int{"percent": p}, func(w io.Writer) error {
			_, err := fmt.Fprintf(w, "%d%%\n", p)
			return err
		})
	},
}

var volumeSetCmd = &cobra.Command{
	Use:   "set <percent>",
	Short: "Set the alarm volume in percent (clamped to 0..100)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := strconv.Atoi(strings.TrimSuffix(args[0], "%"))
		if err != nil {
			return fmt.Errorf("percent %q: %w", args[0], err)
		}
		c := dial()
		defer c.Close()
		return c.SetVolume(cmd.Context(), p)
	},
}

var clearPoolCmd = &cobra.Command{
	Use:   "clear-pool [group]",
	Short: "Reset the media rotation of a group",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		group := ""
		if len(args) == 1 {
			group = args[0]
		}
		c := dial()
		defer c.Close()
		if err := c.ClearPool(cmd.Context(), group); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "pool %q cleared\n", group)
		return nil
	},
}

var nextCmd = &cobra.Command{
	Use:   "next",
	Short: "Show when a recurring alarm would fire next",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		hour, minute, ok := parseClock(nextAt)
		if !ok {
			return fmt.Errorf("--at %q: want HH:MM", nextAt)
		}
		mask, err := timemath.ParseDays(nextDays)
		if err != nil {
			return err
		}
		c := dial()
		defer c.Close()
		res, err := c.NextOccurrence(cmd.Context(), rpc.NextParams{Hour: hour, Minute: minute, RepeatDaysMask: int(mask)})
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), output, res, func(w io.Writer) error {
			if !res.Found {
				_, err := fmt.Fprintln(w, "never (no days selected)")
				return err
			}
			_, err := fmt.Fprintf(w, "%s  (%s, cron %q)\n",
				time.UnixMilli(res.TriggerAt).Format("Mon Jan 2 15:04"), res.Days, timemath.CronSpec(hour, minute, mask))
			return err
		})
	},
}

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Open the terminal control panel",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := dial()
		defer c.Close()
		return tui.Run(c, tuiInterval)
	},
}

func init() {
	scheduleCmd.Flags().IntVar(&schedID, "id", -1, "alarm id (required)")
	scheduleCmd.Flags().StringVar(&schedAt, "at", "", "trigger time, RFC3339 or HH:MM")
	scheduleCmd.Flags().StringVar(&schedDays, "days", "", `repeat days: "mon,wed", "weekdays", "weekends", "daily" or a mask`)
	scheduleCmd.Flags().StringVar(&schedLabel, "label", "", "display label")
	scheduleCmd.Flags().StringVar(&schedGroup, "group", "", "media pool group")
	scheduleCmd.Flags().StringArrayVar(&schedMedia, "media", nil, "media file or URI (repeatable)")
	_ = scheduleCmd.MarkFlagRequired("id")
	_ = scheduleCmd.MarkFlagRequired("at")

	snoozeCmd.Flags().IntVar(&snoozeMinutes, "minutes", 0, "snooze length (default snooze_minutes)")

	nextCmd.Flags().StringVar(&nextAt, "at", "", "time of day, HH:MM")
	nextCmd.Flags().StringVar(&nextDays, "days", "daily", "repeat days")
	_ = nextCmd.MarkFlagRequired("at")

	tuiCmd.Flags().DurationVar(&tuiInterval, "interval", tui.DefaultInterval, "refresh interval")

	volumeCmd.AddCommand(volumeGetCmd, volumeSetCmd)
	rootCmd.AddCommand(scheduleCmd, cancelCmd, listCmd, stopCmd, snoozeCmd, statusCmd,
		volumeCmd, clearPoolCmd, nextCmd, tuiCmd)
}
