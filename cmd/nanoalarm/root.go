package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/linkerlin/nanoalarm.go/internal/config"
	"github.com/linkerlin/nanoalarm.go/internal/router"
	"github.com/linkerlin/nanoalarm.go/internal/rpc"
)

var (
	cfgFile   string
	serverURL string
	token     string
	output    string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "nanoalarm",
	Short: "Alarm clock daemon and control client",
	Long: `nanoalarm schedules wake-up alarms, plays a rotating pick of media when
they fire and exposes stop and snooze over JSON-RPC.

Run "nanoalarm serve" for the daemon; the other commands talk to it.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		switch output {
		case "text", "json", "yaml":
		default:
			return fmt.Errorf("unknown output format %q", output)
		}
		c, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = c
		slog.SetDefault(cfg.NewLogger(os.Stderr))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is <data_dir>/nanoalarm.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "url", "", "daemon JSON-RPC URL (default derived from listen)")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "bearer token (default rpc.secret)")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "text", "output format: text, json or yaml")
}

// dial connects to the daemon named by the flags or the config.
func dial() *rpc.Client {
	return rpc.Dial(endpoint(serverURL, cfg.RPC.Listen), firstNonEmpty(token, cfg.RPC.Secret))
}

// endpoint turns a listen address into the daemon's RPC URL unless url is set.
func endpoint(url, listen string) string {
	if url != "" {
		return url
	}
	host := listen
	if strings.HasPrefix(host, ":") {
		host = "127.0.0.1" + host
	}
	if h, port, ok := strings.Cut(host, ":"); ok && (h == "0.0.0.0" || h == "") {
		host = "127.0.0.1:" + port
	}
	return "http://" + host + router.RPCPath
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
