package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	addr    string
	actor   string
	timeout time.Duration
	json    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "insightctl",
		Short:         "Inspect and moderate AI insights through the insightdesk admin API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.addr, "addr", envOr("INSIGHTDESK_ADDR", "http://localhost:8080"), "admin API base URL")
	root.PersistentFlags().StringVar(&opts.actor, "actor", os.Getenv("INSIGHTDESK_ACTOR"), "admin id recorded on request logs")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 15*time.Second, "request timeout")
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "print raw JSON")

	root.AddCommand(
		newStatsCmd(opts),
		newListCmd(opts),
		newShowCmd(opts),
		newDeleteCmd(opts),
		newRegenerateCmd(opts),
		newUsageCmd(opts),
	)
	return root
}

func (o *rootOptions) client() *Client {
	return NewClient(o.addr, o.actor, o.timeout)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
