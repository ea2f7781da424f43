// Package cli implements callctl, the operator CLI for a callsync API.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"callsync/internal/calls"
	"callsync/internal/client"
	"callsync/internal/phone"

	"github.com/spf13/cobra"
)

const defaultServer = "http://localhost:8080"

type options struct {
	server  string
	timeout time.Duration
}

func (o *options) client() *client.Client {
	return client.New(o.server, nil)
}

func (o *options) requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), o.timeout)
}

// RootCmd returns the callctl command tree.
func RootCmd() *cobra.Command {
	opts := &options{}
	server := os.Getenv("CALLSYNC_URL")
	if server == "" {
		server = defaultServer
	}

	root := &cobra.Command{
		Use:   "callctl",
		Short: "Place and observe outbound calls on a callsync server",
		Long: `callctl dials numbers through a callsync API and shows call records as the
provider reports ringing, answer and hang-up.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.server, "server", server, "callsync API base URL (env CALLSYNC_URL)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 15*time.Second, "per-request timeout")

	root.AddCommand(dialCmd(opts))
	root.AddCommand(listCmd(opts))
	root.AddCommand(getCmd(opts))
	root.AddCommand(statsCmd(opts))
	root.AddCommand(watchCmd(opts))
	return root
}

// Execute runs callctl and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := RootCmd().ExecuteContext(ctx); err != nil {
		return 1
	}
	return 0
}

func dialCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "dial <number>",
		Short: "Place an outbound call",
		Long: `Normalize a US number and ask the server to dial it.

Examples:
  callctl dial "(202) 555-0143"
  callctl dial +12025550143`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			number, err := phone.Normalize(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := opts.requestContext(cmd)
			defer cancel()

			res, err := opts.client().MakeCall(ctx, number)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Placed call %s to %s (%s)\n", res.CallSID, phone.Display(number), formatStatus(res.Call.Status))
			return nil
		},
	}
}

func listCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List call records, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.requestContext(cmd)
			defer cancel()
			recs, err := opts.client().ListCalls(ctx)
			if err != nil {
				return err
			}
			renderCalls(cmd.OutOrStdout(), recs)
			return nil
		},
	}
}

func getCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get <call-sid>",
		Short: "Show one call record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.requestContext(cmd)
			defer cancel()
			rec, err := opts.client().GetCall(ctx, args[0])
			if err != nil {
				return err
			}
			renderCalls(cmd.OutOrStdout(), []calls.CallRecord{rec})
			return nil
		},
	}
}

func statsCmd(opts *options) *cobra.Command {
	var since time.Duration
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show call outcome statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.requestContext(cmd)
			defer cancel()
			var from time.Time
			if since > 0 {
				from = time.Now().Add(-since)
			}
			s, err := opts.client().Stats(ctx, from, time.Time{})
			if err != nil {
				return err
			}
			renderSummary(cmd.OutOrStdout(), s)
			return nil
		},
	}
	cmd.Flags().DurationVar(&since, "since", 0, "only calls created within this window (e.g. 24h)")
	return cmd
}

func watchCmd(opts *options) *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow call records live",
		Long: `Print the current call records, then one line per status change.
The record set is re-listed after every reconnect or resync.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			log := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

			view := newTerminalView(cmd.OutOrStdout())
			err := opts.client().Watch(cmd.Context(), view, client.WatchOptions{Logger: log})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log stream reconnects")
	return cmd
}

// terminalView prints the full table on reset and a line per upsert.
type terminalView struct {
	mu   sync.Mutex
	w    io.Writer
	now  func() time.Time
	recs map[string]calls.CallRecord
}

func newTerminalView(w io.Writer) *terminalView {
	return &terminalView{w: w, now: time.Now, recs: map[string]calls.CallRecord{}}
}

func (v *terminalView) Reset(recs []calls.CallRecord) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.recs = make(map[string]calls.CallRecord, len(recs))
	for _, r := range recs {
		v.recs[r.ProviderCallToken] = r
	}
	fmt.Fprintf(v.w, "--- %d calls at %s ---\n", len(recs), v.now().Local().Format(time.TimeOnly))
	renderCalls(v.w, v.sortedLocked())
}

func (v *terminalView) Upsert(rec calls.CallRecord) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.recs[rec.ProviderCallToken] = rec
	renderUpdate(v.w, rec, v.now())
}

func (v *terminalView) sortedLocked() []calls.CallRecord {
	out := make([]calls.CallRecord, 0, len(v.recs))
	for _, r := range v.recs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ProviderCallToken < out[j].ProviderCallToken
	})
	return out
}
