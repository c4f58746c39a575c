package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/rxvault/internal/engine"
	"github.com/roach88/rxvault/internal/model"
	"github.com/roach88/rxvault/internal/remote/httpremote"
)

// NewSyncCommand creates the sync command group.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Mirror the local database to a remote mirror",
	}
	cmd.AddCommand(
		newSyncRunCommand(rootOpts),
		newSyncPushCommand(rootOpts),
		newSyncStatusCommand(rootOpts),
		newSyncRejectedCommand(rootOpts),
	)
	return cmd
}

// newEngine wires the HTTP remote and the engine for an opened session.
func (s *session) newEngine() (*engine.Engine, error) {
	if !s.cfg.Sync.Enabled {
		return nil, NewExitError(ExitCommandError, "sync is disabled (set sync.enabled: true)")
	}
	if s.cfg.Sync.RemoteURL == "" {
		return nil, NewExitError(ExitCommandError, "sync.remote_url is not set")
	}
	rc, err := httpremote.New(s.cfg.Sync.RemoteURL,
		httpremote.WithRequestTimeout(s.cfg.Sync.RequestTimeout),
		httpremote.WithListenWait(s.cfg.Sync.ListenWait),
	)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid sync configuration", err)
	}
	return engine.New(s.store, rc, s.cfg.Sync.Engine(), engine.WithLogger(s.logger)), nil
}

func newSyncRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Sync continuously until interrupted",
		Long: `Start the sync engine and keep the local database mirrored.

Local writes from other rxvault commands are picked up on the next
outbox poll. Press Ctrl-C to stop.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			eng, err := s.newEngine()
			if err != nil {
				return err
			}

			parentCtx := cmd.Context()
			if parentCtx == nil {
				parentCtx = context.Background()
			}
			ctx, cancel := context.WithCancel(parentCtx)
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigChan)

			go func() {
				for {
					select {
					case sig := <-sigChan:
						s.logger.Info("received signal, shutting down", "signal", sig)
						cancel()
						return
					case ev := <-eng.Events():
						s.logger.Info("sync event", "seq", ev.Seq, "kind", ev.Kind,
							"collection", ev.Collection, "id", ev.ID, "version", ev.Version, "reason", ev.Reason)
					case <-ctx.Done():
						return
					}
				}
			}()

			s.logger.Info("sync starting", "remote", s.cfg.Sync.RemoteURL, "db", s.cfg.Database)
			fmt.Fprintln(cmd.OutOrStdout(), "Sync started. Press Ctrl-C to stop.")

			err = eng.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				return WrapExitError(ExitFailure, "sync engine error", err)
			}
			if eng.State() == engine.StateDisabled {
				return NewExitError(ExitFailure, "sync disabled: "+lastReason(eng.History()))
			}
			s.logger.Info("sync stopped gracefully")
			return nil
		},
	}
}

func newSyncPushCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "push",
		Short: "Sign in and push pending local changes once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			eng, err := s.newEngine()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if state := eng.Start(ctx); state != engine.StateSyncing {
				return NewExitError(ExitFailure, fmt.Sprintf("sync %s: %s", state, lastReason(eng.History())))
			}
			stats, err := eng.PushPending(ctx)
			if err != nil {
				return s.out.Fail("push failed", err)
			}
			remaining, err := s.store.OutboxLen(ctx)
			if err != nil {
				return s.out.Fail("push failed", err)
			}
			data := map[string]any{"stats": stats, "remaining": remaining}
			return s.out.Success(data, func(w io.Writer) {
				fmt.Fprintf(w, "Pushed %d, deferred %d, dropped %d; %d still pending\n",
					stats.Pushed, stats.Deferred, stats.Dropped, remaining)
			})
		},
	}
}

// SyncStatus is the local view of sync progress.
type SyncStatus struct {
	Enabled   bool                       `json:"enabled"`
	RemoteURL string                     `json:"remote_url,omitempty"`
	UID       string                     `json:"uid,omitempty"`
	Pending   int                        `json:"pending"`
	Cursors   map[model.Collection]int64 `json:"cursors"`
	Rejected  int                        `json:"rejected"`
}

func newSyncStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show pending changes, cursors and the device identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			st := SyncStatus{Enabled: s.cfg.Sync.Enabled, RemoteURL: s.cfg.Sync.RemoteURL}
			if st.Pending, err = s.store.OutboxLen(ctx); err != nil {
				return s.out.Fail("sync status failed", err)
			}
			if st.Cursors, err = s.store.Cursors(ctx); err != nil {
				return s.out.Fail("sync status failed", err)
			}
			id, ok, err := s.store.LoadIdentity(ctx)
			if err != nil {
				return s.out.Fail("sync status failed", err)
			}
			if ok {
				st.UID = id.UID
			}
			rejected, err := s.store.ListRejected(ctx, 1000)
			if err != nil {
				return s.out.Fail("sync status failed", err)
			}
			st.Rejected = len(rejected)

			return s.out.Success(st, func(w io.Writer) {
				fmt.Fprintf(w, "Enabled:  %t\n", st.Enabled)
				if st.RemoteURL != "" {
					fmt.Fprintf(w, "Remote:   %s\n", st.RemoteURL)
				}
				uid := st.UID
				if uid == "" {
					uid = "(not signed in)"
				}
				fmt.Fprintf(w, "Identity: %s\n", uid)
				fmt.Fprintf(w, "Pending:  %d\n", st.Pending)
				fmt.Fprintf(w, "Rejected: %d\n", st.Rejected)
				rows := make([][]string, 0, len(model.Collections))
				for _, c := range model.Collections {
					rows = append(rows, []string{string(c), strconv.FormatInt(st.Cursors[c], 10)})
				}
				s.out.Table(w, []string{"COLLECTION", "CURSOR"}, rows)
			})
		},
	}
}

func newSyncRejectedCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "rejected",
		Short: "List inbound changes that were refused",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			list, err := s.store.ListRejected(cmd.Context(), limit)
			if err != nil {
				return s.out.Fail("list rejected failed", err)
			}
			return s.out.Success(list, func(w io.Writer) {
				rows := make([][]string, 0, len(list))
				for _, r := range list {
					rows = append(rows, []string{
						string(r.Collection), r.EntityID, strconv.FormatInt(r.Version, 10),
						r.ReceivedAt.Format(time.RFC3339), r.Reason,
					})
				}
				s.out.Table(w, []string{"COLLECTION", "ID", "VERSION", "RECEIVED", "REASON"}, rows)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows to show, newest first")
	return cmd
}

func lastReason(history []engine.Transition) string {
	if len(history) == 0 {
		return "no transitions"
	}
	return history[len(history)-1].Reason
}
