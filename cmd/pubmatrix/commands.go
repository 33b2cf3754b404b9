package main

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pubmatrix/internal/app"
	"pubmatrix/internal/errors"
	"pubmatrix/internal/orchestrator"
	"pubmatrix/internal/reconcile"
)

var publishCmd = &cobra.Command{
	Use:   "publish ID...",
	Short: "Publish items now, one batch across their lanes",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			res, err := a.Orchestrator().PublishNow(ctx, ids)
			if err != nil {
				return err
			}
			if err := printBatch(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if n := res.Failed(); n > 0 {
				return errors.Newf("%d of %d items failed", n, len(res.Items))
			}
			return nil
		})
	},
}

var scheduleAt string

var scheduleCmd = &cobra.Command{
	Use:   "schedule --at TIME ID...",
	Short: "Schedule items for a time (RFC3339, or HH:MM in the scheduler timezone)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			at, err := parseAt(scheduleAt, time.Now(), a.Location())
			if err != nil {
				return err
			}
			return printItems(cmd.OutOrStdout(), a.Orchestrator().Schedule(ctx, ids, at))
		})
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel ID...",
	Short: "Cancel scheduled items back to draft",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			return printItems(cmd.OutOrStdout(), a.Orchestrator().Cancel(ctx, ids))
		})
	},
}

var checkAccountsCmd = &cobra.Command{
	Use:   "check-accounts",
	Short: "Probe the login state of every active account once",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			rep, err := a.Health().Check(ctx)
			if err != nil {
				return err
			}
			return printHealth(cmd.OutOrStdout(), rep)
		})
	},
}

var strandedCmd = &cobra.Command{
	Use:   "stranded",
	Short: "List items left mid-publish by an earlier process",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			items, err := a.Orchestrator().Stranded(ctx)
			if err != nil {
				return err
			}
			return printContent(cmd.OutOrStdout(), items)
		})
	},
}

var (
	resolveAs      string
	resolveMessage string
)

var resolveCmd = &cobra.Command{
	Use:   "resolve --as succeeded|failed|requeue ID",
	Short: "Settle a stranded item",
	Long: `Settle a stranded item after checking the platform by hand.

succeeded and failed record a final outcome. requeue returns a direct
publish to draft and a scheduled publish to its schedule.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		res, err := reconcile.ParseResolution(resolveAs)
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			item, err := a.Orchestrator().Resolve(ctx, ids[0], res, resolveMessage)
			if err != nil {
				return err
			}
			return printItems(cmd.OutOrStdout(), []orchestrator.ItemResult{
				{ItemID: item.ID, Success: true, Message: item.State().String()},
			})
		})
	},
}

func init() {
	scheduleCmd.Flags().StringVar(&scheduleAt, "at", "", "publish time: RFC3339 or HH:MM")
	_ = scheduleCmd.MarkFlagRequired("at")

	resolveCmd.Flags().StringVar(&resolveAs, "as", "", "succeeded, failed or requeue")
	resolveCmd.Flags().StringVarP(&resolveMessage, "message", "m", "", "outcome message to record")
	_ = resolveCmd.MarkFlagRequired("as")
}

// withApp builds the app with only the executor running, runs fn and shuts
// down again.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	a, err := app.New(cfgPath)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a.StartCommand(ctx)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = a.Stop(stopCtx, app.StopCommandDone)
	}()
	return fn(ctx, a)
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, raw := range args {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil || id <= 0 {
				return nil, errors.Newf("invalid item id %q", part)
			}
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, errors.New("no item ids given")
	}
	return ids, nil
}

// parseAt accepts RFC3339 or HH:MM. A clock time that already passed today
// means tomorrow.
func parseAt(raw string, now time.Time, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	clock, err := time.Parse("15:04", raw)
	if err != nil {
		return time.Time{}, errors.WithHint(
			errors.Newf("invalid time %q", raw),
			"use RFC3339 (2026-03-04T21:30:00+08:00) or HH:MM",
		)
	}
	if loc == nil {
		loc = time.Local
	}
	now = now.In(loc)
	at := time.Date(now.Year(), now.Month(), now.Day(), clock.Hour(), clock.Minute(), 0, 0, loc)
	if !at.After(now) {
		at = at.AddDate(0, 0, 1)
	}
	return at, nil
}
