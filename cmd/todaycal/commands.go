package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"todaycal/internal/agenda"
	"todaycal/internal/ics"
	appLog "todaycal/internal/log"
	"todaycal/internal/model"
	"todaycal/internal/web"
)

const dayLayout = "2006-01-02"

var (
	dayFlag      string
	tomorrowFlag bool
)

var todayCmd = &cobra.Command{
	Use:   "today",
	Short: "Print the events of today (or --tomorrow / --day)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := setup()
		if err != nil {
			return err
		}
		snap, err := a.agg.Fetch(cmd.Context(), a.cfg.Options(a.force))
		if err != nil {
			return err
		}
		target, err := targetDay(time.Now())
		if err != nil {
			return err
		}
		printDay(cmd.OutOrStdout(), target, snap)
		return nil
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Fetch all sources now and update the cache",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := setup()
		if err != nil {
			return err
		}
		snap, err := a.agg.Fetch(cmd.Context(), a.cfg.Options(true))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d events from %d sources (%d failed, cached=%t)\n",
			len(snap.Events), snap.SourceCount, len(snap.FailedSources), snap.IsCached)
		return nil
	},
}

var clearCacheCmd = &cobra.Command{
	Use:   "clear-cache",
	Short: "Delete the cached snapshot",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := setup()
		if err != nil {
			return err
		}
		if err := a.store.Clear(); err != nil {
			return err
		}
		appLog.Info("cache cleared", "path", a.store.Path())
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the events of one day as ICS to stdout",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := setup()
		if err != nil {
			return err
		}
		snap, err := a.agg.Fetch(cmd.Context(), a.cfg.Options(a.force))
		if err != nil {
			return err
		}
		now := time.Now()
		target, err := targetDay(now)
		if err != nil {
			return err
		}
		_, err = io.WriteString(cmd.OutOrStdout(), ics.Export(agenda.ForDay(snap.Events, target), now))
		return err
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API with a scheduled background refresh",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := setup()
		if err != nil {
			return err
		}
		return serve(cmd.Context(), a)
	},
}

func init() {
	for _, c := range []*cobra.Command{todayCmd, exportCmd} {
		c.Flags().StringVar(&dayFlag, "day", "", "Day to show as YYYY-MM-DD (default today)")
		c.Flags().BoolVar(&tomorrowFlag, "tomorrow", false, "Show tomorrow instead of today")
		c.MarkFlagsMutuallyExclusive("day", "tomorrow")
	}
}

// targetDay resolves --day / --tomorrow into a moment within that day.
func targetDay(now time.Time) (time.Time, error) {
	switch {
	case dayFlag != "":
		d, err := time.ParseInLocation(dayLayout, dayFlag, time.Local)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid --day %q: %w", dayFlag, err)
		}
		return d.Add(12 * time.Hour), nil
	case tomorrowFlag:
		start, _ := agenda.DayWindow(now)
		return start.AddDate(0, 0, 1).Add(12 * time.Hour), nil
	default:
		return now, nil
	}
}

func printDay(w io.Writer, target time.Time, snap model.Snapshot) {
	events := agenda.ForDay(snap.Events, target)

	origin := "live"
	if snap.IsCached {
		origin = "cached " + snap.FetchedAt.Format("2006-01-02 15:04")
	}
	fmt.Fprintf(w, "%s (%s)\n", target.Format("Monday, 2 January 2006"), origin)
	if len(events) == 0 {
		fmt.Fprintln(w, "  nothing scheduled")
		return
	}
	for _, ev := range events {
		when := "all day"
		if !ev.AllDay {
			when = ev.Start.Format("15:04") + "-" + agenda.EffectiveEnd(ev).Format("15:04")
		}
		line := fmt.Sprintf("  %-13s %s", when, ev.Summary)
		if ev.Location != "" {
			line += " @ " + ev.Location
		}
		fmt.Fprintln(w, line)
	}
}

func serve(parent context.Context, a *app) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := web.NewServer(a.cfg, a.agg, a.store)

	sched := cron.New()
	if _, err := sched.AddFunc(a.cfg.RefreshCron, func() {
		if _, err := srv.Refresh(ctx); err != nil {
			appLog.Error("scheduled refresh failed", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", a.cfg.RefreshCron, err)
	}
	sched.Start()
	defer func() { <-sched.Stop().Done() }()

	// Warm the cache once at startup.
	go func() {
		if _, err := srv.Refresh(ctx); err != nil {
			appLog.Error("initial refresh failed", err)
		}
	}()

	httpSrv := &http.Server{
		Addr:              a.cfg.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+a.cfg.Listen, "refresh", a.cfg.RefreshCron)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		appLog.Info("signal received, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
