package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"remindd/internal/app"
	"remindd/internal/config"
	"remindd/internal/digest"
	"remindd/internal/model"
)

func main() {
	var (
		cfgPath   string
		run       string
		olderThan int
		importF   string
		exportF   string
		days      int
	)
	flag.StringVar(&cfgPath, "config", "./remindd.yaml", "path to config (yaml or json)")
	flag.StringVar(&run, "run", "", "run one job and exit: check|daily-digest|weekly-digest|stats|cleanup")
	flag.IntVar(&olderThan, "older-than-days", 0, "cleanup: remove history older than N days (default: retention_days)")
	flag.StringVar(&importF, "import", "", "validate and store the events in this file, then exit")
	flag.StringVar(&exportF, "export-ics", "", "write the schedule as iCalendar to this file, then exit")
	flag.IntVar(&days, "days", 0, "export-ics: expand occurrences of the next N days instead of recurrence rules")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	if run != "" || importF != "" || exportF != "" {
		err := oneShot(ctx, a, run, olderThan, importF, exportF, days)
		_ = a.Stop(context.Background(), app.StopOneShot)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}

	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		os.Exit(1)
	}

	reason := app.StopSIGTERM
	select {
	case <-ctx.Done():
	case <-a.Done():
		reason = app.StopFatalError
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)
	if err := a.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func oneShot(ctx context.Context, a *app.App, run string, olderThan int, importF, exportF string, days int) error {
	if importF != "" {
		return importEvents(ctx, a, importF)
	}
	if exportF != "" {
		return exportICS(ctx, a, exportF, days)
	}

	s := a.Scheduler()
	var out any
	switch strings.ToLower(run) {
	case "check":
		out = s.CheckNow(ctx)
	case "daily-digest":
		out = s.SendDailyDigestNow(ctx)
	case "weekly-digest":
		out = s.SendWeeklyDigestNow(ctx)
	case "cleanup":
		out = s.Cleanup(ctx, olderThan)
	case "stats":
		out = s.Stats()
	default:
		return fmt.Errorf("unknown -run %q", run)
	}
	return printJSON(out)
}

func importEvents(ctx context.Context, a *app.App, path string) error {
	st := a.Store()
	if st == nil {
		return errors.New("import needs storage to be configured")
	}
	events, err := config.LoadEvents(path)
	if err != nil {
		return err
	}
	for _, ev := range events {
		if err := st.SaveEvent(ctx, ev); err != nil {
			return fmt.Errorf("save %s: %w", ev.ID, err)
		}
	}
	return printJSON(map[string]any{"imported": len(events)})
}

func exportICS(ctx context.Context, a *app.App, path string, days int) error {
	st := a.Store()
	if st == nil {
		return errors.New("export needs storage to be configured")
	}
	events, err := st.FindActiveEvents(ctx)
	if err != nil {
		return err
	}
	loc := a.Scheduler().Location()
	now := time.Now()

	var doc string
	if days > 0 {
		occ := digest.Upcoming(events, days, loc, now)
		defs := make(map[string]model.EventDefinition, len(events))
		for _, ev := range events {
			defs[ev.ID] = ev.EventDefinition
		}
		doc = digest.Calendar(digest.Digest{GeneratedAt: now, LookoutDays: days, Occurrences: occ, Events: defs})
	} else if doc, err = digest.ExportCalendar(events, loc, now); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		return err
	}
	return printJSON(map[string]any{"events": len(events), "path": path})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
