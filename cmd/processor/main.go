// Command processor runs the pipeline steps without the HTTP server:
//
//	processor update-db [-once=true] [-interval 30s]
//	processor segment -subjects a,b
//	processor update-table [-subject id]
//	processor recover
//	processor migrate [-down]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/bryanwahyu/brainvol/internal/app"
	"github.com/bryanwahyu/brainvol/internal/config"
	"github.com/bryanwahyu/brainvol/internal/infra/db/migrations"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: processor <update-db|segment|update-table|recover|migrate> [flags]")
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "update-db":
		err = updateDB(ctx, cfg, args)
	case "segment":
		err = segment(ctx, cfg, args)
	case "update-table":
		err = updateTable(ctx, cfg, args)
	case "recover":
		err = recoverStale(ctx, cfg)
	case "migrate":
		err = migrate(ctx, cfg, args)
	default:
		usage()
	}
	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}

func open(ctx context.Context, cfg *config.Config) *app.App {
	a, err := app.New(ctx, cfg, nil)
	if err != nil {
		log.Fatalf("init error: %v", err)
	}
	return a
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func updateDB(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("update-db", flag.ExitOnError)
	once := fs.Bool("once", true, "scan once and exit")
	interval := fs.Duration("interval", cfg.Watcher.Interval, "poll interval when -once=false")
	fs.Parse(args)

	a := open(ctx, cfg)
	defer a.Close()
	if !*once {
		a.Watcher.Interval = *interval
		return a.Watcher.Run(ctx)
	}
	rep, err := a.Watcher.RunOnce(ctx)
	if err != nil {
		return err
	}
	return printJSON(rep)
}

// recoverStale fails jobs and runs whose owner stopped renewing its lease.
// Jobs a live process still holds are untouched.
func recoverStale(ctx context.Context, cfg *config.Config) error {
	a := open(ctx, cfg)
	defer a.Close()
	return a.Recover(ctx)
}

func segment(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("segment", flag.ExitOnError)
	list := fs.String("subjects", "", "comma separated subject ids")
	fs.Parse(args)

	var ids []string
	for _, id := range strings.Split(*list, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return fmt.Errorf("-subjects is required")
	}

	a := open(ctx, cfg)
	defer a.Close()
	results := a.Segmentation.Dispatch(ctx, ids...)
	// jobs are detached from ctx; wait for every dispatched one
	a.Segmentation.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			continue
		}
		s, err := a.Registry.Get(ctx, r.SubjectID)
		if err != nil {
			return err
		}
		log.Printf("subject=%s status=%s diagnostic=%q", s.ID, s.Status, firstLine(s.Diagnostic))
	}
	if err := printJSON(results); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d subjects were not dispatched", failed, len(results))
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func updateTable(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("update-table", flag.ExitOnError)
	subject := fs.String("subject", "", "update a single subject; empty rebuilds the full table")
	fs.Parse(args)

	a := open(ctx, cfg)
	defer a.Close()
	if *subject != "" {
		n, err := a.Volumes.UpdateFromSubject(ctx, *subject)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"subject_id": *subject, "rows": n})
	}
	rep, err := a.Volumes.RebuildFullTable(ctx)
	if err != nil {
		return err
	}
	return printJSON(rep)
}

func migrate(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	down := fs.Bool("down", false, "roll back every migration")
	fs.Parse(args)

	db, dialect, err := app.OpenDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	if *down {
		if err := migrations.Down(db, string(dialect)); err != nil {
			return err
		}
	}
	v, dirty, err := migrations.Version(db, string(dialect))
	if err != nil {
		return err
	}
	log.Printf("migrate: driver=%s version=%d dirty=%t", dialect, v, dirty)
	return nil
}
