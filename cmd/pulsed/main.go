package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"pulse/internal/daemon"
	"pulse/internal/storage"
)

func main() {
	var (
		cfgPath string
		history string
		limit   int
		check   bool
	)
	flag.StringVar(&cfgPath, "config", "./config.json", "path to config (json or yaml)")
	flag.StringVar(&history, "history", "", "print recent runs of the named pulse and exit")
	flag.IntVar(&limit, "limit", 20, "number of runs printed by -history")
	flag.BoolVar(&check, "check", false, "validate the config and exit")
	flag.Parse()

	switch {
	case check:
		cfg, err := daemon.Check(cfgPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "config invalid:", err)
			os.Exit(1)
		}
		fmt.Printf("config ok: %d pulse(s)\n", len(cfg.Pulses))
		return
	case history != "":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		runs, err := daemon.History(ctx, cfgPath, history, limit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "history:", err)
			if errors.Is(err, daemon.ErrNoHistory) {
				os.Exit(2)
			}
			os.Exit(1)
		}
		printRuns(os.Stdout, runs)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app, err := daemon.New(cfgPath)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
	if err := app.Start(ctx); err != nil {
		fmt.Println("fatal start:", err)
		os.Exit(1)
	}

	<-ctx.Done()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = app.Stop(stopCtx)
}

func printRuns(w io.Writer, runs []storage.RunRecord) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "no runs recorded")
		return
	}
	for _, r := range runs {
		status := "ok"
		if !r.OK() {
			status = "FAIL " + r.Error
		}
		fmt.Fprintf(w, "#%-6d %s %6dms %s", r.ID, r.Started.Local().Format(time.DateTime), r.RuntimeMS, status)
		if r.Result != "" && r.OK() {
			fmt.Fprintf(w, " %s", r.Result)
		}
		if len(r.Warnings) > 0 {
			fmt.Fprintf(w, " warnings=[%s]", strings.Join(r.Warnings, "; "))
		}
		fmt.Fprintln(w)
	}
}
