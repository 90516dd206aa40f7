// mirrorctl drives the remote mirror by hand: connection checks, full
// pushes, pulls back into the local store, and synthetic run records.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"aipulse/config"
	"aipulse/mirror"
	"aipulse/runlog"
	"aipulse/store"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	var (
		cfgPath = flag.String("config", "./config.yaml", "path to config file")
		test    = flag.Bool("test", false, "test the mirror connection and exit")
		push    = flag.Bool("push", false, "push every local article to the mirror")
		pull    = flag.Bool("pull", false, "pull the mirror into the local store")
		logRun  = flag.Bool("log-run", false, "insert a synthetic ok run record")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fail("loading config: %v", err)
	}
	if !cfg.Mirror.Enabled() {
		fail("no mirror DSN configured; set mirror.dsn or AIPULSE_MIRROR_DSN")
	}

	db, err := mirror.Open(cfg.Mirror.DSN)
	if err != nil {
		fail("%v", err)
	}
	defer db.Close()
	agent := mirror.New(db, cfg.Mirror)

	ctx := context.Background()

	switch {
	case *test:
		if err := agent.Ping(ctx); err != nil {
			fail("connection test failed: %v", err)
		}
		fmt.Println("mirror connection ok")

	case *logRun:
		if err := agent.EnsureSchema(ctx); err != nil {
			fail("%v", err)
		}
		run := runlog.Run{RunAt: time.Now().UTC(), Status: "ok", SourceCounts: map[string]int{}}
		if err := agent.LogRun(ctx, run); err != nil {
			fail("%v", err)
		}
		fmt.Println("run record inserted")

	case *pull:
		articles, err := agent.Pull(ctx)
		if err != nil {
			fail("%v", err)
		}
		local := store.New(cfg.StorePath)
		added, err := local.Reconcile(articles)
		if err != nil {
			fail("%v", err)
		}
		fmt.Printf("pulled %d articles, %d new locally\n", len(articles), added)

	case *push:
		pushAll(ctx, agent, cfg.StorePath)

	default:
		// No operation flag: verify the connection, then sync everything.
		if err := agent.Ping(ctx); err != nil {
			fail("connection test failed: %v", err)
		}
		pushAll(ctx, agent, cfg.StorePath)
	}
}

func pushAll(ctx context.Context, agent *mirror.Agent, storePath string) {
	local := store.New(storePath)
	doc, err := local.Snapshot()
	if err != nil {
		fail("%v", err)
	}
	if err := agent.EnsureSchema(ctx); err != nil {
		fail("%v", err)
	}

	res := agent.SyncAll(ctx, doc.Articles)
	fmt.Printf("upserted %d articles, %d errors\n", res.Upserted, res.Errors)
	if res.Errors > 0 {
		os.Exit(1)
	}
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "mirrorctl: "+format+"\n", args...)
	os.Exit(1)
}
