package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"SE3Price/internal/di"
	"SE3Price/pkg/config"
	"SE3Price/pkg/server"
	xutil "SE3Price/pkg/util"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "config/config.yaml", "config file path")
	job := flag.String("job", server.JobDaily, "backfill | daily | rebuild | train | infer | serve")
	asOfFlag := flag.String("as-of", "", "run as if it were this time (RFC 3339 or YYYY-MM-DD); default now")
	flag.Parse()

	// Load config
	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	var asOf time.Time
	if *asOfFlag != "" {
		t, ok := xutil.ParseTime(*asOfFlag)
		if !ok {
			log.Fatalf("invalid -as-of %q", *asOfFlag)
		}
		if len(*asOfFlag) == len(time.DateOnly) {
			// a bare date means local midnight in the region
			t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, cfg.Location())
		}
		asOf = t
	}

	// Wire DI: the dashboard needs none of the batch infrastructure
	var app *server.App
	if *job == server.JobServe {
		app, err = di.InitializeDashboard(cfg)
	} else {
		app, err = di.InitializeJobs(cfg, di.JobName(*job))
	}
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	runErr := app.RunJob(context.Background(), *job, asOf)
	if err := app.Close(); err != nil {
		log.Printf("close: %v", err)
	}
	if runErr != nil {
		log.Printf("%v", runErr)
		os.Exit(1)
	}
}
