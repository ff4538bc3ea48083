package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tokenworks/uplink/internal/config"
	"github.com/tokenworks/uplink/internal/httpapi"
	"github.com/tokenworks/uplink/internal/scansource"
	"github.com/tokenworks/uplink/internal/tokendb"
	"github.com/tokenworks/uplink/internal/uplink"
)

func main() {
	configPath := flag.String("config", envOr("UPLINK_CONFIG", "uplink.yaml"), "path to the YAML configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("config validation failed: %v", err)
	}
	config.Normalize(cfg)

	deviceID, err := config.EnsureDeviceID(cfg)
	if err != nil {
		log.Fatalf("resolving device identity failed: %v", err)
	}
	log.Printf("uplinkd starting as %s (orchestrator %s)", deviceID, cfg.Orchestrator.BaseURL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	queue, err := uplink.BuildEventQueue(cfg.Queue.DSN, uplink.FileQueueOptions{
		Capacity:        cfg.Queue.Capacity,
		CorruptionLimit: cfg.Queue.CorruptionLimitBytes,
		Logger:          log.Default(),
	})
	if err != nil {
		log.Fatalf("building event queue failed: %v", err)
	}
	defer queue.Close()

	initResult, err := queue.Initialize()
	if err != nil {
		log.Fatalf("initializing event queue failed: %v", err)
	}
	if initResult.Reset {
		log.Printf("queue reset at boot: %s", initResult.ResetReason)
	} else {
		log.Printf("queue recovered %d pending scans", initResult.Records)
	}

	client, err := uplink.NewClient(cfg.Orchestrator.BaseURL, deviceID, uplink.ClientOptions{
		SendTimeout:        cfg.Orchestrator.SendTimeout(),
		BatchTimeout:       cfg.Orchestrator.BatchTimeout(),
		InsecureSkipVerify: cfg.Orchestrator.InsecureSkipTLSVerify,
		Logger:             log.Default(),
	})
	if err != nil {
		log.Fatalf("building submission client failed: %v", err)
	}

	tracker := uplink.NewStateTracker()
	// The diagnostics listener has no link-layer callback to wire up, so
	// the link is considered up from the start; the probe cycle settles
	// the real state within one period.
	tracker.Set(uplink.StateLinkUp)

	uplink.WireMetrics(queue, tracker)

	worker := uplink.NewSyncWorker(queue, client, tracker, uplink.SyncWorkerOptions{
		ProbePeriod: cfg.Sync.ProbePeriod(),
		BatchLimit:  cfg.Sync.BatchLimit,
		DrainPause:  cfg.Sync.DrainPause(),
		Logger:      log.Default(),
	})
	go worker.Run(ctx)

	router := uplink.NewRouter(client, queue, tracker, log.Default())

	if cfg.Sync.SyncTokens {
		go runTokenSync(ctx, cfg, client)
	}

	if strings.TrimSpace(cfg.Sync.SpoolDir) != "" {
		source, err := scansource.NewSpoolSource(cfg.Sync.SpoolDir, deviceID, log.Default())
		if err != nil {
			log.Fatalf("building spool source failed: %v", err)
		}
		go func() {
			if err := source.Run(ctx); err != nil {
				log.Printf("spool source stopped: %v", err)
				stop()
			}
		}()
		go routeEvents(ctx, router, source.Events())
	}

	apiServer := httpapi.NewServer(queue, tracker, worker, httpapi.ServerConfig{
		DeviceID:        deviceID,
		TeamID:          cfg.Device.TeamID,
		OrchestratorURL: cfg.Orchestrator.BaseURL,
		Logger:          log.Default(),
	})
	log.Printf("diagnostics listening on %s", cfg.Diagnostics.ListenAddr)
	if err := httpapi.Serve(ctx, cfg.Diagnostics.ListenAddr, apiServer); err != nil {
		log.Fatalf("diagnostics server failed: %v", err)
	}
	log.Printf("uplinkd stopped")
}

// routeEvents feeds a source into the router until the channel closes.
func routeEvents(ctx context.Context, router *uplink.Router, events <-chan uplink.ScanEvent) {
	for event := range events {
		result := router.Route(ctx, event)
		log.Printf("scan %s: %s", event.TokenID, result)
	}
}

// runTokenSync refreshes the token metadata database once at startup,
// then hourly.
func runTokenSync(ctx context.Context, cfg *config.Config, client *uplink.Client) {
	store, err := tokendb.NewStore(cfg.Sync.TokenDBPath)
	if err != nil {
		log.Printf("token database disabled: %v", err)
		return
	}
	if count, err := store.Load(); err != nil {
		log.Printf("token database load: %v", err)
	} else if count > 0 {
		log.Printf("token database loaded with %d tokens", count)
	}

	sync := func() {
		count, err := store.Sync(ctx, client)
		if err != nil {
			log.Printf("token database sync failed: %v", err)
			return
		}
		log.Printf("token database synced, %d tokens", count)
	}

	sync()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sync()
		}
	}
}

func envOr(name, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(name)); value != "" {
		return value
	}
	return fallback
}
