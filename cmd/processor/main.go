package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"ev-telemetry/processing/internal/analysis"
	"ev-telemetry/processing/internal/buffer"
	"ev-telemetry/processing/internal/config"
	"ev-telemetry/processing/internal/enrich"
	"ev-telemetry/processing/internal/limits"
	"ev-telemetry/processing/internal/outlier"
	"ev-telemetry/processing/internal/pipeline"
	"ev-telemetry/processing/internal/store"
	httptransport "ev-telemetry/processing/internal/transport/http"
	"ev-telemetry/processing/internal/transport/ws"
)

func main() {
	root := &cobra.Command{
		Use:   "processor",
		Short: "EV telemetry stream processing and analytics engine",
	}
	root.AddCommand(serveCmd(), replayCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ingestion pipeline and analytics API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(); err != nil {
				log.Println("No .env file — using system environment variables")
			}
			return serve()
		},
	}
}

func serve() error {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisStore, err := store.NewRedisStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer redisStore.Close()

	sessionStore, err := store.NewSessionStore(ctx, cfg)
	if err != nil {
		// The analytics API still works on live data without history.
		log.Printf("session store unavailable, running live-only: %v", err)
		sessionStore = nil
	} else {
		defer sessionStore.Close()
	}

	buf := buffer.New(cfg.BufferMaxSize)
	thresholds := enrich.DefaultThresholds()
	thresholds.EfficiencyWindowS = cfg.EfficiencyWindowSec
	calc := enrich.NewCalculator(thresholds)

	detCfg := outlier.DefaultConfig()
	detCfg.WindowSize = cfg.RollingWindowSize
	detCfg.ZScoreThreshold = cfg.ZScoreThreshold
	detCfg.StuckSensorCount = cfg.StuckSensorCount
	detector := outlier.NewDetector(detCfg)

	dispatcher := pipeline.NewDispatcher(cfg.StoreChannelSize, cfg.LiveChannelSize, cfg.AlertChannelSize)

	var fetcher pipeline.SessionFetcher
	if sessionStore != nil {
		fetcher = sessionStore
	}
	proc := pipeline.NewProcessor(buf, calc, detector, dispatcher, fetcher)

	hub := ws.NewHub()

	// Downstream workers.
	if sessionStore != nil {
		go pipeline.NewStoreWriter(dispatcher.StoreChan, sessionStore, cfg.DBBatchSize, cfg.DBFlushIntervalMS).Run(ctx)
		go pipeline.NewAlertNotifier(dispatcher.AlertChan, sessionStore, redisStore).Run(ctx)
	}
	go pipeline.NewLivePusher(dispatcher.LiveChan, redisStore, hub).Run(ctx)

	// Ingest: pub/sub transport plus the HTTP feed share one channel so
	// the processor stays single-writer.
	subCh, closeSub := redisStore.Subscribe(ctx)
	defer closeSub()

	rawCh := make(chan []byte, 1000)
	go func() {
		for payload := range subCh {
			select {
			case rawCh <- payload:
			case <-ctx.Done():
				return
			}
		}
	}()
	go proc.Run(ctx, rawCh)

	resolver := limits.NewResolver(cfg, redisStore)
	server := httptransport.NewServer(buf, proc, sessionStore, redisStore, rawCh, resolver)

	router := server.Router()
	router.Handle("/ws", hub).Methods("GET")

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("telemetry processor listening on :%s (ingest channel %q)", cfg.HTTPPort, cfg.IngestChannel)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func replayCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "replay <session_id>",
		Short: "Load a historical session and print its analytics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(); err != nil {
				log.Println("No .env file — using system environment variables")
			}
			return replay(args[0], limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum records to load (0 = store default)")
	return cmd
}

func replay(sessionID string, limit int) error {
	cfg := config.Load()
	ctx := context.Background()

	sessionStore, err := store.NewSessionStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	defer sessionStore.Close()

	buf := buffer.New(cfg.BufferMaxSize)
	proc := pipeline.NewProcessor(
		buf,
		enrich.NewCalculator(enrich.DefaultThresholds()),
		outlier.NewDetector(outlier.DefaultConfig()),
		pipeline.NewDispatcher(1, 1, 1),
		sessionStore,
	)

	if limit <= 0 {
		limit = cfg.DefaultHistoryLimit
	}
	loaded, err := proc.LoadHistorical(ctx, sessionID, limit)
	if err != nil {
		return err
	}

	snapshot := buf.Snapshot()
	segCfg := analysis.DefaultSegmentConfig()
	out := map[string]interface{}{
		"session":  buf.Session(),
		"loaded":   loaded,
		"segments": analysis.DetectSegments(snapshot, segCfg),
		"laps":     analysis.DetectLaps(snapshot, segCfg),
		"energy":   analysis.ComputeEnergyBreakdown(snapshot, segCfg),
		"detector": proc.DetectorStats(),
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
