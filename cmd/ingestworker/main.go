// Command ingestworker consumes process_log_entry tasks and runs the
// log-to-incident reducer over them.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sentineld/resolveops/pkg/adapters/ticket"
	"github.com/sentineld/resolveops/pkg/bus"
	"github.com/sentineld/resolveops/pkg/config"
	"github.com/sentineld/resolveops/pkg/llm"
	"github.com/sentineld/resolveops/pkg/masking"
	"github.com/sentineld/resolveops/pkg/models"
	"github.com/sentineld/resolveops/pkg/reducer"
	"github.com/sentineld/resolveops/pkg/resolution"
	"github.com/sentineld/resolveops/pkg/storage"
	"github.com/sentineld/resolveops/pkg/telemetry"
)

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "path to configuration directory")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfg, err := config.Load(filepath.Join(*configDir, ".env"))
	if err != nil {
		log.Error("load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := storage.NewClient(ctx, cfg.DB)
	if err != nil {
		log.Error("connect database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	llmClient := llm.New(cfg.LLM, log)
	masker := masking.New(cfg.MaskingEnabled, cfg.MaskingGroup)
	tickets := ticket.New(cfg.LinearAPIToken, cfg.LinearTeamID, masker, log)
	gateway := bus.New(cfg.Bus.Brokers, log)
	defer gateway.Close()

	ledger := resolution.New(db.Resolutions, gateway, string(models.TaskResolveIncident), log)

	red := reducer.New(db.Logs, db.Incidents, db.Integrations, db.IntegrationConfigs, llmClient, tickets, ledger, log)

	handler := func(ctx context.Context, task models.Task) error {
		payload, ok := task.Payload["log_id"].(string)
		if !ok || payload == "" {
			log.Warn("process_log_entry task missing log_id, dropping")
			return nil
		}
		return red.ProcessLogEntry(ctx, payload)
	}

	consumer := bus.NewConsumer(cfg.Bus.Brokers, string(models.TaskProcessLogEntry), "resolveops-ingest", handler, log)
	defer consumer.Close()

	go serveTelemetry(cfg.HTTPPort, log)

	log.Info("ingestworker starting", "topic", models.TaskProcessLogEntry)
	if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("consumer stopped", "error", err)
		os.Exit(1)
	}
}

func serveTelemetry(port string, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	addr := ":" + port
	log.Info("telemetry server listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("telemetry server stopped", "error", err)
	}
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
