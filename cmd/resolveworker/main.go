// Command resolveworker consumes resolve_incident tasks, claims the
// resolution request, and drives the agent loop to completion.
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

	"github.com/sentineld/resolveops/pkg/adapters/chat"
	"github.com/sentineld/resolveops/pkg/adapters/repo"
	"github.com/sentineld/resolveops/pkg/agentloop"
	"github.com/sentineld/resolveops/pkg/bus"
	"github.com/sentineld/resolveops/pkg/config"
	"github.com/sentineld/resolveops/pkg/knowledge"
	"github.com/sentineld/resolveops/pkg/llm"
	"github.com/sentineld/resolveops/pkg/masking"
	"github.com/sentineld/resolveops/pkg/memory"
	"github.com/sentineld/resolveops/pkg/models"
	"github.com/sentineld/resolveops/pkg/planner"
	"github.com/sentineld/resolveops/pkg/resolution"
	"github.com/sentineld/resolveops/pkg/sandbox"
	"github.com/sentineld/resolveops/pkg/storage"
	"github.com/sentineld/resolveops/pkg/telemetry"

	"github.com/redis/go-redis/v9"
)

const knowledgeIndexWorkers = 4

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

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer rdb.Close()

	llmClient := llm.New(cfg.LLM, log)
	memStore := memory.NewCached(memory.New(db.Memory, log), rdb, log)
	knowledgeRetriever := knowledge.New(db.Knowledge, llm.NewLocalEmbedder(), log, knowledgeIndexWorkers)

	pl := planner.New(func(ctx context.Context, system, user string, maxTokens int64) (string, error) {
		text, _, err := llmClient.Complete(ctx, system, user, maxTokens)
		return text, err
	}, log)

	gateway := bus.New(cfg.Bus.Brokers, log)
	defer gateway.Close()
	ledger := resolution.New(db.Resolutions, gateway, string(models.TaskResolveIncident), log)

	masker := masking.New(cfg.MaskingEnabled, cfg.MaskingGroup)
	repoAdapter := repo.New(cfg.GitHubToken, log)
	notifier := chat.NewSlackNotifier(cfg.SlackToken, cfg.SlackChannel, cfg.DashboardURL, masker, log)

	selector := func(ctx context.Context, prompt string) (sandbox.ToolCall, bool, error) {
		text, _, err := llmClient.Complete(ctx, actionSelectionSystemPrompt, prompt, 1500)
		if err != nil {
			return sandbox.ToolCall{}, false, err
		}
		return agentloop.ParseAction(text)
	}

	loop := agentloop.New(db.Incidents, db.Runs, memStore, knowledgeRetriever, pl, ledger, selector, notifier, cfg.AgentLoop, log)

	handler := func(ctx context.Context, task models.Task) error {
		incidentID, _ := task.Payload["incident_id"].(string)
		if incidentID == "" {
			log.Warn("resolve_incident task missing incident_id, dropping")
			return nil
		}

		claimed, err := ledger.TryClaimIncidentResolution(ctx, incidentID)
		if err != nil {
			return err
		}
		if !claimed {
			log.Info("resolution already in flight, skipping", "incident_id", incidentID)
			return nil
		}

		inc, err := db.Incidents.Get(ctx, incidentID)
		if err != nil {
			return err
		}
		repoName := ""
		if inc.RepoName != nil {
			repoName = *inc.RepoName
		}

		return loop.Run(ctx, incidentID, agentloop.RepoWorkspace{
			RepoName:  repoName,
			Reader:    repoAdapter,
			Validator: repoAdapter,
		})
	}

	consumer := bus.NewConsumer(cfg.Bus.Brokers, string(models.TaskResolveIncident), "resolveops-resolve", handler, log)
	defer consumer.Close()

	go serveTelemetry(cfg.HTTPPort, log)

	log.Info("resolveworker starting", "topic", models.TaskResolveIncident)
	if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("consumer stopped", "error", err)
		os.Exit(1)
	}
}

// actionSelectionSystemPrompt instructs the LLM to emit the agentloop's
// fixed JSON action protocol (agentloop.ParseAction) rather than prose.
const actionSelectionSystemPrompt = "You are an automated incident-resolution agent working inside a fixed " +
	"tool-call protocol. Respond with exactly one JSON object describing the next action: either " +
	"{\"tool\": \"<name>\", \"arguments\": {...}} or {\"complete\": true}. Never include explanation text " +
	"outside the JSON object."

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
