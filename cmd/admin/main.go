// Command admin is an operator CLI for maintenance tasks that don't
// belong on the hot path: seeding the knowledge index from a repository
// checkout, and manually requeuing a stuck resolution request.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sentineld/resolveops/pkg/adapters/repo"
	"github.com/sentineld/resolveops/pkg/config"
	"github.com/sentineld/resolveops/pkg/knowledge"
	"github.com/sentineld/resolveops/pkg/llm"
	"github.com/sentineld/resolveops/pkg/storage"
)

const reindexWorkers = 2

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "path to configuration directory")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: admin [-config-dir=...] <reindex-repo|requeue> [args...]")
		os.Exit(2)
	}

	log := slog.New(slog.NewTextHandler(os.Stdout, nil))
	cfg, err := config.Load(filepath.Join(*configDir, ".env"))
	if err != nil {
		log.Error("load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := storage.NewClient(ctx, cfg.DB)
	if err != nil {
		log.Error("connect database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	switch args[0] {
	case "reindex-repo":
		reindexRepo(ctx, args[1:], cfg, db, log)
	case "requeue":
		requeue(ctx, args[1:], db, log)
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", args[0])
		os.Exit(2)
	}
}

// reindexRepo walks every file under prefix in repoName and indexes it as
// a codebase knowledge pattern, for backfilling the knowledge base after
// onboarding a new repository.
func reindexRepo(ctx context.Context, args []string, cfg config.Config, db *storage.Client, log *slog.Logger) {
	fs := flag.NewFlagSet("reindex-repo", flag.ExitOnError)
	repoName := fs.String("repo", "", "repository name, e.g. org/service")
	prefix := fs.String("prefix", "", "path prefix to walk")
	_ = fs.Parse(args)

	if *repoName == "" {
		fmt.Fprintln(os.Stderr, "reindex-repo: -repo is required")
		os.Exit(2)
	}

	repoAdapter := repo.New(cfg.GitHubToken, log)
	retriever := knowledge.New(db.Knowledge, llm.NewLocalEmbedder(), log, reindexWorkers)

	paths, err := repoAdapter.ListFiles(ctx, *repoName, *prefix)
	if err != nil {
		log.Error("list files", "error", err)
		os.Exit(1)
	}

	contentByPath := make(map[string]string, len(paths))
	for _, p := range paths {
		content, err := repoAdapter.ReadFile(ctx, *repoName, p)
		if err != nil {
			log.Warn("skip unreadable file", "path", p, "error", err)
			continue
		}
		contentByPath[p] = content
	}

	retriever.IndexCodebasePatterns(ctx, *repoName, paths, contentByPath)
	log.Info("reindex-repo submitted", "repo", *repoName, "files", len(contentByPath))
}

// requeue resets a resolution request's state so the next poll picks it
// back up, for operator recovery after a worker crashed mid-attempt.
func requeue(ctx context.Context, args []string, db *storage.Client, log *slog.Logger) {
	fs := flag.NewFlagSet("requeue", flag.ExitOnError)
	incidentID := fs.String("incident", "", "incident ID to requeue")
	reason := fs.String("reason", "operator requeue", "reason recorded on the resolution request")
	_ = fs.Parse(args)

	if *incidentID == "" {
		fmt.Fprintln(os.Stderr, "requeue: -incident is required")
		os.Exit(2)
	}

	if err := db.Resolutions.Requeue(ctx, *incidentID, *reason); err != nil {
		log.Error("requeue", "incident_id", *incidentID, "error", err)
		os.Exit(1)
	}
	log.Info("requeued", "incident_id", *incidentID)
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
