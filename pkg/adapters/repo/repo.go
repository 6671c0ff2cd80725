// Package repo is the GitHub-backed repository adapter (spec §4.L): reads
// and writes files in a target repository, opens pull requests for
// confirmed fixes, and shells out to the repo's own toolchain to validate
// a patch before it's proposed. Grounded on the teacher's runbook.GitHubClient
// (pkg/runbook/github.go) HTTP-first style, generalized from "download
// markdown by URL" to full read/write/PR access via the real GitHub SDK.
package repo

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/google/go-github/v56/github"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"

	"github.com/sentineld/resolveops/pkg/models"
)

// Adapter implements sandbox.RepoReader, sandbox.Validator, and
// workspace.RepoWriter against a real GitHub repository.
type Adapter struct {
	client  *github.Client
	breaker *gobreaker.CircuitBreaker[any]
	log     *slog.Logger
}

// New builds an Adapter authenticated with a personal access / installation
// token. Every GitHub API call is wrapped in a circuit breaker (spec §5's
// resilience policy, generalized from pkg/llm.Client's LLM breaker to this
// adapter's outbound HTTP calls) so a GitHub outage trips open rather than
// letting every incident's run hang against a dead dependency.
func New(token string, log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "github-repo-adapter",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Adapter{client: github.NewClient(oauth2.NewClient(context.Background(), ts)), breaker: breaker, log: log}
}

func splitRepoName(repoName string) (owner, repo string, err error) {
	parts := strings.SplitN(repoName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("repo name must be \"owner/repo\": %q", repoName)
	}
	return parts[0], parts[1], nil
}

// ReadFile implements pkg/sandbox.RepoReader.
func (a *Adapter) ReadFile(ctx context.Context, repoName, path string) (string, error) {
	owner, repo, err := splitRepoName(repoName)
	if err != nil {
		return "", err
	}

	raw, err := a.breaker.Execute(func() (any, error) {
		content, _, _, err := a.client.Repositories.GetContents(ctx, owner, repo, path, nil)
		return content, err
	})
	if err != nil {
		return "", fmt.Errorf("get contents %s/%s: %w", repoName, path, err)
	}
	content, _ := raw.(*github.RepositoryContent)
	if content == nil {
		return "", fmt.Errorf("%s is a directory, not a file", path)
	}
	decoded, err := content.GetContent()
	if err != nil {
		return "", fmt.Errorf("decode contents %s/%s: %w", repoName, path, err)
	}
	return decoded, nil
}

// ListFiles implements pkg/sandbox.RepoReader: returns file paths under
// prefix (non-recursive — one directory level, matching GitHub's Contents
// API shape).
func (a *Adapter) ListFiles(ctx context.Context, repoName, prefix string) ([]string, error) {
	owner, repo, err := splitRepoName(repoName)
	if err != nil {
		return nil, err
	}

	raw, err := a.breaker.Execute(func() (any, error) {
		_, dirContents, _, err := a.client.Repositories.GetContents(ctx, owner, repo, prefix, nil)
		return dirContents, err
	})
	if err != nil {
		return nil, fmt.Errorf("list contents %s/%s: %w", repoName, prefix, err)
	}
	dirContents, _ := raw.([]*github.RepositoryContent)

	paths := make([]string, 0, len(dirContents))
	for _, item := range dirContents {
		if item.GetType() == "file" {
			paths = append(paths, item.GetPath())
		}
	}
	return paths, nil
}

// Validate implements pkg/sandbox.Validator. For a Go repository it shells
// out to `gofmt -l` against the proposed file contents, written to a
// scratch directory — a minimal syntax check that doesn't require a full
// checkout of the repository.
func (a *Adapter) Validate(ctx context.Context, repoName string, files map[string]string) (ok bool, output string, err error) {
	for path, content := range files {
		if !strings.HasSuffix(path, ".go") {
			continue
		}
		cmd := exec.CommandContext(ctx, "gofmt", "-l")
		cmd.Stdin = strings.NewReader(content)
		out, runErr := cmd.CombinedOutput()
		if runErr != nil {
			return false, string(out), fmt.Errorf("gofmt failed for %s: %w", path, runErr)
		}
		if strings.TrimSpace(string(out)) != "" {
			return false, fmt.Sprintf("%s has formatting/syntax issues", path), nil
		}
	}
	return true, "ok", nil
}

// WriteScratchpadFile implements pkg/workspace.RepoWriter: commits a
// single-file update directly to the repository's default branch.
func (a *Adapter) WriteScratchpadFile(repoName, path, content string) error {
	owner, repo, err := splitRepoName(repoName)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	existing, _, _, getErr := a.client.Repositories.GetContents(ctx, owner, repo, path, nil)
	opts := &github.RepositoryContentFileOptions{
		Message: github.String("update scratchpad"),
		Content: []byte(content),
	}
	if getErr == nil && existing != nil {
		opts.SHA = existing.SHA
	}

	_, err = a.breaker.Execute(func() (any, error) {
		_, _, err := a.client.Repositories.UpdateFile(ctx, owner, repo, path, opts)
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("update file %s/%s: %w", repoName, path, err)
	}
	return nil
}

// DeleteScratchpadFile implements pkg/workspace.RepoWriter.
func (a *Adapter) DeleteScratchpadFile(repoName, path string) error {
	owner, repo, err := splitRepoName(repoName)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	existing, _, _, err := a.client.Repositories.GetContents(ctx, owner, repo, path, nil)
	if err != nil {
		return nil // already gone
	}

	_, err = a.breaker.Execute(func() (any, error) {
		_, _, err := a.client.Repositories.DeleteFile(ctx, owner, repo, path, &github.RepositoryContentFileOptions{
			Message: github.String("remove scratchpad"),
			SHA:     existing.SHA,
		})
		return nil, err
	})
	return err
}

// CreatePullRequest opens a branch containing every file in files and a PR
// against the repository's default branch, returning the PR URL. Used by
// the agent loop's post-run bookkeeping once a fix has validated cleanly.
func (a *Adapter) CreatePullRequest(ctx context.Context, repoName string, inc *models.Incident, files map[string]string) (*models.PRInfo, error) {
	owner, repo, err := splitRepoName(repoName)
	if err != nil {
		return nil, err
	}

	rawRepoInfo, err := a.breaker.Execute(func() (any, error) {
		repoInfo, _, err := a.client.Repositories.Get(ctx, owner, repo)
		return repoInfo, err
	})
	if err != nil {
		return nil, fmt.Errorf("get repo %s: %w", repoName, err)
	}
	base := rawRepoInfo.(*github.Repository).GetDefaultBranch()

	rawBaseRef, err := a.breaker.Execute(func() (any, error) {
		baseRef, _, err := a.client.Git.GetRef(ctx, owner, repo, "refs/heads/"+base)
		return baseRef, err
	})
	if err != nil {
		return nil, fmt.Errorf("get base ref: %w", err)
	}
	baseRef := rawBaseRef.(*github.Reference)

	branch := fmt.Sprintf("healops/incident-%s", inc.ID)
	_, err = a.breaker.Execute(func() (any, error) {
		_, _, err := a.client.Git.CreateRef(ctx, owner, repo, &github.Reference{
			Ref:    github.String("refs/heads/" + branch),
			Object: baseRef.Object,
		})
		return nil, err
	})
	if err != nil {
		return nil, fmt.Errorf("create branch %s: %w", branch, err)
	}

	original := make(map[string]string, len(files))
	changed := make([]string, 0, len(files))
	for path, content := range files {
		existing, _, _, getErr := a.client.Repositories.GetContents(ctx, owner, repo, path, &github.RepositoryContentGetOptions{Ref: branch})
		opts := &github.RepositoryContentFileOptions{
			Message: github.String(fmt.Sprintf("fix: %s", inc.Title)),
			Content: []byte(content),
			Branch:  github.String(branch),
		}
		if getErr == nil && existing != nil {
			opts.SHA = existing.SHA
			if prevContent, decodeErr := existing.GetContent(); decodeErr == nil {
				original[path] = prevContent
			}
		}
		if _, err := a.breaker.Execute(func() (any, error) {
			_, _, err := a.client.Repositories.UpdateFile(ctx, owner, repo, path, opts)
			return nil, err
		}); err != nil {
			return nil, fmt.Errorf("commit %s to %s: %w", path, branch, err)
		}
		changed = append(changed, path)
	}

	rawPR, err := a.breaker.Execute(func() (any, error) {
		pr, _, err := a.client.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
			Title: github.String(fmt.Sprintf("Automated fix: %s", inc.Title)),
			Head:  github.String(branch),
			Base:  github.String(base),
			Body:  github.String(prDescription(inc)),
		})
		return pr, err
	})
	if err != nil {
		return nil, fmt.Errorf("create pull request: %w", err)
	}
	pr := rawPR.(*github.PullRequest)

	return &models.PRInfo{
		URL: pr.GetHTMLURL(), Number: pr.GetNumber(),
		FilesChanged: changed, OriginalContents: original,
	}, nil
}

func prDescription(inc *models.Incident) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Automated fix for incident %s.\n\n", inc.ID)
	if inc.RootCause != nil {
		fmt.Fprintf(&b, "**Root cause:** %s\n\n", *inc.RootCause)
	}
	if inc.CodeFixExplanation != nil {
		fmt.Fprintf(&b, "**Fix:** %s\n", *inc.CodeFixExplanation)
	}
	return b.String()
}
