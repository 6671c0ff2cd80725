// Command api serves the HTTP surface for triggering log processing,
// inspecting incidents, and requesting a resolution attempt.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sentineld/resolveops/pkg/adapters/chat"
	"github.com/sentineld/resolveops/pkg/bus"
	"github.com/sentineld/resolveops/pkg/config"
	"github.com/sentineld/resolveops/pkg/models"
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

	gateway := bus.New(cfg.Bus.Brokers, log)
	defer gateway.Close()
	ledger := resolution.New(db.Resolutions, gateway, string(models.TaskResolveIncident), log)

	gin.SetMode(getEnv("GIN_MODE", "release"))
	router := gin.Default()

	router.GET("/health", func(c *gin.Context) {
		reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		if err := db.Pool.Ping(reqCtx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	router.GET("/metrics", gin.WrapH(telemetry.Handler()))

	router.POST("/slack/events", slackEventsHandler(cfg.SlackSigningSecrets, log))

	v1 := router.Group("/v1")
	{
		v1.GET("/incidents/:id", func(c *gin.Context) {
			inc, err := db.Incidents.Get(c.Request.Context(), c.Param("id"))
			if err != nil {
				status := http.StatusInternalServerError
				if err == storage.ErrNotFound {
					status = http.StatusNotFound
				}
				c.JSON(status, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, inc)
		})

		v1.POST("/log-entries/:id/process", func(c *gin.Context) {
			logID := c.Param("id")
			ok := gateway.Publish(c.Request.Context(), string(models.TaskProcessLogEntry), models.Task{
				TaskType:  models.TaskProcessLogEntry,
				Payload:   map[string]any{"log_id": logID},
				CreatedAt: time.Now().UTC(),
			}, logID)
			if !ok {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to publish task"})
				return
			}
			c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
		})

		v1.POST("/incidents/:id/resolve", func(c *gin.Context) {
			var body struct {
				RequestedByUserID string `json:"requested_by_user_id"`
				Trigger           string `json:"trigger"`
			}
			_ = c.ShouldBindJSON(&body)
			if body.Trigger == "" {
				body.Trigger = "manual"
			}

			queued, err := ledger.EnsureIncidentResolutionRequested(c.Request.Context(), c.Param("id"), body.RequestedByUserID, body.Trigger)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusAccepted, gin.H{"queued": queued})
		})
	}

	srv := &http.Server{Addr: ":" + cfg.HTTPPort, Handler: router}
	go func() {
		log.Info("api server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("api server stopped", "error", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}

// slackEventsHandler answers Slack's Events API webhook (spec §6): URL
// verification challenges are answered before any signature check, every
// other payload must pass HMAC verification against one of the
// configured signing secrets, and a mentioned persona (if any) is
// resolved from the event text. Persona routing itself — actually
// dispatching to a specific bot identity — belongs to deployment-time
// wiring once personas are configured; this handler only does detection.
func slackEventsHandler(signingSecrets []string, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
			return
		}

		var payload struct {
			Type      string `json:"type"`
			Challenge string `json:"challenge"`
			Event     struct {
				Type    string `json:"type"`
				Text    string `json:"text"`
				Channel string `json:"channel"`
				User    string `json:"user"`
			} `json:"event"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
			return
		}

		if payload.Type == "url_verification" {
			c.JSON(http.StatusOK, gin.H{"challenge": payload.Challenge})
			return
		}

		timestamp := c.GetHeader("X-Slack-Request-Timestamp")
		signature := c.GetHeader("X-Slack-Signature")
		if !chat.VerifySignature(signingSecrets, timestamp, signature, string(body), time.Now()) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid slack signature"})
			return
		}

		userIDs, displayNames := chat.ExtractMentions(payload.Event.Text)
		if persona, matched := chat.ResolveMention(payload.Event.Text, userIDs, displayNames, nil); matched {
			log.Info("slack event mention resolved", "persona", persona.Name, "channel", payload.Event.Channel)
		} else {
			log.Info("slack event received", "channel", payload.Event.Channel, "user", payload.Event.User)
		}
		c.Status(http.StatusOK)
	}
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
