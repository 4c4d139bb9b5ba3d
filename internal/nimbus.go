package internal

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgellow/nimbus/internal/authn"
	"github.com/dgellow/nimbus/internal/config"
	"github.com/dgellow/nimbus/internal/crypto"
	"github.com/dgellow/nimbus/internal/csrf"
	"github.com/dgellow/nimbus/internal/events"
	"github.com/dgellow/nimbus/internal/idp"
	"github.com/dgellow/nimbus/internal/log"
	"github.com/dgellow/nimbus/internal/login"
	"github.com/dgellow/nimbus/internal/replay"
	"github.com/dgellow/nimbus/internal/server"
	"github.com/dgellow/nimbus/internal/session"
	"github.com/dgellow/nimbus/internal/storage"
	"github.com/redis/go-redis/v9"
)

// replaySweepInterval is how often the in-memory replay guard drops expired claims
const replaySweepInterval = time.Minute

// Nimbus is the complete login service
type Nimbus struct {
	config     config.Config
	httpServer *server.HTTPServer
	handler    http.Handler
	users      storage.UserStore
	events     events.Publisher
	replay     replay.Guard
	redis      *redis.Client
}

// New builds the application with all dependencies wired
func New(ctx context.Context, cfg config.Config) (*Nimbus, error) {
	log.LogInfoWithFields("nimbus", "Building application", map[string]any{
		"baseURL": cfg.BaseURL,
		"storage": string(cfg.Storage),
		"google":  cfg.Google.Enabled(),
		"github":  cfg.GitHub.Enabled(),
	})

	master := []byte(cfg.SessionSecret)
	sessions, err := session.NewManager(master, cfg.SessionKeyID, session.DefaultTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create session manager: %w", err)
	}
	csrfKey, err := crypto.DeriveKey(master, cfg.SessionKeyID, crypto.PurposeCSRF)
	if err != nil {
		return nil, err
	}
	challengeKey, err := crypto.DeriveKey(master, cfg.SessionKeyID, crypto.PurposeChallenge)
	if err != nil {
		return nil, err
	}

	providers, err := idp.NewRegistry(ctx, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to setup identity providers: %w", err)
	}

	users, err := OpenUserStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to setup storage: %w", err)
	}

	app := &Nimbus{config: cfg, users: users}
	if err := app.setupShared(ctx); err != nil {
		_ = users.Close()
		return nil, err
	}

	challenges, err := login.NewCookieStore(challengeKey, cfg.ChallengeTTL)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to create challenge store: %w", err)
	}

	auth := authn.NewService(providers, users, sessions, app.events)
	flow := login.NewFlow(login.FlowConfig{
		Providers:       providers,
		Store:           challenges,
		Replay:          app.replay,
		Auth:            auth,
		DefaultReturnTo: cfg.DefaultReturnTo,
		ChallengeTTL:    cfg.ChallengeTTL,
	})

	handler := server.NewHandler(server.Deps{
		Flow:           flow,
		Auth:           auth,
		Sessions:       sessions,
		CSRF:           csrf.NewGuard(csrfKey, session.DefaultTTL),
		Replay:         app.replay,
		Users:          users,
		AllowedOrigins: cfg.AllowedOrigins,
		LoginURL:       cfg.LoginURL,
		ReplayTTL:      cfg.ChallengeTTL,
	})
	app.handler = handler
	app.httpServer = server.NewHTTPServer(handler, cfg.Addr)

	return app, nil
}

// setupShared picks the replay guard and event transport. With a Redis URL
// both are shared between instances; otherwise they stay in process.
func (n *Nimbus) setupShared(ctx context.Context) error {
	if n.config.RedisURL == "" {
		log.LogInfoWithFields("nimbus", "Using in-process replay guard and events", nil)
		guard := replay.NewMemoryGuard(replaySweepInterval)
		guard.Start(ctx)
		n.replay = guard
		n.events = events.NewWatermillPublisher(events.NewGoChannel())
		return nil
	}

	opts, err := redis.ParseURL(n.config.RedisURL)
	if err != nil {
		return fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	publisher, err := events.NewRedisStreamPublisher(client)
	if err != nil {
		_ = client.Close()
		return err
	}

	log.LogInfoWithFields("nimbus", "Using Redis replay guard and event stream", map[string]any{
		"addr": opts.Addr,
	})
	n.redis = client
	n.replay = replay.NewRedisGuard(client)
	n.events = events.NewWatermillPublisher(publisher)
	return nil
}

// OpenUserStore opens the configured user store
func OpenUserStore(ctx context.Context, cfg config.Config) (storage.UserStore, error) {
	switch cfg.Storage {
	case config.StorageMemory:
		log.LogInfoWithFields("storage", "Using in-memory storage", nil)
		return storage.NewMemoryStorage(), nil
	case config.StorageSQLite:
		return storage.OpenSQLite(cfg.SQLitePath)
	case config.StorageFirestore:
		return storage.NewFirestoreStore(ctx, cfg.Firestore.ProjectID, cfg.Firestore.Database, cfg.Firestore.Collection)
	default:
		return nil, fmt.Errorf("unknown storage %q", cfg.Storage)
	}
}

// Run serves until SIGINT/SIGTERM or a server error, then shuts down gracefully
func (n *Nimbus) Run() error {
	log.LogInfoWithFields("nimbus", "Starting nimbus", map[string]any{
		"addr": n.config.Addr,
	})

	errChan := make(chan error, 1)
	go func() {
		if err := n.httpServer.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var shutdownReason string
	var runErr error
	select {
	case sig := <-sigChan:
		shutdownReason = fmt.Sprintf("signal %v", sig)
		log.LogInfoWithFields("nimbus", "Received shutdown signal", map[string]any{
			"signal": sig.String(),
		})
	case err := <-errChan:
		shutdownReason = fmt.Sprintf("error: %v", err)
		runErr = err
		log.LogErrorWithFields("nimbus", "Shutting down due to error", map[string]any{
			"error": err.Error(),
		})
	}

	log.LogInfoWithFields("nimbus", "Starting graceful shutdown", map[string]any{
		"reason":  shutdownReason,
		"timeout": "30s",
	})
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := n.httpServer.Stop(shutdownCtx); err != nil {
		log.LogErrorWithFields("nimbus", "HTTP server shutdown error", map[string]any{
			"error": err.Error(),
		})
		if runErr == nil {
			runErr = err
		}
	}

	n.Close()

	log.LogInfoWithFields("nimbus", "Application shutdown complete", map[string]any{
		"reason": shutdownReason,
	})
	return runErr
}

// Handler returns the routed HTTP handler, for serving nimbus from another server
func (n *Nimbus) Handler() http.Handler {
	return n.handler
}

// Close releases everything New opened. Run calls it after shutdown.
func (n *Nimbus) Close() {
	if g, ok := n.replay.(*replay.MemoryGuard); ok {
		g.Stop()
	}
	if n.events != nil {
		if err := n.events.Close(); err != nil {
			log.LogWarnWithFields("nimbus", "Failed to close event publisher", map[string]any{
				"error": err.Error(),
			})
		}
	}
	if n.redis != nil {
		_ = n.redis.Close()
	}
	if n.users != nil {
		if err := n.users.Close(); err != nil {
			log.LogWarnWithFields("nimbus", "Failed to close user store", map[string]any{
				"error": err.Error(),
			})
		}
	}
}
