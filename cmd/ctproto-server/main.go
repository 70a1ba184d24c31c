package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/websocket"

	"github.com/ctproto/ctproto-go/internal/config"
	"github.com/ctproto/ctproto-go/internal/connserver"
	"github.com/ctproto/ctproto-go/internal/ctwire"
	"github.com/ctproto/ctproto-go/internal/hooks"
	"github.com/ctproto/ctproto-go/internal/logger"
	"github.com/ctproto/ctproto-go/internal/reassembler"
	"github.com/ctproto/ctproto-go/internal/registry"
	"github.com/ctproto/ctproto-go/internal/store"
	"github.com/ctproto/ctproto-go/internal/transport"
)

func main() {
	cli, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	if cli.showVersion {
		fmt.Println(version)
		return
	}

	logger.Init()
	if cli.logLevel != "" {
		if err := logger.SetLevel(cli.logLevel); err != nil {
			fmt.Printf("Warning: invalid log level %q, using default\n", cli.logLevel)
		}
	}
	log := logger.Logger().With("component", "cli")

	cfg, err := config.LoadServerConfig(cli.configPath)
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	applyServerFlagOverrides(cfg, cli)
	if cfg.DisableLogs {
		logger.Disable()
		log = logger.Logger().With("component", "cli")
	}

	st, err := buildStore(cfg, log)
	if err != nil {
		log.Error("failed to initialize storage backend", "error", err)
		os.Exit(1)
	}

	hookMgr := hooks.NewManager(hooks.Config{
		Timeout:     "30s",
		Concurrency: cfg.HookConcurrency,
		StdioFormat: cfg.HookStdioFormat,
	}, log)
	defer hookMgr.Close()

	reg := registry.New()
	h := buildHandlers(st, hookMgr)

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Path, func(w http.ResponseWriter, r *http.Request) {
		tc, err := transport.Accept(w, r, &websocket.AcceptOptions{})
		if err != nil {
			log.Warn("websocket accept failed", "error", err, "remote", r.RemoteAddr)
			return
		}
		connserver.New(tc, reg, h).Run(r.Context())
	})

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	httpServer := &http.Server{Addr: addr, Handler: mux}

	go func() {
		log.Info("server started", "addr", addr, "path", cfg.Path, "version", version)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("listen failed", "error", err)
			os.Exit(1)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		reg.Find(registry.All()).Close(transport.CloseNormal, "server shutting down")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown error", "error", err)
		}
		close(done)
	}()

	select {
	case <-done:
		log.Info("server stopped cleanly")
	case <-shutdownCtx.Done():
		log.Error("forced exit after timeout")
	}
}

func buildStore(cfg *config.ServerConfig, log *slog.Logger) (store.Store, error) {
	switch cfg.StorageBackend {
	case "", "local":
		return store.NewLocalStore(cfg.LocalStoreDir, log)
	case "azureblob":
		return store.NewAzureBlobStore(cfg.AzureServiceURL, cfg.AzureContainer, log)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

// buildHandlers wires the example onAuth/onMessage/onUploadMessage hooks:
// an in-memory bearer-token check for onAuth, an echo handler for
// onMessage, and a Store-backed onUploadMessage, the way the teacher's
// cmd/rtmp-server wires hooks/relay into server.Config.
func buildHandlers(st store.Store, hookMgr *hooks.Manager) connserver.Handlers {
	return connserver.Handlers{
		OnAuth: func(ctx context.Context, payload json.RawMessage) (any, error) {
			var req struct {
				Token string `json:"token"`
			}
			if err := json.Unmarshal(payload, &req); err != nil {
				return nil, err
			}
			if req.Token == "" {
				hookMgr.TriggerEvent(ctx, *hooks.NewEvent(hooks.EventAuthFailure))
				return nil, errors.New("missing token")
			}
			hookMgr.TriggerEvent(ctx, *hooks.NewEvent(hooks.EventAuthSuccess))
			return map[string]any{"authorized": true}, nil
		},
		OnMessage: func(ctx context.Context, env *ctwire.Envelope) (any, error) {
			return map[string]any{"echo": env.Payload}, nil
		},
		OnUploadMessage: func(ctx context.Context, req reassembler.Request) (any, error) {
			loc, err := st.Save(ctx, req.FileID, store.Metadata{Type: req.Type, Payload: req.Payload}, req.File)
			if err != nil {
				return nil, err
			}
			hookMgr.TriggerEvent(ctx, *hooks.NewEvent(hooks.EventUploadComplete).WithFileID(req.FileID))
			return map[string]any{"status": "stored", "path": loc.Path, "url": loc.URL}, nil
		},
		OnClose: func(connID string) {
			hookMgr.TriggerEvent(context.Background(), *hooks.NewEvent(hooks.EventConnectionClose).WithConnID(connID))
		},
		OnUploadTimeout: func(fileID string) {
			hookMgr.TriggerEvent(context.Background(), *hooks.NewEvent(hooks.EventUploadTimeout).WithFileID(fileID))
		},
	}
}
