package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/spf13/cobra"

	"github.com/ctproto/ctproto-go/internal/config"
	"github.com/ctproto/ctproto-go/internal/ctwire"
	"github.com/ctproto/ctproto-go/internal/logger"
	"github.com/ctproto/ctproto-go/internal/sendengine"
	"github.com/ctproto/ctproto-go/internal/transport"
	"github.com/ctproto/ctproto-go/internal/uploaddriver"
)

var (
	flagConfigPath string
	flagAPIURL     string
	flagLogLevel   string
)

// cliContextKey scopes the connected engine/driver pair into the command's
// context, grounded on onedrive-go's root.go CLIContext pattern.
type cliContextKey struct{}

type cliContext struct {
	cfg    *config.ClientConfig
	log    *slog.Logger
	engine *sendengine.Engine
	driver *uploaddriver.Driver
}

func cliContextFrom(ctx context.Context) *cliContext {
	cc, _ := ctx.Value(cliContextKey{}).(*cliContext)
	return cc
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ctproto-client",
		Short:         "CTProto reference client",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return connectClient(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if cc := cliContextFrom(cmd.Context()); cc != nil {
				return cc.engine.Close()
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagAPIURL, "api-url", "", "WebSocket API URL, overrides config")
	cmd.PersistentFlags().StringVar(&flagLogLevel, "log.level", "", "Log level: debug|info|warn|error")

	cmd.AddCommand(newSendCmd())
	cmd.AddCommand(newUploadCmd())
	cmd.AddCommand(newWatchCmd())

	return cmd
}

// connectClient resolves the four-layer config, dials the send engine, and
// blocks (with a short timeout) for the initial connect and authorize
// priming so subcommands can assume an authorized connection.
func connectClient(cmd *cobra.Command) error {
	logger.Init()
	if flagLogLevel != "" {
		if err := logger.SetLevel(flagLogLevel); err != nil {
			return fmt.Errorf("invalid log.level %q", flagLogLevel)
		}
	}
	log := logger.Logger().With("component", "cli")

	cfg, err := config.LoadClientConfig(flagConfigPath)
	if err != nil {
		return err
	}
	if flagAPIURL != "" {
		cfg.APIURL = flagAPIURL
	}
	if cfg.DisableLogs {
		logger.Disable()
		log = logger.Logger().With("component", "cli")
	}

	authPayload, err := cfg.AuthRequestPayloadJSON()
	if err != nil {
		return err
	}

	authorized := make(chan struct{}, 1)
	engine := sendengine.New(sendengine.Config{
		Dialer: func(ctx context.Context) (transport.Conn, error) {
			return transport.Dial(ctx, cfg.APIURL, &websocket.DialOptions{})
		},
		AuthRequestPayload: authPayload,
		OnAuth: func(json.RawMessage) {
			select {
			case authorized <- struct{}{}:
			default:
			}
		},
		OnMessage: func(env *ctwire.Envelope) {
			log.Info("server-initiated update", "type", env.Type, "payload", string(env.Payload))
		},
	})

	connectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := engine.Connect(connectCtx); err != nil {
		return fmt.Errorf("connecting to %s: %w", cfg.APIURL, err)
	}

	select {
	case <-authorized:
	case <-connectCtx.Done():
		return fmt.Errorf("timed out waiting for authorization against %s", cfg.APIURL)
	}

	cc := &cliContext{
		cfg:    cfg,
		log:    log,
		engine: engine,
		driver: uploaddriver.New(engine),
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))
	return nil
}
