package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/inletmsg/inlet/internal/config"
	"github.com/inletmsg/inlet/internal/directline"
	"github.com/inletmsg/inlet/internal/events"
	"github.com/inletmsg/inlet/internal/gateway"
	"github.com/inletmsg/inlet/internal/host"
	"github.com/inletmsg/inlet/internal/logging"
	"github.com/inletmsg/inlet/internal/provider"
	"github.com/inletmsg/inlet/internal/provider/msgraph"
	"github.com/inletmsg/inlet/internal/provider/webchat"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		bind string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the inlet gateway server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Gateway.Port = port
			}
			if bind != "" {
				cfg.Gateway.Bind = bind
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				for _, issue := range issues {
					log.Error().Str("path", issue.Path).Msg(issue.Message)
				}
				return fmt.Errorf("config validation failed with %d issue(s)", len(issues))
			}

			level := cfg.Logging.Level
			if logLevel != "" {
				level = logLevel
			}
			if cfg.Logging.Style == "json" {
				log = logging.NewJSON(os.Stderr, level)
			} else {
				log = logging.New(os.Stderr, level)
			}

			if err := paths.EnsureDirs(); err != nil {
				return err
			}

			store, closeStore, err := buildStateStore(cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			publisher, err := buildPublisher(cfg)
			if err != nil {
				return err
			}
			defer publisher.Close()

			secrets := host.NewEnvSecrets()
			registry := provider.NewRegistry(log)
			srv := gateway.New(cfg, registry, publisher, log)

			if err := registerAdapters(cfg, srv, registry, store, secrets); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return srv.Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override gateway port")
	cmd.Flags().StringVar(&bind, "bind", "", "override gateway bind (loopback, lan, all)")
	return cmd
}

func buildStateStore(cfg config.Config) (host.StateStore, func(), error) {
	if cfg.State.Driver == "sqlite" {
		path := cfg.State.Path
		if path == "" {
			path = filepath.Join(paths.Data, "inlet.db")
		}
		db, err := host.OpenSQLite(path, log)
		if err != nil {
			return nil, nil, fmt.Errorf("opening state store: %w", err)
		}
		log.Info().Str("path", path).Msg("using SQLite state store")
		return db, func() { db.Close() }, nil
	}
	log.Info().Msg("using in-memory state store")
	return host.NewMemoryStateStore(), func() {}, nil
}

func buildPublisher(cfg config.Config) (events.Publisher, error) {
	switch cfg.Events.Driver {
	case "amqp":
		pub, err := events.NewAMQPPublisher(cfg.Events.URL, cfg.Events.Exchange, log)
		if err != nil {
			return nil, fmt.Errorf("connecting event broker: %w", err)
		}
		log.Info().Str("exchange", cfg.Events.Exchange).Msg("using AMQP event publisher")
		return pub, nil
	case "memory":
		return events.NewMemoryPublisher(), nil
	default:
		return events.NewLogPublisher(log), nil
	}
}

// registerAdapters builds every configured adapter and binds its HTTP route.
// The webchat adapter is always available; msgraph requires a config block.
func registerAdapters(cfg config.Config, srv *gateway.Server, registry *provider.Registry, store host.StateStore, secrets host.SecretStore) error {
	webchatRoute := directline.Prefix
	if raw, err := cfg.AdapterJSON(webchat.ProviderType); err != nil {
		return err
	} else if raw != nil {
		wcCfg, err := webchat.ParseConfig(raw)
		if err != nil {
			return fmt.Errorf("webchat config: %w", err)
		}
		if !wcCfg.Enabled {
			log.Info().Msg("webchat adapter disabled")
			webchatRoute = ""
		} else if wcCfg.Route != "" {
			webchatRoute = wcCfg.Route
		}
	}
	if webchatRoute != "" {
		registry.Register(webchat.New(store, secrets, log))
		srv.Route(webchatRoute, webchat.ProviderType)
	}

	if raw, err := cfg.AdapterJSON(msgraph.ProviderType); err != nil {
		return err
	} else if raw != nil {
		msCfg, err := msgraph.ParseConfig(raw)
		if err != nil {
			return fmt.Errorf("msgraph config: %w", err)
		}
		registry.Register(msgraph.New(msCfg, http.DefaultClient, secrets, log))
		srv.Route("/hooks/msgraph", msgraph.ProviderType)
	}
	return nil
}
