// Command podiumd runs one conference device: MAIN, BACKUP or MODERATOR.
//
//	podiumd -config podium.toml -role BACKUP
//	podiumd token -config podium.toml -subject alice -roles moderator
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/vinayprograms/podium/auth"
	"github.com/vinayprograms/podium/broadcast"
	"github.com/vinayprograms/podium/bus"
	"github.com/vinayprograms/podium/command"
	"github.com/vinayprograms/podium/config"
	"github.com/vinayprograms/podium/deck"
	"github.com/vinayprograms/podium/health"
	"github.com/vinayprograms/podium/journal"
	"github.com/vinayprograms/podium/logging"
	"github.com/vinayprograms/podium/node"
	"github.com/vinayprograms/podium/registry"
	"github.com/vinayprograms/podium/server"
	"github.com/vinayprograms/podium/session"
	"github.com/vinayprograms/podium/shutdown"
	"github.com/vinayprograms/podium/telemetry"
)

var version = "dev"

func main() {
	args := os.Args[1:]
	var err error
	if len(args) > 0 && args[0] == "token" {
		err = runToken(args[1:])
	} else {
		err = runDevice(args)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "podiumd: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig parses the shared flags, loads the file and environment, and
// lets explicitly set flags win.
func loadConfig(fs *flag.FlagSet, args []string) (*config.Config, error) {
	path := fs.String("config", "", "path to a TOML config file")
	role := fs.String("role", "", "device role: MAIN, BACKUP or MODERATOR")
	id := fs.String("id", "", "device id (default <role>-<uuid>)")
	port := fs.Int("port", 0, "client API port")
	level := fs.String("log-level", "", "debug, info, warn or error")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg, err := config.Load(*path)
	if err != nil {
		return nil, err
	}
	generatedID := strings.HasPrefix(cfg.Device.ID, strings.ToLower(cfg.Device.Role)+"-")

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "role":
			cfg.Device.Role = *role
			if generatedID && *id == "" {
				cfg.Device.ID = ""
			}
		case "id":
			cfg.Device.ID = *id
		case "port":
			cfg.API.Port = *port
		case "log-level":
			cfg.LogLevel = *level
		}
	})
	cfg.Fill()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runDevice(args []string) error {
	fs := flag.NewFlagSet("podiumd", flag.ContinueOnError)
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}

	logger := logging.New().WithDevice(cfg.Device.ID)
	logger.SetLevel(logging.ParseLevel(cfg.LogLevel))
	log := logger.WithComponent("main")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	coord := shutdown.NewCoordinator(shutdown.Config{
		Timeout:         cfg.Failover.Timeout,
		ContinueOnError: true,
		OnProgress: func(r shutdown.HandlerResult) {
			fields := map[string]interface{}{"handler": r.Name, "phase": r.Phase, "duration": r.Duration.String()}
			if r.Err != nil {
				fields["error"] = r.Err.Error()
				log.Warn("shutdown_handler_failed", fields)
				return
			}
			log.Debug("shutdown_handler_done", fields)
		},
	})

	tracer := telemetry.NewNoopTracer()
	if cfg.Telemetry.Endpoint != "" {
		provider, err := telemetry.InitProvider(ctx, telemetry.ProviderConfig{
			ServiceVersion: version,
			DeviceID:       cfg.Device.ID,
			DeviceRole:     cfg.Device.Role,
			Endpoint:       cfg.Telemetry.Endpoint,
			Protocol:       cfg.Telemetry.Protocol,
			Debug:          cfg.Telemetry.Debug,
		})
		if err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
		tracer = provider.Tracer()
		telemetry.SetGlobalTracer(tracer)
		coord.RegisterFunc("telemetry", shutdown.PhaseStorage, provider.Shutdown)
	}

	jr, err := journal.Open(ctx, cfg.Journal.Path)
	if err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	coord.Register("journal", shutdown.PhaseStorage, shutdown.CloserFunc(jr.Close))

	b, err := bus.Open(ctx, cfg.BusConfig())
	if err != nil {
		coord.Shutdown(context.Background())
		return fmt.Errorf("broker %s: %w", cfg.BusConfig().Addr(), err)
	}
	coord.Register("bus", shutdown.PhaseTransport, shutdown.CloserFunc(b.Close))

	authorizer, err := newAuthorizer(cfg)
	if err != nil {
		coord.Shutdown(context.Background())
		return err
	}

	sampler := health.NewSampler(health.Config{
		Interval:    cfg.Failover.HealthCheckInterval,
		DiskPath:    cfg.Health.DiskPath,
		NetworkAddr: cfg.Health.NetworkAddr,
	}, logger)
	if err := sampler.Start(ctx); err != nil {
		coord.Shutdown(context.Background())
		return err
	}
	coord.Register("health", shutdown.PhaseTransport, shutdown.CloserFunc(sampler.Stop))

	dispatcher := deck.NewDispatcher(newActuator(cfg, logger), cfg.Deck.Queue, logger)
	if err := dispatcher.Start(ctx); err != nil {
		coord.Shutdown(context.Background())
		return err
	}
	coord.Register("deck", shutdown.PhaseTransport, shutdown.CloserFunc(func() error {
		dispatcher.Stop()
		return nil
	}))

	store := session.NewStore(session.New(cfg.Session.TotalSlides, cfg.Session.TimerSeconds))
	router := command.NewRouter(command.RouterConfig{
		Store:    store,
		Deck:     dispatcher,
		DeviceID: cfg.Device.ID,
		Logger:   logger,
		Tracer:   tracer,
		Rate:     rate.Limit(cfg.API.CommandRate),
		Burst:    cfg.API.CommandBurst,
	})
	hub := broadcast.NewHub(cfg.API.ClientQueue, logger)

	dev, err := node.New(node.Config{
		DeviceID:          cfg.Device.ID,
		Role:              cfg.Role(),
		Bus:               b,
		Topics:            bus.NewTopics(cfg.Broker.TopicPrefix),
		Store:             store,
		Router:            router,
		Hub:               hub,
		Registry:          registry.NewMemoryRegistry(cfg.Device.ID, cfg.Role(), cfg.Failover.Timeout),
		Journal:           jr,
		Health:            sampler,
		Tracer:            tracer,
		Logger:            logger,
		HeartbeatInterval: cfg.Failover.HealthCheckInterval,
		CheckInterval:     cfg.Failover.BackupCheckInterval,
		FailoverTimeout:   cfg.Failover.Timeout,
		SnapshotEvery:     cfg.Failover.SnapshotEvery,
	})
	if err != nil {
		coord.Shutdown(context.Background())
		return err
	}

	nodeCtx, stopNode := context.WithCancel(ctx)
	nodeErr := make(chan error, 1)
	go func() { nodeErr <- dev.Run(nodeCtx) }()
	coord.RegisterFunc("node", shutdown.PhaseDevice, func(ctx context.Context) error {
		stopNode()
		select {
		case err := <-nodeErr:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	srv := server.New(server.Dependencies{
		Addr:       cfg.APIAddr(),
		Device:     dev,
		Authorizer: authorizer,
		Logger:     logger,
	})
	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.Start() }()
	coord.RegisterFunc("server", shutdown.PhaseServer, srv.Shutdown)
	coord.Register("hub", shutdown.PhaseServer, shutdown.CloserFunc(func() error {
		hub.Close()
		return nil
	}))

	log.Info("device_started", map[string]interface{}{
		"role":    cfg.Device.Role,
		"api":     cfg.APIAddr(),
		"broker":  cfg.Broker.Kind,
		"version": version,
	})

	// A failing listener or device loop stops the process like a signal.
	go func() {
		select {
		case err := <-srvErr:
			if err != nil {
				log.Error("server_failed", map[string]interface{}{"error": err.Error()})
			}
		case err := <-nodeErr:
			nodeErr <- err
			if err != nil {
				log.Error("device_loop_failed", map[string]interface{}{"error": err.Error()})
			}
		case <-ctx.Done():
			return
		}
		cancel()
	}()

	err = coord.WaitForSignal(ctx)
	if res := coord.Result(); res != nil {
		log.Info("device_stopped", map[string]interface{}{"duration": res.TotalDuration.String()})
	}
	return err
}

func newAuthorizer(cfg *config.Config) (auth.Authorizer, error) {
	if cfg.Auth.Mode == config.AuthJWT {
		return auth.NewJWTAuthorizer(auth.JWTConfig{Secret: []byte(cfg.Auth.Secret), Issuer: cfg.Auth.Issuer})
	}
	return auth.OpenAuthorizer{}, nil
}

func newActuator(cfg *config.Config, logger *logging.Logger) deck.Actuator {
	if cfg.Deck.Kind == config.DeckExec {
		return deck.ExecActuator{Program: cfg.Deck.Program, Args: cfg.Deck.Args, Timeout: cfg.Deck.Timeout}
	}
	return deck.LogActuator{Logger: logger.WithComponent("deck")}
}

// runToken prints a signed client token for the configured JWT secret.
func runToken(args []string) error {
	fs := flag.NewFlagSet("podiumd token", flag.ContinueOnError)
	subject := fs.String("subject", "operator", "token subject")
	roles := fs.String("roles", auth.RoleViewer, "comma-separated roles: admin, moderator, presenter, viewer")
	ttl := fs.Duration("ttl", 12*time.Hour, "token lifetime")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	if cfg.Auth.Secret == "" {
		return fmt.Errorf("auth secret is not configured")
	}
	authz, err := auth.NewJWTAuthorizer(auth.JWTConfig{Secret: []byte(cfg.Auth.Secret), Issuer: cfg.Auth.Issuer})
	if err != nil {
		return err
	}
	token, err := authz.Issue(*subject, strings.Split(*roles, ","), *ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
