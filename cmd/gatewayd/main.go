// Command gatewayd runs the LLM gateway: the OpenAI-compatible HTTP
// façade, the management façade, and the agent WebSocket endpoint, backed
// by a fleet of WebSocket-connected inference agents (spec §2).
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/arkeep-io/llmgateway/internal/api"
	"github.com/arkeep-io/llmgateway/internal/auth"
	"github.com/arkeep-io/llmgateway/internal/broker"
	"github.com/arkeep-io/llmgateway/internal/config"
	"github.com/arkeep-io/llmgateway/internal/db"
	"github.com/arkeep-io/llmgateway/internal/gatewayerr"
	"github.com/arkeep-io/llmgateway/internal/mapper"
	"github.com/arkeep-io/llmgateway/internal/metrics"
	"github.com/arkeep-io/llmgateway/internal/ratelimit"
	"github.com/arkeep-io/llmgateway/internal/registry"
	"github.com/arkeep-io/llmgateway/internal/repository"
	"github.com/arkeep-io/llmgateway/internal/scheduler"
	"github.com/arkeep-io/llmgateway/internal/wsproto"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var cfgFile string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gatewayd",
		Short: "gatewayd — OpenAI-compatible gateway over a fleet of LLM agents",
		Long: `gatewayd exposes an OpenAI-compatible HTTP API and routes requests over
WebSocket connections to a fleet of inference agents, picking an agent by
loaded model and load, and streaming or buffering the agent's response
back to the client.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd, cfgFile)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML/TOML/JSON config file")
	config.RegisterFlags(root)
	root.AddCommand(newVersionCmd())

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("gatewayd %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg config.Config) error {
	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting gatewayd",
		zap.String("version", version),
		zap.Int("port", cfg.Port),
		zap.String("database_driver", cfg.DatabaseDriver),
		zap.String("log_level", cfg.LogLevel),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// --- Database ---
	gormDB, err := db.New(db.Config{
		Driver:   cfg.DatabaseDriver,
		DSN:      cfg.DatabasePath,
		Logger:   logger,
		LogLevel: gormLogLevel(cfg.LogLevel),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	defer sqlDB.Close()

	// --- Repositories ---
	agentRepo := repository.NewAgentRepository(gormDB)
	mappingRepo := repository.NewModelMappingRepository(gormDB)

	nameMapper, err := mapper.New(ctx, mappingRepo)
	if err != nil {
		return fmt.Errorf("failed to initialize name mapper: %w", err)
	}

	// --- Metrics ---
	met := metrics.New()

	// --- Registry, transport, RPC multiplexer ---
	reg := registry.New(logger)
	reg.SetMetrics(met)
	transport := wsproto.NewTransport(cfg.AgentSecretKey, logger)
	rpc := wsproto.NewRPC(transport, 60*time.Second, logger)
	rpc.SetMetrics(met)

	brokerTable := broker.NewTable()
	brokerDeps := broker.Deps{Registry: reg, RPC: rpc, Table: brokerTable, Logger: logger, Metrics: met}
	broker.RegisterHandlers(brokerDeps)

	// Wire agent lifecycle: on open, register the connection and persist a
	// first/last-seen record; on close, persist last_seen and remove from
	// the registry, which in turn fails every broker still bound to that
	// agent via the removal listener RegisterHandlers installed above.
	rpc.SetLifecycleHandlers(wsproto.LifecycleHandlers{
		OnOpen: func(agentID, name string, installedModels []string) {
			now := time.Now()
			if err := agentRepo.Touch(ctx, agentID, name, now); err != nil {
				logger.Warn("failed to persist agent connection", zap.String("agent_id", agentID), zap.Error(err))
			}
			conn, ok := transport.Get(agentID)
			if !ok {
				logger.Error("agent connection vanished before registration", zap.String("agent_id", agentID))
				return
			}
			if err := reg.Register(agentID, name, installedModels, conn, now); err != nil {
				logger.Warn("failed to register agent", zap.String("agent_id", agentID), zap.Error(err))
			}
		},
		OnClose: func(agentID string) {
			if err := agentRepo.UpdateLastSeen(ctx, agentID, time.Now()); err != nil {
				logger.Warn("failed to persist agent disconnection", zap.String("agent_id", agentID), zap.Error(err))
			}
			reg.Remove(agentID)
		},
	})

	// --- Rate limiter ---
	limiter := ratelimit.New(cfg.RateLimitMax, time.Minute)

	// --- Scheduler: rate-limit window sweep + agent reaper ---
	sched, err := scheduler.New(logger)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	if err := sched.AddPeriodic("ratelimit-sweep", time.Minute, func() {
		limiter.Sweep(time.Now())
	}); err != nil {
		return fmt.Errorf("failed to register ratelimit sweep job: %w", err)
	}
	if err := sched.AddPeriodic("agent-reaper", 30*time.Second, func() {
		reapStaleAgents(transport, reg, logger)
	}); err != nil {
		return fmt.Errorf("failed to register agent reaper job: %w", err)
	}
	sched.Start()
	defer func() {
		if err := sched.Stop(); err != nil {
			logger.Warn("scheduler shutdown error", zap.Error(err))
		}
	}()

	// --- Optional operator auth ---
	var tokenHash []byte
	var sessions *auth.SessionManager
	if cfg.ManagementToken != "" {
		tokenHash, err = auth.HashSecret(cfg.ManagementToken)
		if err != nil {
			return fmt.Errorf("failed to hash management token: %w", err)
		}
		sessions = auth.NewSessionManager(tokenHash, "gatewayd")
	}

	// --- HTTP router ---
	router := api.NewRouter(api.RouterConfig{
		BrokerDeps:     brokerDeps,
		Mapper:         nameMapper,
		Metrics:        met,
		RateLimit:      limiter,
		Transport:      transport,
		APIKey:         cfg.APIKey,
		OperatorToken:  tokenHash,
		BrokerDeadline: cfg.BrokerDeadline(),
		CORSOrigin:     cfg.CORSOrigin,
		Logger:         logger,
		Management: api.ManagementConfig{
			Registry:  reg,
			Mapper:    nameMapper,
			AgentRepo: agentRepo,
			RPC:       rpc,
			GormDB:    gormDB,
			Sessions:  sessions,
			TokenHash: tokenHash,
			Version:   version,
			Commit:    commit,
			BuildDate: date,
			Logger:    logger,
		},
	})

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // streaming responses on /v1/* must not be capped
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down gatewayd")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server graceful shutdown error", zap.Error(err))
	}

	// Fail every in-flight broker with server_shutdown before tearing down
	// agent connections, so clients see an intentional shutdown rather than
	// agent_disconnected (spec §4.9).
	brokerTable.FailAll(gatewayerr.New(gatewayerr.KindServerShutdown, "gatewayd is shutting down"))
	transport.CloseAll()

	logger.Info("gatewayd stopped")
	return nil
}

// reapStaleAgents is a defensive double-check (SPEC_FULL §5.4): every
// registry entry whose agent no longer has a transport connection is an
// anomaly (the registry's own Remove on transport close should have caught
// it already), so it is logged and removed from the registry here too.
func reapStaleAgents(transport *wsproto.Transport, reg *registry.Registry, logger *zap.Logger) {
	for _, agent := range reg.List() {
		if _, ok := transport.Get(agent.ID); !ok {
			logger.Warn("agent reaper: registry entry outlived its transport connection, removing",
				zap.String("agent_id", agent.ID))
			reg.Remove(agent.ID)
		}
	}
}

// gormLogLevel maps the application log level string to a GORM logger level.
func gormLogLevel(level string) gormlogger.LogLevel {
	switch level {
	case "debug":
		return gormlogger.Info
	case "info":
		return gormlogger.Warn
	default:
		return gormlogger.Error
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}
