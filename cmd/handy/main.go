package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/nidhogg/mister-handy/internal/agents"
	"github.com/nidhogg/mister-handy/internal/api"
	"github.com/nidhogg/mister-handy/internal/config"
	"github.com/nidhogg/mister-handy/internal/diag"
	"github.com/nidhogg/mister-handy/internal/history"
	"github.com/nidhogg/mister-handy/internal/logging"
	"github.com/nidhogg/mister-handy/internal/notify"
	"github.com/nidhogg/mister-handy/internal/orchestrator"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/handy.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Server.LogLevel, cfg.Server.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting Mister Handy...", zap.String("config", cfgPath))

	tick, _ := cfg.Scheduler.TickDuration()
	orch := orchestrator.New(orchestrator.Config{
		Tick:     tick,
		PoolSize: cfg.Scheduler.PoolSize,
	}, logger)

	closers := registerAgents(orch, cfg, logger)

	// Run persistence
	var histStore *history.Store
	if cfg.History.Enabled {
		hs, histErr := history.New(cfg.HistoryDSN(), logger)
		if histErr != nil {
			logger.Warn("PostgreSQL unavailable, running without history", zap.Error(histErr))
		} else {
			migrations := cfg.History.MigrationsDir
			if migrations == "" {
				migrations = "migrations"
			}
			if mErr := hs.Migrate(context.Background(), migrations); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			histStore = hs
			orch.Scheduler().AddSink(hs)
		}
	}

	// Alert fan-out
	notifier := notify.New(diag.AgentStatus(cfg.Notify.MinStatus), logger)
	if cfg.Notify.Discord.Enabled {
		ds, dsErr := notify.NewDiscordSink(cfg.Notify.Discord.BotToken, cfg.Notify.Discord.ChannelID, logger)
		if dsErr != nil {
			logger.Warn("Discord unavailable, skipping sink", zap.Error(dsErr))
		} else {
			notifier.Register(ds)
		}
	}
	if cfg.Notify.Slack.Enabled {
		notifier.Register(notify.NewSlackSink(cfg.Notify.Slack.BotToken, cfg.Notify.Slack.ChannelID, logger))
	}
	orch.Scheduler().AddSink(notifier)

	var stream *notify.StreamPublisher
	if cfg.Notify.Stream.Enabled {
		sp, streamErr := notify.NewStreamPublisher(cfg.StreamURL(), logger)
		if streamErr != nil {
			logger.Warn("Redis unavailable, running without run stream", zap.Error(streamErr))
		} else {
			stream = sp
			orch.Scheduler().AddSink(sp)
		}
	}

	orch.Scheduler().Start()

	handler := api.NewHandler(orch, histStore, logger)

	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("Mister Handy listening", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down Mister Handy...")
	orch.Scheduler().Stop()
	srv.Shutdown(context.Background())
	if histStore != nil {
		histStore.Close()
	}
	if stream != nil {
		stream.Close()
	}
	for _, c := range closers {
		c()
	}
}

// registerAgents wires every enabled agent into the orchestrator.
// Unreachable backends log a warning and are skipped rather than
// blocking startup. Returned closers release backend connections.
func registerAgents(orch *orchestrator.Orchestrator, cfg *config.Config, logger *zap.Logger) []func() {
	var closers []func()

	if cfg.Agents.System.Enabled {
		sc := cfg.Agents.System
		orch.Register(agents.NewSystem(agents.SystemConfig{
			CPUWarn:  sc.CPUWarn,
			CPUCrit:  sc.CPUCrit,
			MemWarn:  sc.MemWarn,
			MemCrit:  sc.MemCrit,
			DiskWarn: sc.DiskWarn,
			DiskCrit: sc.DiskCrit,
			DiskPath: sc.DiskPath,
			TempDir:  sc.TempDir,
		}, logger))
	}

	if cfg.Agents.Database.Enabled {
		db, err := agents.NewDatabase(cfg.Agents.Database.DSN, logger)
		if err != nil {
			logger.Warn("PostgreSQL unavailable, skipping database agent", zap.Error(err))
		} else {
			orch.Register(db)
			closers = append(closers, db.Close)
		}
	}

	if cfg.Agents.Cache.Enabled {
		cache, err := agents.NewCache(cfg.Agents.Cache.URL, cfg.Agents.Cache.KeyPrefix, logger)
		if err != nil {
			logger.Warn("Redis unavailable, skipping cache agent", zap.Error(err))
		} else {
			orch.Register(cache)
			closers = append(closers, func() { cache.Close() })
		}
	}

	if cfg.Agents.Graph.Enabled {
		gc := cfg.Agents.Graph
		graph, err := agents.NewGraph(gc.URI, gc.User, gc.Password, logger)
		if err != nil {
			logger.Warn("Neo4j unavailable, skipping graph agent", zap.Error(err))
		} else {
			orch.Register(graph)
			closers = append(closers, func() { graph.Close(context.Background()) })
		}
	}

	if cfg.Agents.Vector.Enabled {
		vc := cfg.Agents.Vector
		expected := make([]agents.ExpectedCollection, len(vc.Collections))
		for i, c := range vc.Collections {
			expected[i] = agents.ExpectedCollection{Name: c.Name, Dimension: c.Dimension}
		}
		vector, err := agents.NewVector(vc.Host, vc.Port, expected, logger)
		if err != nil {
			logger.Warn("Qdrant unavailable, skipping vector agent", zap.Error(err))
		} else {
			orch.Register(vector)
			closers = append(closers, func() { vector.Close() })
		}
	}

	if cfg.Agents.Security.Enabled {
		orch.Register(agents.NewSecurity(agents.SecurityConfig{
			RequiredEnv: cfg.Agents.Security.RequiredEnv,
			EnvFile:     cfg.Agents.Security.EnvFile,
		}, logger))
	}

	return closers
}
