// Package main is the entry point for the dissent decorrelation service. It
// coordinates trading decisions across many independently-operated accounts
// so their behavior looks like independent human decision-making rather than
// synchronized automation.
package main

import (
	"context"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aristath/dissent/internal/audit"
	"github.com/aristath/dissent/internal/config"
	"github.com/aristath/dissent/internal/correlation"
	"github.com/aristath/dissent/internal/database"
	"github.com/aristath/dissent/internal/decision"
	"github.com/aristath/dissent/internal/engine"
	"github.com/aristath/dissent/internal/risk"
	"github.com/aristath/dissent/internal/scheduler"
	"github.com/aristath/dissent/internal/server"
	"github.com/aristath/dissent/internal/timing"
	"github.com/aristath/dissent/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Msg("Starting dissent")

	// Audit database: ledger profile, append-only safety.
	auditDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "audit.db"),
		Profile: database.ProfileLedger,
		Name:    "audit",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open audit database")
	}
	defer auditDB.Close()

	sink, err := audit.NewSink(auditDB, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start audit sink")
	}
	defer sink.Close()

	monitor := correlation.NewMonitor(correlation.Config{
		Window:             cfg.CorrelationWindow,
		WarningThreshold:   cfg.WarningThreshold,
		CriticalThreshold:  cfg.CriticalThreshold,
		EmergencyThreshold: cfg.EmergencyThreshold,
	}, log)

	// Separate rand instances per component: each guards its own source, so
	// they must not share one.
	var generatorRng, engineRng *rand.Rand
	if cfg.RandomSeed != 0 {
		generatorRng = rand.New(rand.NewSource(cfg.RandomSeed))
		engineRng = rand.New(rand.NewSource(cfg.RandomSeed + 1))
	}

	riskEngine := risk.NewEngine(log)
	generator := decision.NewGenerator(riskEngine, generatorRng, log)
	timingEngine := timing.NewEngine(log)
	disagreementEngine := engine.New(monitor, generator, timingEngine, sink, engineRng, log)

	// Background jobs: periodic refresh feeds alerts into the audit trail,
	// cleanup keeps correlation history bounded by age.
	sched := scheduler.New(log)
	if err := sched.AddJob(cfg.RefreshSchedule, &scheduler.RefreshJob{Monitor: monitor, Sink: sink, Log: log}); err != nil {
		log.Fatal().Err(err).Msg("Failed to register refresh job")
	}
	if err := sched.AddJob(cfg.CleanupSchedule, &scheduler.CleanupJob{
		Monitor:   monitor,
		Retention: time.Duration(cfg.RetentionHours) * time.Hour,
		Log:       log,
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to register cleanup job")
	}
	sched.Start()
	defer sched.Stop()

	srv := server.New(server.Config{
		Port:       cfg.Port,
		Log:        log,
		Monitor:    monitor,
		Engine:     disagreementEngine,
		RiskEngine: riskEngine,
		Timing:     timingEngine,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatal().Err(err).Msg("Server failed")
		}
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}

	log.Info().Msg("Shutdown complete")
}
