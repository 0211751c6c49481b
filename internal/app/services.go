package app

import (
	"fmt"
	"os"
	"strings"

	"gorm.io/gorm"

	"github.com/justin-0101/AutoCorrection-V3.0-0407-sub003/internal/jobs"
	"github.com/justin-0101/AutoCorrection-V3.0-0407-sub003/internal/platform/logger"
	"github.com/justin-0101/AutoCorrection-V3.0-0407-sub003/internal/realtime/bus"
	"github.com/justin-0101/AutoCorrection-V3.0-0407-sub003/internal/services"
)

type Services struct {
	Orchestrator *services.Orchestrator
	Guardian     *services.Guardian
	Worker       *jobs.Worker
	EventBus     bus.EventBus
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, reposet Repos) (Services, error) {
	rubrics, err := services.LoadRubrics()
	if err != nil {
		return Services{}, fmt.Errorf("load rubrics: %w", err)
	}
	prompts := services.NewPromptBuilder(rubrics)

	scorer, err := services.NewScoringClient(log, prompts)
	if err != nil {
		return Services{}, fmt.Errorf("init scoring client: %w", err)
	}

	// Redis bus is optional; the pipeline works without it.
	var events bus.EventBus
	if strings.TrimSpace(os.Getenv("REDIS_ADDR")) != "" {
		b, err := bus.NewRedisBus(log)
		if err != nil {
			return Services{}, fmt.Errorf("init correction bus: %w", err)
		}
		events = b
	}

	interp := services.NewInterpreter(log)
	registry := services.NewActiveRegistry(cfg.StaleAfter)

	orch := services.NewOrchestrator(
		db, log,
		reposet.Essays, reposet.Corrections,
		scorer, interp, registry, events,
		cfg.AttemptTimeout,
	)

	guardian := services.NewGuardian(db, log, reposet.Essays, reposet.Corrections)
	worker := jobs.NewWorker(db, log, reposet.Corrections, orch, cfg.WorkerCount, cfg.PollInterval, cfg.StaleAfter)

	return Services{
		Orchestrator: orch,
		Guardian:     guardian,
		Worker:       worker,
		EventBus:     events,
	}, nil
}
