package app

import (
	"time"

	"github.com/justin-0101/AutoCorrection-V3.0-0407-sub003/internal/platform/envutil"
)

type Config struct {
	Port        string
	Environment string

	WorkerCount    int
	PollInterval   time.Duration
	StaleAfter     time.Duration
	AttemptTimeout time.Duration
	SweepInterval  time.Duration
}

func LoadConfig() Config {
	return Config{
		Port:        envutil.Str("PORT", "8000"),
		Environment: envutil.Str("APP_ENV", "development"),

		WorkerCount:    envutil.Int("WORKER_COUNT", 4),
		PollInterval:   envutil.Duration("WORKER_POLL_INTERVAL", 1*time.Second),
		StaleAfter:     envutil.Duration("WORKER_STALE_AFTER", 10*time.Minute),
		AttemptTimeout: envutil.Duration("ATTEMPT_TIMEOUT", 3*time.Minute),
		SweepInterval:  envutil.Duration("GUARDIAN_SWEEP_INTERVAL", 5*time.Minute),
	}
}
