package orchestrator

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// SweepSchedule is a cron spec for the recurring orchestration sweep.
	SweepSchedule string `envconfig:"SWEEP_SCHEDULE" default:"@every 1m"`

	// PassDeadline bounds one account's pass; keep it below the sweep
	// interval so passes cannot pile up behind the scheduler.
	PassDeadline   time.Duration `envconfig:"PASS_DEADLINE" default:"55s"`
	RequestTimeout time.Duration `envconfig:"GATEWAY_CALL_TIMEOUT" default:"10s"`

	// MaxSignalAge is the staleness horizon; older signals are never
	// eligible.
	MaxSignalAge time.Duration `envconfig:"MAX_SIGNAL_AGE" default:"30m"`

	// ReserveTimeout is how long a PENDING reservation may sit before the
	// next pass reaps it as FAILED.
	ReserveTimeout time.Duration `envconfig:"RESERVE_TIMEOUT" default:"5m"`

	// LeaseTTL is the run coordinator lease; a crashed pass frees its
	// account after this long.
	LeaseTTL time.Duration `envconfig:"PASS_LEASE_TTL" default:"2m"`

	// WorkerPoolSize caps concurrent account passes, and with them the
	// outbound request concurrency against the exchange.
	WorkerPoolSize int64 `envconfig:"WORKER_POOL_SIZE" default:"4"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
