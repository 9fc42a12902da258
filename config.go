package immortals

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joeycumines/go-immortals/quiesce"
)

// Defaults applied by New, for zero Config fields.
const (
	DefaultHealth       = 100
	DefaultDamage       = 10
	DefaultDelay        = 2 * time.Millisecond
	DefaultReapInterval = 100 * time.Millisecond
	DefaultStopGrace    = time.Second
)

// ErrInvalidConfig is returned (wrapped) by New for invalid Config values.
var ErrInvalidConfig = errors.New("immortals: invalid config")

const (
	// FightOrdered locks both participants in a fixed total order, by key.
	// It is the only mode that preserves correctness.
	FightOrdered FightMode = "ordered"

	// FightNaive locks participants in call order. It is retained only to
	// demonstrate the circular-wait deadlock that FightOrdered avoids, and
	// must not be used outside of demonstrations.
	FightNaive FightMode = "naive"
)

type (
	// FightMode selects the locking strategy used for fights.
	FightMode string

	// Config models optional configuration, for New. Zero values select the
	// documented defaults.
	Config struct {
		// Mode selects the locking strategy.
		// **Defaults to FightOrdered, if empty.**
		Mode FightMode `env:"IMMORTALS_MODE"`

		// Count is the population size, which may be 0.
		Count int `env:"IMMORTALS_COUNT"`

		// Health is the initial health of each immortal, which must not be
		// negative.
		// **Defaults to DefaultHealth, if 0.**
		Health int `env:"IMMORTALS_HEALTH"`

		// Damage is the nominal damage dealt per fight, coerced to >= 1.
		// **Defaults to DefaultDamage, if 0.**
		Damage int `env:"IMMORTALS_DAMAGE"`

		// Delay is how long each immortal sleeps between fights. If negative,
		// immortals only yield the processor.
		// **Defaults to DefaultDelay, if 0.**
		Delay time.Duration `env:"IMMORTALS_DELAY"`

		// PauseTimeout bounds Manager.Pause, see quiesce.WithTimeout.
		// **Defaults to quiesce.DefaultTimeout, if 0.**
		PauseTimeout time.Duration `env:"IMMORTALS_PAUSE_TIMEOUT"`

		// ReapInterval is the period of the background reaper, if positive.
		// Setting this < 0 disables the reaper.
		// **Defaults to DefaultReapInterval, if 0.**
		ReapInterval time.Duration `env:"IMMORTALS_REAP_INTERVAL"`

		// StopGrace bounds how long Manager.Stop waits for immortals to exit
		// cooperatively, before canceling them, then again before abandoning
		// any that remain.
		// **Defaults to DefaultStopGrace, if <= 0.**
		StopGrace time.Duration `env:"IMMORTALS_STOP_GRACE"`

		// Seed seeds opponent selection, for reproducible runs. Scheduling
		// remains nondeterministic.
		// **Defaults to a random seed, if 0.**
		Seed uint64 `env:"IMMORTALS_SEED"`
	}
)

// ParseFightMode parses a FightMode, case-insensitively. An empty string is
// parsed as FightOrdered.
func ParseFightMode(s string) (FightMode, error) {
	switch mode := FightMode(strings.ToLower(strings.TrimSpace(s))); mode {
	case ``:
		return FightOrdered, nil
	case FightOrdered, FightNaive:
		return mode, nil
	default:
		return ``, fmt.Errorf(`%w: unknown fight mode %q`, ErrInvalidConfig, s)
	}
}

// UnmarshalText implements encoding.TextUnmarshaler, using ParseFightMode.
func (x *FightMode) UnmarshalText(text []byte) error {
	mode, err := ParseFightMode(string(text))
	if err != nil {
		return err
	}
	*x = mode
	return nil
}

// ConfigFromEnv loads a Config from IMMORTALS_* environment variables, e.g.
// IMMORTALS_COUNT=8 IMMORTALS_HEALTH=100 IMMORTALS_DAMAGE=10. Unset
// variables leave the corresponding field zero (i.e. defaulted by New).
func ConfigFromEnv() (*Config, error) {
	return parseConfig(env.Options{})
}

func parseConfig(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf(`immortals: parse env: %w`, err)
	}
	return &cfg, nil
}

// resolvedConfig is Config with defaults applied and values validated.
type resolvedConfig struct {
	mode         FightMode
	count        int
	health       int
	damage       int
	delay        time.Duration
	pauseTimeout time.Duration
	reapInterval time.Duration
	stopGrace    time.Duration
	seed         uint64
}

func resolveConfig(cfg *Config) (resolvedConfig, error) {
	r := resolvedConfig{
		mode:         FightOrdered,
		health:       DefaultHealth,
		damage:       DefaultDamage,
		delay:        DefaultDelay,
		pauseTimeout: quiesce.DefaultTimeout,
		reapInterval: DefaultReapInterval,
		stopGrace:    DefaultStopGrace,
	}

	if cfg == nil {
		return r, nil
	}

	if cfg.Count < 0 {
		return r, fmt.Errorf(`%w: negative count %d`, ErrInvalidConfig, cfg.Count)
	}
	r.count = cfg.Count

	if cfg.Health < 0 {
		return r, fmt.Errorf(`%w: negative health %d`, ErrInvalidConfig, cfg.Health)
	}
	if cfg.Health != 0 {
		r.health = cfg.Health
	}

	if cfg.Damage != 0 {
		r.damage = max(cfg.Damage, 1)
	}

	if cfg.Mode != `` {
		mode, err := ParseFightMode(string(cfg.Mode))
		if err != nil {
			return r, err
		}
		r.mode = mode
	}

	if cfg.Delay != 0 {
		r.delay = cfg.Delay
	}
	if cfg.PauseTimeout != 0 {
		r.pauseTimeout = cfg.PauseTimeout
	}
	if cfg.ReapInterval != 0 {
		r.reapInterval = cfg.ReapInterval
	}
	if cfg.StopGrace > 0 {
		r.stopGrace = cfg.StopGrace
	}
	r.seed = cfg.Seed

	return r, nil
}
