package listener

import (
	"fmt"
	"time"

	"github.com/randalmurphal/mediate/pkg/mediate/config"
	mederrors "github.com/randalmurphal/mediate/pkg/mediate/errors"
)

// Action is what the listener does with an event whose delivery failed
// and that still has retries left.
type Action int

const (
	// MoveLast puts the event at the back of the queue.
	MoveLast Action = iota

	// ImmediateRetry redelivers the event right away.
	ImmediateRetry

	// Backoff redelivers the event after the Config.Backoff delay.
	Backoff

	// Drop discards the event after its first failure. No dead letter
	// is written.
	Drop
)

// String returns the configuration name of the action.
func (a Action) String() string {
	switch a {
	case MoveLast:
		return config.ActionMoveLast
	case ImmediateRetry:
		return config.ActionImmediateRetry
	case Backoff:
		return config.ActionBackoff
	case Drop:
		return config.ActionDrop
	default:
		return "unknown"
	}
}

// ParseAction parses a configuration name. The empty string is MoveLast.
func ParseAction(s string) (Action, error) {
	switch s {
	case "", config.ActionMoveLast:
		return MoveLast, nil
	case config.ActionImmediateRetry:
		return ImmediateRetry, nil
	case config.ActionBackoff:
		return Backoff, nil
	case config.ActionDrop:
		return Drop, nil
	default:
		return MoveLast, fmt.Errorf("listener: unknown action %q", s)
	}
}

// DefaultMaxRetries is used when Config.MaxRetries is not set.
const DefaultMaxRetries = 3

// Config configures a Listener.
type Config struct {
	// Action taken after a failed delivery. Default: MoveLast.
	Action Action

	// MaxRetries is how many redeliveries an event gets after its first
	// failure. Default: 3. Use NoRetries to dead-letter on first failure.
	MaxRetries int

	// NoRetries dead-letters an event after its first failure.
	// When true, MaxRetries is ignored.
	NoRetries bool

	// DeadLetterPermanent dead-letters any failure categorized as
	// permanent (see errors.Categorize) without further retries. By
	// default only validation and configuration failures skip retries.
	DeadLetterPermanent bool

	// Backoff sets the delay of the Backoff action. Only the backoff
	// fields are used; MaxAttempts is ignored.
	Backoff mederrors.RetryConfig
}

// DefaultConfig provides reasonable defaults.
var DefaultConfig = Config{
	Action:     MoveLast,
	MaxRetries: DefaultMaxRetries,
	Backoff:    mederrors.DefaultRetry,
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 && !c.NoRetries {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.NoRetries {
		c.MaxRetries = 0
	}
	if c.Action == Backoff && c.Backoff.InitialBackoff <= 0 {
		c.Backoff = DefaultConfig.Backoff
	}
	return c
}

// ConfigFrom converts loaded settings. An explicit max_retries of 0
// means no retries.
func ConfigFrom(s config.ListenerSettings) (Config, error) {
	action, err := ParseAction(s.Action)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Action:     action,
		MaxRetries: s.MaxRetries,
		NoRetries:  s.MaxRetries == 0,
		Backoff: mederrors.NewRetryConfig(
			mederrors.WithInitialBackoff(s.Backoff.Initial),
			mederrors.WithMaxBackoff(s.Backoff.Max),
			withFactor(s.Backoff.Factor),
		),
	}, nil
}

func withFactor(f float64) mederrors.RetryOption {
	return func(cfg *mederrors.RetryConfig) {
		if f > 0 {
			cfg.BackoffFactor = f
		}
	}
}

// backoffDelay is the wait before redelivering after the given number
// of failed attempts.
func (c Config) backoffDelay(attempts int) time.Duration {
	return c.Backoff.Backoff(attempts)
}
