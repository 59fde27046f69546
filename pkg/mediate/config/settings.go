package config

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Listener actions accepted in listener.action_in_exception.
const (
	ActionMoveLast       = "move_last"
	ActionImmediateRetry = "immediate_retry"
	ActionBackoff        = "backoff"
	ActionDrop           = "drop"
)

// Dead-letter strategies accepted in dead_letter.strategy.
const (
	DeadLetterNone   = "none"
	DeadLetterFile   = "file"
	DeadLetterSQLite = "sqlite"
)

// Publishing strategies accepted in publish.strategy.
const (
	PublishSequential = "sequential"
	PublishParallel   = "parallel"
)

// ErrInvalidSettings is wrapped by every validation failure.
var ErrInvalidSettings = errors.New("config: invalid settings")

// Settings is the typed configuration surface.
type Settings struct {
	Listener   ListenerSettings
	Queue      QueueSettings
	DeadLetter DeadLetterSettings
	Publish    PublishSettings
}

// ListenerSettings configures the event listener.
type ListenerSettings struct {
	Action     string
	MaxRetries int
	Backoff    BackoffSettings
}

// BackoffSettings configures the backoff listener action.
type BackoffSettings struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
}

// QueueSettings configures the event queue.
type QueueSettings struct {
	Capacity int
	FullMode string
}

// DeadLetterSettings selects and configures the dead-letter strategy.
type DeadLetterSettings struct {
	Strategy   string
	Directory  string
	SQLitePath string
}

// PublishSettings selects the publishing strategy.
type PublishSettings struct {
	Strategy       string
	MaxConcurrency int
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		Listener: ListenerSettings{
			Action:     ActionMoveLast,
			MaxRetries: 3,
			Backoff: BackoffSettings{
				Initial: 100 * time.Millisecond,
				Max:     5 * time.Second,
				Factor:  2,
			},
		},
		Queue: QueueSettings{
			Capacity: 50,
			FullMode: "wait",
		},
		DeadLetter: DeadLetterSettings{
			Strategy: DeadLetterNone,
		},
		Publish: PublishSettings{
			Strategy: PublishSequential,
		},
	}
}

// SettingsFrom reads Settings out of cfg, filling defaults for anything
// missing, and validates the result.
func SettingsFrom(cfg Config) (Settings, error) {
	s := DefaultSettings()

	l := cfg.Section("listener")
	s.Listener.Action = l.String("action_in_exception", s.Listener.Action)
	s.Listener.MaxRetries = l.Int("max_retries", s.Listener.MaxRetries)
	b := l.Section("backoff")
	s.Listener.Backoff.Initial = b.Duration("initial", s.Listener.Backoff.Initial)
	s.Listener.Backoff.Max = b.Duration("max", s.Listener.Backoff.Max)
	s.Listener.Backoff.Factor = b.Float("factor", s.Listener.Backoff.Factor)

	q := cfg.Section("queue")
	s.Queue.Capacity = q.Int("capacity", s.Queue.Capacity)
	s.Queue.FullMode = q.String("full_mode", s.Queue.FullMode)

	d := cfg.Section("dead_letter")
	s.DeadLetter.Strategy = d.String("strategy", s.DeadLetter.Strategy)
	s.DeadLetter.Directory = d.String("directory", s.DeadLetter.Directory)
	s.DeadLetter.SQLitePath = d.String("sqlite_path", s.DeadLetter.SQLitePath)

	p := cfg.Section("publish")
	s.Publish.Strategy = p.String("strategy", s.Publish.Strategy)
	s.Publish.MaxConcurrency = p.Int("max_concurrency", s.Publish.MaxConcurrency)

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate reports every invalid field at once.
func (s Settings) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalidSettings, fmt.Sprintf(format, args...)))
	}

	if !slices.Contains([]string{ActionMoveLast, ActionImmediateRetry, ActionBackoff, ActionDrop}, s.Listener.Action) {
		invalid("listener.action_in_exception %q", s.Listener.Action)
	}
	if s.Listener.MaxRetries < 0 {
		invalid("listener.max_retries must not be negative, got %d", s.Listener.MaxRetries)
	}
	if s.Listener.Backoff.Initial < 0 || s.Listener.Backoff.Max < 0 {
		invalid("listener.backoff durations must not be negative")
	}
	if s.Queue.Capacity < 1 {
		invalid("queue.capacity must be positive, got %d", s.Queue.Capacity)
	}
	if s.Queue.FullMode != "wait" && s.Queue.FullMode != "fail" {
		invalid("queue.full_mode %q", s.Queue.FullMode)
	}
	switch s.DeadLetter.Strategy {
	case DeadLetterNone:
	case DeadLetterFile:
		if s.DeadLetter.Directory == "" {
			invalid("dead_letter.directory is required for the file strategy")
		}
	case DeadLetterSQLite:
		if s.DeadLetter.SQLitePath == "" {
			invalid("dead_letter.sqlite_path is required for the sqlite strategy")
		}
	default:
		invalid("dead_letter.strategy %q", s.DeadLetter.Strategy)
	}
	if s.Publish.Strategy != PublishSequential && s.Publish.Strategy != PublishParallel {
		invalid("publish.strategy %q", s.Publish.Strategy)
	}
	if s.Publish.MaxConcurrency < 0 {
		invalid("publish.max_concurrency must not be negative, got %d", s.Publish.MaxConcurrency)
	}

	return errors.Join(errs...)
}
