package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bakkerme/ghsearch-feed/internal/config"
	"github.com/bakkerme/ghsearch-feed/internal/core"
)

// CronProcessor emits a TriggerEvent on every tick of a cron schedule. A tick
// that fires while the previous event is still unconsumed is dropped, so runs
// never overlap.
type CronProcessor struct {
	name     string
	schedule string
	timezone string
	logger   *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	events  chan core.TriggerEvent
	stopped bool
}

func NewCronProcessor(cfg *config.CronTrigger, logger *slog.Logger) (*CronProcessor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("cron trigger config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &CronProcessor{
		name:     "cron",
		schedule: cfg.Cron,
		timezone: cfg.Timezone,
		logger:   logger,
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *CronProcessor) Name() string {
	return c.name
}

func (c *CronProcessor) Validate() error {
	if c.schedule == "" {
		return fmt.Errorf("cron schedule is required")
	}
	if _, err := cron.ParseStandard(c.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", c.schedule, err)
	}
	if c.timezone != "" {
		if _, err := time.LoadLocation(c.timezone); err != nil {
			return fmt.Errorf("invalid timezone: %w", err)
		}
	}
	return nil
}

func (c *CronProcessor) Start(ctx context.Context, query string) (<-chan core.TriggerEvent, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	location := time.UTC
	if c.timezone != "" {
		tz, err := time.LoadLocation(c.timezone)
		if err != nil {
			return nil, err
		}
		location = tz
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cron != nil {
		return nil, fmt.Errorf("cron trigger already started")
	}
	c.events = make(chan core.TriggerEvent, 1)
	c.cron = cron.New(cron.WithLocation(location), cron.WithLogger(cronLogger{c.logger}))
	_, err := c.cron.AddFunc(c.schedule, func() {
		c.fire(query, time.Now().UTC())
	})
	if err != nil {
		return nil, err
	}

	c.cron.Start()
	c.logger.Info("cron trigger started", slog.String("schedule", c.schedule), slog.String("timezone", location.String()))

	go func() {
		<-ctx.Done()
		_ = c.Stop()
	}()

	return c.events, nil
}

func (c *CronProcessor) fire(query string, at time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || c.events == nil {
		return false
	}
	select {
	case c.events <- core.TriggerEvent{Query: query, Timestamp: at}:
		return true
	default:
		c.logger.Warn("previous run still in progress, skipping scheduled run", slog.Time("tick", at))
		return false
	}
}

// Stop waits for a running tick and closes the event channel. It is safe to call more than once.
func (c *CronProcessor) Stop() error {
	c.mu.Lock()
	cr := c.cron
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	c.mu.Unlock()

	if cr != nil {
		<-cr.Stop().Done()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.events != nil {
		close(c.events)
	}
	return nil
}

// cronLogger adapts slog to cron's logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append([]interface{}{slog.Any("error", err)}, keysAndValues...)...)
}
