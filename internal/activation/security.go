package activation

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// GuardConfig holds the failed-attempt limits
type GuardConfig struct {
	MaxFailedAttempts int
	Window            time.Duration
	BlockDuration     time.Duration
	CleanupInterval   time.Duration
}

// DefaultGuardConfig returns the production limits
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		MaxFailedAttempts: 5,
		Window:            10 * time.Minute,
		BlockDuration:     15 * time.Minute,
		CleanupInterval:   5 * time.Minute,
	}
}

// AttemptGuard counts failed activations per identifier (client IP) and blocks
// identifiers that fail too often inside the window.
type AttemptGuard struct {
	mutex        sync.Mutex
	attempts     map[string]int
	lastAttempts map[string]time.Time
	blocked      map[string]time.Time

	cfg     GuardConfig
	now     func() time.Time
	logger  *slog.Logger
	metrics *ActivationMetrics

	stopChan chan struct{}
	stopOnce sync.Once
}

// GuardOption configures an AttemptGuard
type GuardOption func(*AttemptGuard)

// WithGuardClock overrides the time source
func WithGuardClock(now func() time.Time) GuardOption {
	return func(g *AttemptGuard) { g.now = now }
}

// WithGuardLogger sets the logger
func WithGuardLogger(logger *slog.Logger) GuardOption {
	return func(g *AttemptGuard) {
		if logger != nil {
			g.logger = logger.With(slog.String("component", "attempt_guard"))
		}
	}
}

// WithGuardMetrics records blocks on the given metrics
func WithGuardMetrics(metrics *ActivationMetrics) GuardOption {
	return func(g *AttemptGuard) { g.metrics = metrics }
}

// NewAttemptGuard creates a guard and starts its cleanup goroutine. Call Close to stop it.
func NewAttemptGuard(cfg GuardConfig, opts ...GuardOption) *AttemptGuard {
	defaults := DefaultGuardConfig()
	if cfg.MaxFailedAttempts <= 0 {
		cfg.MaxFailedAttempts = defaults.MaxFailedAttempts
	}
	if cfg.Window <= 0 {
		cfg.Window = defaults.Window
	}
	if cfg.BlockDuration <= 0 {
		cfg.BlockDuration = defaults.BlockDuration
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = defaults.CleanupInterval
	}

	g := &AttemptGuard{
		attempts:     make(map[string]int),
		lastAttempts: make(map[string]time.Time),
		blocked:      make(map[string]time.Time),
		cfg:          cfg,
		now:          time.Now,
		logger:       slog.Default().With(slog.String("component", "attempt_guard")),
		stopChan:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}

	go g.cleanup()

	return g
}

// IsBlocked reports whether identifier is blocked and for how much longer
func (g *AttemptGuard) IsBlocked(identifier string) (bool, time.Duration) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	blockedAt, exists := g.blocked[identifier]
	if !exists {
		return false, 0
	}
	remaining := g.cfg.BlockDuration - g.now().Sub(blockedAt)
	if remaining > 0 {
		return true, remaining
	}
	delete(g.blocked, identifier)
	return false, 0
}

// RecordFailure counts a failed attempt. It returns true when this failure
// caused identifier to be blocked.
func (g *AttemptGuard) RecordFailure(ctx context.Context, identifier string) bool {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	now := g.now()

	if last, exists := g.lastAttempts[identifier]; exists && now.Sub(last) <= g.cfg.Window {
		g.attempts[identifier]++
	} else {
		g.attempts[identifier] = 1
	}
	g.lastAttempts[identifier] = now

	if g.attempts[identifier] < g.cfg.MaxFailedAttempts {
		return false
	}

	g.blocked[identifier] = now
	delete(g.attempts, identifier)
	delete(g.lastAttempts, identifier)

	g.logger.WarnContext(ctx, "identifier blocked due to too many failed activation attempts",
		slog.String("action", "security_violation"),
		slog.String("identifier", identifier),
		slog.Int("max_attempts", g.cfg.MaxFailedAttempts),
		slog.Duration("block_duration", g.cfg.BlockDuration),
	)
	g.metrics.RecordGuardBlock(ctx)

	return true
}

// RecordSuccess resets the failure count for identifier
func (g *AttemptGuard) RecordSuccess(identifier string) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	delete(g.attempts, identifier)
	delete(g.lastAttempts, identifier)
}

// Stats returns a snapshot for health reporting
func (g *AttemptGuard) Stats() map[string]interface{} {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	return map[string]interface{}{
		"tracked_identifiers": len(g.attempts),
		"blocked_identifiers": len(g.blocked),
		"max_attempts":        g.cfg.MaxFailedAttempts,
		"block_duration":      g.cfg.BlockDuration.String(),
		"window_duration":     g.cfg.Window.String(),
	}
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (g *AttemptGuard) Close() {
	g.stopOnce.Do(func() { close(g.stopChan) })
}

func (g *AttemptGuard) cleanup() {
	ticker := time.NewTicker(g.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.prune()
		case <-g.stopChan:
			return
		}
	}
}

// prune drops expired windows and blocks
func (g *AttemptGuard) prune() {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	now := g.now()
	for identifier, last := range g.lastAttempts {
		if now.Sub(last) > g.cfg.Window {
			delete(g.attempts, identifier)
			delete(g.lastAttempts, identifier)
		}
	}
	for identifier, blockedAt := range g.blocked {
		if now.Sub(blockedAt) >= g.cfg.BlockDuration {
			delete(g.blocked, identifier)
		}
	}
}
