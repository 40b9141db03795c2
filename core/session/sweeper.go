package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"wagateway/core/logger"
)

const sweepComponent = "gateway.sweep"

// SweeperConfig holds the timing knobs of the inactivity sweeper.
type SweeperConfig struct {
	Interval      time.Duration
	Pacing        time.Duration
	IdleRetention time.Duration
	PurgeEvery    time.Duration
}

// Sweeper periodically expires tracked sessions that went quiet and
// purges stale idle rows. It runs only while there is something to
// watch: the handler starts it on the first tracked session and it
// stops itself once the database reports zero.
type Sweeper struct {
	store   Store
	disp    Dispatcher
	active  *ActiveCount
	machine *Machine
	cfg     SweeperConfig

	mu        sync.Mutex
	stop      chan struct{}
	running   bool
	lastPurge time.Time
}

// NewSweeper wires a sweeper; Start must be called to run it.
func NewSweeper(store Store, disp Dispatcher, active *ActiveCount, machine *Machine, cfg SweeperConfig) *Sweeper {
	if cfg.PurgeEvery <= 0 {
		cfg.PurgeEvery = 10 * time.Minute
	}
	return &Sweeper{
		store:   store,
		disp:    disp,
		active:  active,
		machine: machine,
		cfg:     cfg,
	}
}

// Start launches the sweep loop. Calling it while running is a no-op,
// so every tracked-session entry point can call it unconditionally.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.stop = make(chan struct{})
	s.running = true
	go s.loop(s.stop)
	logger.Info(logger.Background(), sweepComponent, "sweep.start",
		slog.Duration("interval", s.cfg.Interval),
	)
}

// Stop halts the sweep loop. Safe to call when already stopped.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Sweeper) stopLocked() {
	if !s.running {
		return
	}
	close(s.stop)
	s.running = false
	logger.Info(logger.Background(), sweepComponent, "sweep.stop")
}

// Running reports whether the sweep loop is active.
func (s *Sweeper) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Sweeper) loop(stop chan struct{}) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.Sweep(logger.Background())
		}
	}
}

// Sweep runs one full pass: reconcile the gauge against the database,
// expire both tracked categories, and opportunistically purge idle
// rows. It is also called once at startup to recover sessions left
// over from a previous run.
func (s *Sweeper) Sweep(ctx context.Context) {
	start := time.Now()

	counts, err := s.store.CountTracked(ctx)
	if err != nil {
		logger.Error(ctx, sweepComponent, "sweep.count",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
		return
	}
	s.active.Reconcile(counts.Total())

	if counts.Total() == 0 {
		logger.Debug(ctx, sweepComponent, "sweep.tick",
			slog.String("status", "skip"),
		)
		s.mu.Lock()
		s.stopLocked()
		s.mu.Unlock()
		return
	}

	expired := 0
	expired += s.expireCategory(ctx, StateTalkToUs)
	expired += s.expireCategory(ctx, StateLiveChat)
	s.maybePurge(ctx)

	logger.Info(ctx, sweepComponent, "sweep.tick",
		slog.String("status", "ok"),
		slog.Int64("tracked", counts.Total()),
		slog.Int("expired", expired),
		slog.Int64("active", s.active.Value()),
		slog.Duration("duration", logger.RoundMS(time.Since(start))),
	)
}

// expireCategory clears one tracked category's stale sessions. The
// bulk transition lands before any notice goes out, so a crash
// mid-notify never leaves sessions stuck in a tracked state.
func (s *Sweeper) expireCategory(ctx context.Context, category State) int {
	timeout := s.machine.TimeoutFor(category)
	if timeout <= 0 {
		return 0
	}
	now := time.Now()
	cutoff := now.Add(-timeout)

	stale, err := s.store.FindExpired(ctx, category, cutoff)
	if err != nil {
		logger.Error(ctx, sweepComponent, "sweep.expire",
			slog.String("state", string(category)),
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
		return 0
	}
	if len(stale) == 0 {
		return 0
	}

	ids := make([]string, len(stale))
	for i, rec := range stale {
		ids[i] = rec.UserID
	}

	idle := StateIdle
	patch := Patch{State: &idle, PromptedAt: &now, TouchInteraction: true}
	if err := s.store.BulkTransition(ctx, ids, patch); err != nil {
		logger.Error(ctx, sweepComponent, "sweep.expire",
			slog.String("state", string(category)),
			slog.Int("count", len(ids)),
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
		return 0
	}

	notice := expiryNotice(category, timeout)
	notified, failed := 0, 0
notify:
	for i, rec := range stale {
		if i > 0 && s.cfg.Pacing > 0 {
			select {
			case <-ctx.Done():
				failed += len(stale) - i
				break notify
			case <-time.After(s.cfg.Pacing):
			}
		}
		if err := s.disp.SendText(ctx, rec.UserID, notice); err != nil {
			failed++
			logger.Warn(ctx, sweepComponent, "sweep.notify",
				slog.String("state", string(category)),
				slog.String("user_id", rec.UserID),
				slog.String("status", "fail"),
				slog.String("err", err.Error()),
			)
		} else {
			notified++
		}
		s.active.Dec()
	}

	logger.Info(ctx, sweepComponent, "sweep.expire",
		slog.String("state", string(category)),
		slog.String("status", "expired"),
		slog.Int("count", len(stale)),
		slog.Int("notified", notified),
		slog.Int("failed", failed),
	)
	return len(stale)
}

// maybePurge deletes long-idle rows, at most once per PurgeEvery.
func (s *Sweeper) maybePurge(ctx context.Context) {
	s.mu.Lock()
	due := time.Since(s.lastPurge) >= s.cfg.PurgeEvery
	if due {
		s.lastPurge = time.Now()
	}
	s.mu.Unlock()
	if !due || s.cfg.IdleRetention <= 0 {
		return
	}

	cutoff := time.Now().Add(-s.cfg.IdleRetention)
	purged, err := s.store.PurgeIdleBefore(ctx, cutoff)
	if err != nil {
		logger.Error(ctx, sweepComponent, "sweep.purge",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
		return
	}
	if purged > 0 {
		logger.Info(ctx, sweepComponent, "sweep.purge",
			slog.Int64("purged", purged),
		)
	}
}
