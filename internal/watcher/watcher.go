// Package watcher runs the periodic margin evaluation loop.
package watcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"margin_monitor/internal/alert"
	"margin_monitor/internal/core"
	"margin_monitor/internal/margin"
	"margin_monitor/pkg/concurrency"
	apperrors "margin_monitor/pkg/errors"
	"margin_monitor/pkg/retry"
	"margin_monitor/pkg/telemetry"

	"github.com/shopspring/decimal"
)

// Config controls the evaluation loop.
type Config struct {
	Interval time.Duration
	// Targets are the margin levels (percent) the solver tracks,
	// e.g. 100 and 50.
	Targets []decimal.Decimal
	// MinAlertSeverity is the lowest risk level that triggers an alert.
	MinAlertSeverity core.RiskLevel
}

// Watcher owns the current rate and re-evaluates every registered book
// on a ticker. The rate is operator-supplied; there is no market data
// feed.
type Watcher struct {
	store  core.IStore
	alerts *alert.AlertManager
	pool   *concurrency.WorkerPool
	logger core.ILogger
	cfg    Config

	mu       sync.RWMutex
	books    map[string]*core.Book
	rate     decimal.Decimal
	rateSet  bool
	lastRisk map[string]core.RiskLevel
	lastSnap map[string]*core.MarginSnapshot

	subscribers []chan<- *core.MarginSnapshot

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher creates a watcher. Books are registered with SetBook.
func NewWatcher(store core.IStore, alerts *alert.AlertManager, pool *concurrency.WorkerPool, logger core.ILogger, cfg Config) *Watcher {
	ctx, cancel := context.WithCancel(context.Background())

	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}

	return &Watcher{
		store:    store,
		alerts:   alerts,
		pool:     pool,
		logger:   logger.WithField("component", "watcher"),
		cfg:      cfg,
		books:    make(map[string]*core.Book),
		lastRisk: make(map[string]core.RiskLevel),
		lastSnap: make(map[string]*core.MarginSnapshot),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetBook registers or replaces a book and persists it.
func (w *Watcher) SetBook(ctx context.Context, name string, book *core.Book) error {
	if err := book.Validate(); err != nil {
		return err
	}

	if err := w.store.SaveBook(ctx, name, book); err != nil {
		return fmt.Errorf("failed to persist book: %w", err)
	}

	w.mu.Lock()
	w.books[name] = book
	delete(w.lastRisk, name)
	delete(w.lastSnap, name)
	w.mu.Unlock()

	w.logger.Info("Book registered", "book", name, "positions", len(book.Positions))
	return nil
}

// Book returns a registered book.
func (w *Watcher) Book(name string) (*core.Book, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	book, ok := w.books[name]
	return book, ok
}

// BookNames returns the registered book names.
func (w *Watcher) BookNames() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	names := make([]string, 0, len(w.books))
	for name := range w.books {
		names = append(names, name)
	}
	return names
}

// SetRate updates the rate used by subsequent evaluations.
func (w *Watcher) SetRate(rate decimal.Decimal) error {
	if !rate.IsPositive() {
		return fmt.Errorf("rate must be positive, got %s", rate)
	}

	w.mu.Lock()
	w.rate = rate
	w.rateSet = true
	w.mu.Unlock()

	w.logger.Info("Rate updated", "rate", rate.String())
	return nil
}

// CurrentRate returns the operator-supplied rate, if one has been set.
func (w *Watcher) CurrentRate() (decimal.Decimal, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.rate, w.rateSet
}

// LastSnapshot returns the most recent evaluation for a book.
func (w *Watcher) LastSnapshot(name string) (*core.MarginSnapshot, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	snap, ok := w.lastSnap[name]
	return snap, ok
}

// Subscribe adds a channel that receives every new snapshot. Slow
// subscribers are skipped, not waited on.
func (w *Watcher) Subscribe(ch chan<- *core.MarginSnapshot) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.subscribers = append(w.subscribers, ch)
}

// Unsubscribe removes a subscriber channel.
func (w *Watcher) Unsubscribe(ch chan<- *core.MarginSnapshot) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, sub := range w.subscribers {
		if sub == ch {
			w.subscribers = append(w.subscribers[:i], w.subscribers[i+1:]...)
			break
		}
	}
}

// Start begins the ticker loop.
func (w *Watcher) Start() {
	w.logger.Info("Starting watcher",
		"interval", w.cfg.Interval,
		"targets", len(w.cfg.Targets))

	w.wg.Add(1)
	go w.run()
}

// Stop cancels the loop and waits for it to exit.
func (w *Watcher) Stop() {
	w.logger.Info("Stopping watcher")
	w.cancel()
	w.wg.Wait()
}

func (w *Watcher) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			if err := w.EvaluateAll(w.ctx); err != nil {
				w.logger.Debug("Evaluation skipped", "error", err)
			}
		}
	}
}

// EvaluateAll evaluates every registered book at the current rate.
// Books are evaluated concurrently through the worker pool; the call
// returns once all evaluations finish.
func (w *Watcher) EvaluateAll(ctx context.Context) error {
	rate, ok := w.CurrentRate()
	if !ok {
		return apperrors.ErrRateNotSet
	}

	w.mu.RLock()
	names := make([]string, 0, len(w.books))
	for name := range w.books {
		names = append(names, name)
	}
	w.mu.RUnlock()

	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		task := func(name string) func() {
			return func() {
				defer wg.Done()
				w.evaluateBook(ctx, name, rate)
			}
		}(name)

		if w.pool != nil {
			if err := w.pool.Submit(task); err != nil {
				w.logger.Warn("Pool rejected evaluation, running inline", "book", name, "error", err)
				task()
			}
		} else {
			go task()
		}
	}
	wg.Wait()

	return nil
}

func (w *Watcher) evaluateBook(ctx context.Context, name string, rate decimal.Decimal) {
	w.mu.RLock()
	book := w.books[name]
	w.mu.RUnlock()
	if book == nil {
		return
	}

	start := time.Now()
	snap := margin.Evaluate(book, rate)

	// Snapshot writes hit SQLite; transient lock contention is retried.
	err := retry.Do(ctx, retry.DefaultPolicy, func(error) bool { return true }, func() error {
		return w.store.AppendSnapshot(ctx, name, &snap)
	})
	if err != nil {
		w.logger.Error("Failed to persist snapshot", "book", name, "error", err)
	}

	w.publishMetrics(name, &snap)
	w.updateCriticalRates(name, book)

	w.mu.Lock()
	prev, seen := w.lastRisk[name]
	w.lastRisk[name] = snap.Risk
	w.lastSnap[name] = &snap
	subs := append([]chan<- *core.MarginSnapshot(nil), w.subscribers...)
	w.mu.Unlock()

	if seen && prev != snap.Risk {
		w.logger.Warn("Risk level transition",
			"book", name,
			"from", prev.String(),
			"to", snap.Risk.String(),
			"margin_level", snap.MarginLevel.StringFixed(2))

		if w.alerts != nil && w.shouldAlert(prev, snap.Risk) {
			w.alerts.AlertRiskTransition(ctx, name, prev, &snap)
			if counter := telemetry.GetGlobalMetrics().AlertsSentTotal; counter != nil {
				counter.Add(ctx, 1)
			}
		}
	}

	for _, sub := range subs {
		select {
		case sub <- &snap:
		default:
			// Subscriber slow, skip
		}
	}

	metrics := telemetry.GetGlobalMetrics()
	if metrics.EvaluationsTotal != nil {
		metrics.EvaluationsTotal.Add(ctx, 1)
	}
	if metrics.EvalDuration != nil {
		metrics.EvalDuration.Record(ctx, float64(time.Since(start).Microseconds())/1000.0)
	}
}

// shouldAlert reports whether a transition clears the configured
// severity floor. Recoveries from an alerted state are also reported.
func (w *Watcher) shouldAlert(prev, next core.RiskLevel) bool {
	floor := w.cfg.MinAlertSeverity.Severity()
	return next.Severity() >= floor || prev.Severity() >= floor
}

func (w *Watcher) publishMetrics(name string, snap *core.MarginSnapshot) {
	metrics := telemetry.GetGlobalMetrics()
	metrics.SetMarginLevel(name, snap.MarginLevel.InexactFloat64())
	metrics.SetEquity(name, snap.Equity.InexactFloat64())
	metrics.SetUnrealizedPnL(name, snap.TotalPnL.InexactFloat64())
	metrics.SetRequiredMargin(name, snap.RequiredMargin.InexactFloat64())
	metrics.SetRiskSeverity(name, int64(snap.Risk.Severity()))
}

func (w *Watcher) updateCriticalRates(name string, book *core.Book) {
	metrics := telemetry.GetGlobalMetrics()
	for _, target := range w.cfg.Targets {
		result := margin.SolveCriticalRate(book, target)
		if result.Solved() {
			metrics.SetCriticalRate(name, target.String(), result.Rate.InexactFloat64())
		} else {
			metrics.ClearCriticalRate(name, target.String())
		}
	}
}
