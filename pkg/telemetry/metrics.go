package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricMarginLevel      = "margin_monitor_margin_level"
	MetricEquity           = "margin_monitor_equity"
	MetricPnLUnrealized    = "margin_monitor_pnl_unrealized"
	MetricRequiredMargin   = "margin_monitor_required_margin"
	MetricRiskSeverity     = "margin_monitor_risk_severity"
	MetricCriticalRate     = "margin_monitor_critical_rate"
	MetricEvaluationsTotal = "margin_monitor_evaluations_total"
	MetricAlertsSentTotal  = "margin_monitor_alerts_sent_total"
	MetricEvalDuration     = "margin_monitor_eval_duration_ms"
)

type criticalKey struct {
	book   string
	target string
}

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	MarginLevel      metric.Float64ObservableGauge
	Equity           metric.Float64ObservableGauge
	PnLUnrealized    metric.Float64ObservableGauge
	RequiredMargin   metric.Float64ObservableGauge
	RiskSeverity     metric.Int64ObservableGauge
	CriticalRate     metric.Float64ObservableGauge
	EvaluationsTotal metric.Int64Counter
	AlertsSentTotal  metric.Int64Counter
	EvalDuration     metric.Float64Histogram

	// State for observable gauges, keyed by book name
	mu             sync.RWMutex
	marginLevelMap map[string]float64
	equityMap      map[string]float64
	pnlMap         map[string]float64
	requiredMap    map[string]float64
	severityMap    map[string]int64
	criticalMap    map[criticalKey]float64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			marginLevelMap: make(map[string]float64),
			equityMap:      make(map[string]float64),
			pnlMap:         make(map[string]float64),
			requiredMap:    make(map[string]float64),
			severityMap:    make(map[string]int64),
			criticalMap:    make(map[criticalKey]float64),
		}
		// Initialization of instruments happens in InitMetrics
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.EvaluationsTotal, err = meter.Int64Counter(MetricEvaluationsTotal, metric.WithDescription("Total margin evaluations performed"))
	if err != nil {
		return err
	}

	m.AlertsSentTotal, err = meter.Int64Counter(MetricAlertsSentTotal, metric.WithDescription("Total risk alerts dispatched"))
	if err != nil {
		return err
	}

	m.EvalDuration, err = meter.Float64Histogram(MetricEvalDuration, metric.WithDescription("Duration of a single evaluation cycle"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	// Observables
	m.MarginLevel, err = meter.Float64ObservableGauge(MetricMarginLevel, metric.WithDescription("Current margin level in percent"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for book, val := range m.marginLevelMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("book", book)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.Equity, err = meter.Float64ObservableGauge(MetricEquity, metric.WithDescription("Current account equity"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for book, val := range m.equityMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("book", book)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.PnLUnrealized, err = meter.Float64ObservableGauge(MetricPnLUnrealized, metric.WithDescription("Current unrealized PnL"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for book, val := range m.pnlMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("book", book)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.RequiredMargin, err = meter.Float64ObservableGauge(MetricRequiredMargin, metric.WithDescription("Current required margin"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for book, val := range m.requiredMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("book", book)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.RiskSeverity, err = meter.Int64ObservableGauge(MetricRiskSeverity, metric.WithDescription("Risk severity (0=safe, 1=caution, 2=margin call, 3=stop out)"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for book, val := range m.severityMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("book", book)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.CriticalRate, err = meter.Float64ObservableGauge(MetricCriticalRate, metric.WithDescription("Rate at which the margin level reaches the target"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for key, val := range m.criticalMap {
				obs.Observe(val, metric.WithAttributes(
					attribute.String("book", key.book),
					attribute.String("target", key.target),
				))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// Helpers to update observable state

func (m *MetricsHolder) SetMarginLevel(book string, level float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marginLevelMap[book] = level
}

func (m *MetricsHolder) SetEquity(book string, equity float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.equityMap[book] = equity
}

func (m *MetricsHolder) SetUnrealizedPnL(book string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pnlMap[book] = value
}

func (m *MetricsHolder) SetRequiredMargin(book string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requiredMap[book] = value
}

func (m *MetricsHolder) SetRiskSeverity(book string, severity int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.severityMap[book] = severity
}

func (m *MetricsHolder) SetCriticalRate(book, target string, rate float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.criticalMap[criticalKey{book: book, target: target}] = rate
}

// ClearCriticalRate removes the gauge entry for a target that can no
// longer be solved (mixed or empty book).
func (m *MetricsHolder) ClearCriticalRate(book, target string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.criticalMap, criticalKey{book: book, target: target})
}

func (m *MetricsHolder) GetMarginLevel() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]float64)
	for k, v := range m.marginLevelMap {
		res[k] = v
	}
	return res
}

func (m *MetricsHolder) GetRiskSeverity() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]int64)
	for k, v := range m.severityMap {
		res[k] = v
	}
	return res
}
