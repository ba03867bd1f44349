// Package alert fans risk notifications out to the configured channels.
package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"margin_monitor/internal/core"
)

type AlertLevel string

const (
	Info     AlertLevel = "INFO"
	Warning  AlertLevel = "WARNING"
	Error    AlertLevel = "ERROR"
	Critical AlertLevel = "CRITICAL"
)

// LevelForRisk maps a margin risk bucket onto an alert level.
func LevelForRisk(risk core.RiskLevel) AlertLevel {
	switch risk {
	case core.RiskStopOut:
		return Critical
	case core.RiskMarginCall:
		return Error
	case core.RiskCaution:
		return Warning
	default:
		return Info
	}
}

type AlertPayload struct {
	Level     AlertLevel
	Title     string
	Message   string
	Timestamp time.Time
	Fields    map[string]string
}

type AlertChannel interface {
	Send(ctx context.Context, alert AlertPayload) error
	Name() string
}

type AlertManager struct {
	channels []AlertChannel
	logger   core.ILogger
	mu       sync.RWMutex
}

func NewAlertManager(logger core.ILogger) *AlertManager {
	return &AlertManager{
		channels: make([]AlertChannel, 0),
		logger:   logger.WithField("component", "alert_manager"),
	}
}

func (am *AlertManager) AddChannel(ch AlertChannel) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.channels = append(am.channels, ch)
	am.logger.Info("Added alert channel", "name", ch.Name())
}

// ChannelCount reports how many channels are registered.
func (am *AlertManager) ChannelCount() int {
	am.mu.RLock()
	defer am.mu.RUnlock()
	return len(am.channels)
}

// Alert dispatches to every channel concurrently and returns without
// waiting for delivery. Alerting must never stall the evaluation loop.
func (am *AlertManager) Alert(ctx context.Context, title, message string, level AlertLevel, fields map[string]string) {
	payload := AlertPayload{
		Level:     level,
		Title:     title,
		Message:   message,
		Timestamp: time.Now(),
		Fields:    fields,
	}

	am.logger.Info("Triggering alert", "title", title, "level", level)

	am.mu.RLock()
	defer am.mu.RUnlock()

	for _, ch := range am.channels {
		go func(c AlertChannel) {
			timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()

			if err := c.Send(timeoutCtx, payload); err != nil {
				am.logger.Error("Failed to send alert", "channel", c.Name(), "error", err)
			}
		}(ch)
	}
}

// AlertRiskTransition formats and dispatches a risk state change for a
// book.
func (am *AlertManager) AlertRiskTransition(ctx context.Context, book string, prev core.RiskLevel, snap *core.MarginSnapshot) {
	title := fmt.Sprintf("Risk level changed: %s -> %s", prev, snap.Risk)
	message := fmt.Sprintf("Book %q moved to %s at rate %s", book, snap.Risk, snap.Rate.String())

	am.Alert(ctx, title, message, LevelForRisk(snap.Risk), map[string]string{
		"book":            book,
		"rate":            snap.Rate.String(),
		"margin_level":    snap.MarginLevel.StringFixed(2),
		"equity":          snap.Equity.StringFixed(2),
		"required_margin": snap.RequiredMargin.StringFixed(2),
		"unrealized_pnl":  snap.TotalPnL.StringFixed(2),
	})
}
