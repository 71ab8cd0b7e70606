// Package action dispatches the opaque action a matched rule carries to a
// concrete external effect (webhook call, email, SMS), behind a small
// Handler interface so the core evaluator never needs to know how actions
// are actually executed.
package action

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Descriptor is what a matched rule hands to the dispatcher: which channel
// to use, a template to render, a target (recipient address, phone number,
// webhook URL), and the data available to the template.
type Descriptor struct {
	Channel  string
	Template string
	Target   string
	Data     map[string]any
}

// Handler executes one action channel (email, sms, webhook, ...).
type Handler interface {
	Channel() string
	Execute(ctx context.Context, correlationID string, d Descriptor) error
}

// Dispatcher routes a Descriptor to its registered Handler, rate-limited
// per channel.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	limiters map[string]*rate.Limiter
	logger   *slog.Logger
}

func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		handlers: make(map[string]Handler),
		limiters: make(map[string]*rate.Limiter),
		logger:   logger,
	}
}

// Register wires a handler for its channel with a per-minute rate limit;
// ratePerMin <= 0 disables limiting for that channel.
func (d *Dispatcher) Register(h Handler, ratePerMin int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[h.Channel()] = h
	if ratePerMin > 0 {
		perSecond := float64(ratePerMin) / 60.0
		d.limiters[h.Channel()] = rate.NewLimiter(rate.Limit(perSecond), ratePerMin)
	}
}

// Dispatch renders and executes one action, blocking until its channel's
// rate limiter admits it or ctx is cancelled.
func (d *Dispatcher) Dispatch(ctx context.Context, desc Descriptor) error {
	d.mu.RLock()
	h, ok := d.handlers[desc.Channel]
	limiter := d.limiters[desc.Channel]
	d.mu.RUnlock()

	if !ok {
		return fmt.Errorf("action: no handler registered for channel %q", desc.Channel)
	}
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("action: rate limit wait for %q: %w", desc.Channel, err)
		}
	}

	correlationID := uuid.NewString()
	if err := h.Execute(ctx, correlationID, desc); err != nil {
		d.logger.Error("action: dispatch failed", "channel", desc.Channel, "correlation_id", correlationID, "err", err)
		return err
	}
	d.logger.Info("action: dispatched", "channel", desc.Channel, "correlation_id", correlationID, "target", desc.Target)
	return nil
}
