// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package events fans upload lifecycle events out to listeners, and provides
// listeners that publish them to Redis Pub/Sub or Kafka.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/zaptus/pkg/logger"

	"github.com/getsentry/sentry-go"
)

// ErrorPolicy decides what a listener failure does
type ErrorPolicy string

const (
	// PolicyLog logs and reports failures and keeps delivering
	PolicyLog ErrorPolicy = "log"
	// PolicyPropagate delivers to every listener and returns the joined failures
	PolicyPropagate ErrorPolicy = "propagate"
)

// NotifierConfig configures a Notifier
type NotifierConfig struct {
	ErrorPolicy ErrorPolicy `mapstructure:"error_policy"`
}

type registration struct {
	name     string
	listener Listener
}

// Notifier delivers events to registered listeners. The zero value is not
// usable; use NewNotifier.
type Notifier struct {
	mu        sync.RWMutex
	listeners map[Kind][]registration
	policy    ErrorPolicy
}

// NewNotifier creates a notifier with no listeners.
func NewNotifier(cfg NotifierConfig) (*Notifier, error) {
	switch cfg.ErrorPolicy {
	case "":
		cfg.ErrorPolicy = PolicyLog
	case PolicyLog, PolicyPropagate:
	default:
		return nil, fmt.Errorf("unknown error policy: %s", cfg.ErrorPolicy)
	}
	return &Notifier{
		listeners: make(map[Kind][]registration),
		policy:    cfg.ErrorPolicy,
	}, nil
}

// Policy returns the configured error policy
func (n *Notifier) Policy() ErrorPolicy {
	return n.policy
}

// Register adds l for one kind. name labels logs and metrics.
func (n *Notifier) Register(kind Kind, name string, l Listener) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listeners[kind] = append(n.listeners[kind], registration{name: name, listener: l})
}

// RegisterAll adds l for every kind
func (n *Notifier) RegisterAll(name string, l Listener) {
	for _, kind := range AllKinds {
		n.Register(kind, name, l)
	}
}

// Len returns the number of listeners for kind
func (n *Notifier) Len(kind Kind) int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.listeners[kind])
}

// Emit delivers event to every listener of its kind. The result is Handled
// if any listener returned Handled. Under PolicyPropagate the joined
// listener errors are returned; under PolicyLog the error is always nil.
func (n *Notifier) Emit(ctx context.Context, event *Event) (Result, error) {
	if n == nil {
		return Continue, nil
	}
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}

	n.mu.RLock()
	regs := n.listeners[event.Kind]
	n.mu.RUnlock()

	result := Continue
	var errs []error
	for _, reg := range regs {
		start := time.Now()
		r, err := deliver(ctx, reg.listener, event)
		eventDuration.WithLabelValues(string(event.Kind), reg.name).Observe(time.Since(start).Seconds())

		if err != nil {
			eventErrorsTotal.WithLabelValues(string(event.Kind), reg.name).Inc()
			err = fmt.Errorf("listener %s: %w", reg.name, err)
			if n.policy == PolicyPropagate {
				errs = append(errs, err)
				continue
			}
			logger.Ctx(ctx).Error().
				Err(err).
				Str("event", string(event.Kind)).
				Str("upload_id", event.UploadID).
				Msg("event listener failed")
			sentry.CaptureException(err)
			continue
		}
		if r == Handled {
			result = Handled
		}
	}
	eventsEmittedTotal.WithLabelValues(string(event.Kind)).Inc()

	return result, errors.Join(errs...)
}

// deliver runs one listener, turning a panic into an error
func deliver(ctx context.Context, l Listener, event *Event) (r Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return l.Handle(ctx, event)
}
