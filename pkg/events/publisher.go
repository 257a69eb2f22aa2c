// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Publisher sends encoded events to an external system.
type Publisher interface {
	Name() string
	// Publish sends data. key is the upload id.
	Publish(ctx context.Context, kind Kind, key string, data []byte) error
	Close() error
}

// NewPublishingListener returns a listener that JSON encodes each event and
// hands it to p. It never returns Handled.
func NewPublishingListener(p Publisher) Listener {
	return ListenerFunc(func(ctx context.Context, event *Event) (Result, error) {
		data, err := json.Marshal(event)
		if err != nil {
			return Continue, fmt.Errorf("encode event: %w", err)
		}
		return Continue, p.Publish(ctx, event.Kind, event.UploadID, data)
	})
}

// Setup creates the enabled publishers and registers them for every kind.
// The returned publishers must be closed by the caller.
func Setup(n *Notifier, cfg Config) ([]Publisher, error) {
	cfg.Validate()

	var pubs []Publisher
	if cfg.Redis.Enabled {
		p, err := NewRedisPublisher(cfg.Redis)
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, p)
	}
	if cfg.Kafka.Enabled {
		p, err := NewKafkaPublisher(cfg.Kafka)
		if err != nil {
			CloseAll(pubs)
			return nil, err
		}
		pubs = append(pubs, p)
	}

	for _, p := range pubs {
		n.RegisterAll(p.Name(), NewPublishingListener(p))
	}
	return pubs, nil
}

// CloseAll closes every publisher and joins the errors
func CloseAll(pubs []Publisher) error {
	var errs []error
	for _, p := range pubs {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}
