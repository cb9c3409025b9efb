// Package events delivers inbound envelopes to downstream consumers. The
// gateway publishes every envelope an adapter emits; what sits on the other
// end depends on the configured driver.
package events

import (
	"context"
	"sync"

	"github.com/inletmsg/inlet/internal/domain"
	"github.com/inletmsg/inlet/internal/logging"
)

// Publisher delivers envelopes under a routing key.
type Publisher interface {
	Publish(ctx context.Context, key string, envelope domain.Envelope) error
	Close() error
}

// RoutingKey builds the topic key for an inbound envelope:
// inlet.inbound.{channel}, with "unknown" when the channel is unset.
func RoutingKey(envelope domain.Envelope) string {
	channel := envelope.Channel
	if channel == "" {
		channel = "unknown"
	}
	return "inlet.inbound." + channel
}

// LogPublisher writes envelopes to the log and keeps nothing. It is the
// default driver for local runs where no broker is available.
type LogPublisher struct {
	log *logging.Logger
}

// NewLogPublisher creates a publisher that only logs.
func NewLogPublisher(log *logging.Logger) *LogPublisher {
	return &LogPublisher{log: log.Sub("events")}
}

// Publish logs the envelope at info level.
func (p *LogPublisher) Publish(_ context.Context, key string, envelope domain.Envelope) error {
	p.log.Info().
		Str("key", key).
		Str("id", envelope.ID).
		Str("channel", envelope.Channel).
		Str("tenant", envelope.Tenant.TenantID).
		Msg("envelope published")
	return nil
}

// Close implements Publisher.
func (p *LogPublisher) Close() error { return nil }

// MemoryPublisher retains published envelopes in order. Used by tests and
// by the in-process driver.
type MemoryPublisher struct {
	mu      sync.Mutex
	entries []PublishedEnvelope
}

// PublishedEnvelope is one captured publish call.
type PublishedEnvelope struct {
	Key      string
	Envelope domain.Envelope
}

// NewMemoryPublisher creates an empty in-memory publisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// Publish appends the envelope to the captured list.
func (p *MemoryPublisher) Publish(_ context.Context, key string, envelope domain.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, PublishedEnvelope{Key: key, Envelope: envelope.Clone()})
	return nil
}

// Published returns a copy of everything published so far.
func (p *MemoryPublisher) Published() []PublishedEnvelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PublishedEnvelope, len(p.entries))
	copy(out, p.entries)
	return out
}

// Close implements Publisher.
func (p *MemoryPublisher) Close() error { return nil }
