// Package broker is the event sink the outcome recorder publishes to. The
// campaign-health subsystem consumes these events to evaluate auto-pause
// thresholds; the engine only guarantees the trigger fires.
package broker

import "go.uber.org/zap"

type Publisher interface {
	Publish(routingKey string, message []byte) error
	Close() error
}

// NopPublisher drops events, used when no broker is configured.
type NopPublisher struct {
	log *zap.Logger
}

func NewNopPublisher(log *zap.Logger) *NopPublisher {
	return &NopPublisher{log: log}
}

func (p *NopPublisher) Publish(routingKey string, message []byte) error {
	p.log.Debug("event dropped, no broker configured", zap.String("routing_key", routingKey))
	return nil
}

func (p *NopPublisher) Close() error {
	return nil
}
