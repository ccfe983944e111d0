package app

import (
	"github.com/okian/ember/internal/domain/dedupe"
	"github.com/okian/ember/internal/domain/thermometer"
	"github.com/okian/ember/pkg/logger"
)

// Option configures a Service.
type Option func(*Service)

// WithLogger overrides the service logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMeter overrides the thermometer weighting.
func WithMeter(m *thermometer.Meter) Option {
	return func(s *Service) {
		if m != nil {
			s.meter = m
		}
	}
}

// WithRepairQueue wires the counter repair pipeline.
func WithRepairQueue(q RepairQueue) Option {
	return func(s *Service) {
		s.queue = q
	}
}

// WithCoalescer wires the repair task deduplicator.
func WithCoalescer(c dedupe.Coalescer) Option {
	return func(s *Service) {
		s.coalescer = c
	}
}

// WithQnetImage sets the image attached to certification listings.
func WithQnetImage(url string) Option {
	return func(s *Service) {
		s.qnetImage = url
	}
}
