package ingest

import (
	"context"
	"errors"
	"fmt"
)

var ErrEmptyBody = errors.New("empty update body")

type Publisher interface {
	Publish(ctx context.Context, body []byte) error
}

// Service hands raw webhook bodies to the durable queue. The body is never
// parsed or validated here; the worker side owns the schema.
type Service struct {
	publisher Publisher
}

func NewService(publisher Publisher) *Service {
	return &Service{publisher: publisher}
}

// Accept enqueues one verbatim update body. The caller decides whether a
// failure is surfaced or swallowed.
func (s *Service) Accept(ctx context.Context, body []byte) error {
	if len(body) == 0 {
		return ErrEmptyBody
	}
	if s == nil || s.publisher == nil {
		return fmt.Errorf("queue publisher is not configured")
	}

	if err := s.publisher.Publish(ctx, body); err != nil {
		return fmt.Errorf("enqueue update: %w", err)
	}

	return nil
}
