package events

import (
	"context"
	"fmt"
)

// Publisher is satisfied by config.Publisher.
type Publisher interface {
	Publish(queueName string, message interface{}) error
}

type RabbitSink struct {
	pub   Publisher
	queue string
}

func NewRabbitSink(pub Publisher) *RabbitSink {
	return &RabbitSink{pub: pub, queue: QueueTickEvents}
}

func (s *RabbitSink) Publish(_ context.Context, ev TickEvent) error {
	if err := s.pub.Publish(s.queue, ev); err != nil {
		return fmt.Errorf("publish tick event: %w", err)
	}
	return nil
}
