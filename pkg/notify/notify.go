// Package notify fans operator messages out to chat platforms.
package notify

import (
	"context"
	"errors"
	"fmt"
)

const (
	PlatformSlack    = "slack"
	PlatformTelegram = "telegram"
)

type Notifier interface {
	Send(ctx context.Context, title, msg string) error
}

type Service struct {
	notifiers []Notifier
}

func NewService(notifiers ...Notifier) *Service {
	s := &Service{}
	for _, n := range notifiers {
		s.Add(n)
	}
	return s
}

func (s *Service) Add(n Notifier) {
	if n != nil {
		s.notifiers = append(s.notifiers, n)
	}
}

// Enabled reports whether at least one platform is configured.
func (s *Service) Enabled() bool {
	return s != nil && len(s.notifiers) > 0
}

// Send delivers to every platform and joins the failures.
func (s *Service) Send(ctx context.Context, title, msg string) error {
	if s == nil {
		return nil
	}
	var errs []error
	for _, n := range s.notifiers {
		if err := n.Send(ctx, title, msg); err != nil {
			errs = append(errs, fmt.Errorf("notify: %w", err))
		}
	}
	return errors.Join(errs...)
}
