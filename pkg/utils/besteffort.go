package utils

import (
	log "github.com/sirupsen/logrus"
)

// BestEffort is the outcome of an operation whose failure must not abort the
// caller. It is logged, never returned as an error.
type BestEffort struct {
	Op  string
	Err error
}

func Try(op string, fn func() error) BestEffort {
	return BestEffort{Op: op, Err: fn()}
}

func (b BestEffort) OK() bool { return b.Err == nil }

// Log reports a failure at warn level on l.
func (b BestEffort) Log(l *log.Entry) BestEffort {
	if b.Err != nil {
		l.WithError(b.Err).Warnf("failed to %s", b.Op)
	}
	return b
}
