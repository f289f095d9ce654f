package utils

import (
	"errors"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
)

func TestBestEffort(t *testing.T) {
	logger, hook := test.NewNullLogger()
	entry := log.NewEntry(logger)

	ok := Try("save memory", func() error { return nil }).Log(entry)
	assert.True(t, ok.OK())
	assert.Empty(t, hook.AllEntries())

	failed := Try("save memory", func() error { return errors.New("redis down") }).Log(entry)
	assert.False(t, failed.OK())
	if assert.Len(t, hook.AllEntries(), 1) {
		assert.Equal(t, "failed to save memory", hook.LastEntry().Message)
		assert.Equal(t, log.WarnLevel, hook.LastEntry().Level)
	}
}
