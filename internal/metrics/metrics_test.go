package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(TradesTotal.WithLabelValues("dry_run"))
	TradesTotal.WithLabelValues("dry_run").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(TradesTotal.WithLabelValues("dry_run")))

	assert.Equal(t, "ok", Result(true))
	assert.Equal(t, "error", Result(false))
}
