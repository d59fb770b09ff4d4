package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordBuildInfo(t *testing.T) {
	RecordBuildInfo("1.2.3", "abc123")
	assert.Equal(t, float64(1), testutil.ToFloat64(buildInfo.WithLabelValues("1.2.3", "abc123")))
}
