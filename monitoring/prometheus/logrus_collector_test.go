package prometheus

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/sirupsen/logrus"

	"github.com/chainswarm/subnet2/testing/assert"
	"github.com/chainswarm/subnet2/testing/require"
)

func counterValue(t *testing.T, level, prefix string) float64 {
	var m dto.Metric
	require.NoError(t, counterVec.WithLabelValues(level, prefix).Write(&m))
	return m.GetCounter().GetValue()
}

func TestLogrusCollector_CountsByComponentPrefix(t *testing.T) {
	hook := NewLogrusCollector()

	before := counterValue(t, "warning", "orchestrator")
	require.NoError(t, hook.Fire(&logrus.Entry{
		Data:  logrus.Fields{"prefix": "orchestrator"},
		Level: logrus.WarnLevel,
	}))
	assert.Equal(t, before+1, counterValue(t, "warning", "orchestrator"))

	// Entries without a component prefix land in the global bucket.
	before = counterValue(t, "info", "global")
	require.NoError(t, hook.Fire(&logrus.Entry{
		Data:  logrus.Fields{},
		Level: logrus.InfoLevel,
	}))
	assert.Equal(t, before+1, counterValue(t, "info", "global"))
}

func TestLogrusCollector_RejectsNonStringPrefix(t *testing.T) {
	hook := NewLogrusCollector()
	err := hook.Fire(&logrus.Entry{
		Data:  logrus.Fields{"prefix": 42},
		Level: logrus.ErrorLevel,
	})
	require.ErrorContains(t, "prefix is not a string", err)
}
