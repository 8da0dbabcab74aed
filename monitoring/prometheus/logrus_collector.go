package prometheus

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

// LogrusCollector is a logrus hook counting log lines per severity and
// component. Every package logs through a logger carrying a "prefix"
// field (orchestrator, submissions, db, ...), so the counter exposes a
// cheap per-component error-rate signal without parsing log output.
type LogrusCollector struct {
	counterVec *prometheus.CounterVec
}

const (
	prefixKey     = "prefix"
	unknownPrefix = "global"
)

var (
	countedLevels = []logrus.Level{logrus.InfoLevel, logrus.WarnLevel, logrus.ErrorLevel}
	counterVec    = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "log_entries_total",
		Help: "Total log entries emitted by the validator, by level and component prefix.",
	}, []string{"level", "prefix"})
)

// NewLogrusCollector returns the hook to attach via logrus.AddHook. The
// underlying counter is registered once at package init; constructing
// several hooks is harmless as they share it.
func NewLogrusCollector() *LogrusCollector {
	return &LogrusCollector{
		counterVec: counterVec,
	}
}

// Fire is called on every log call.
func (hook *LogrusCollector) Fire(entry *logrus.Entry) error {
	prefix := unknownPrefix
	if prefixValue, ok := entry.Data[prefixKey]; ok {
		prefix, ok = prefixValue.(string)
		if !ok {
			return errors.New("prefix is not a string")
		}
	}
	hook.counterVec.WithLabelValues(entry.Level.String(), prefix).Inc()
	return nil
}

// Levels returns the severities the hook counts. Debug and trace lines
// are deliberately excluded; they would dominate the counter during
// verbose runs.
func (_ *LogrusCollector) Levels() []logrus.Level {
	return countedLevels
}
