package filesession

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"pkt.systems/pslog"
)

const instrumentationName = "pkt.systems/filesession"

// Load and commit outcomes recorded as the filesession.result attribute.
const (
	resultOK          = "ok"
	resultInvalidSID  = "invalid_sid"
	resultOpenFailed  = "open_failed"
	resultLockFailed  = "lock_failed"
	resultDecodeError = "decode_error"
	resultEncodeError = "encode_error"
	resultWriteFailed = "write_failed"
	resultRemoved     = "removed"
)

type storeMetrics struct {
	loads        metric.Int64Counter
	commits      metric.Int64Counter
	lockFailures metric.Int64Counter
	commitBytes  metric.Int64Histogram
}

func newStoreMetrics(logger pslog.Logger) *storeMetrics {
	meter := otel.Meter(instrumentationName)
	m := &storeMetrics{}
	var err error

	m.loads, err = meter.Int64Counter(
		"filesession.load",
		metric.WithDescription("Session mappings loaded from disk, by result"),
	)
	logMetricInitError(logger, "filesession.load", err)

	m.commits, err = meter.Int64Counter(
		"filesession.commit",
		metric.WithDescription("Dirty session mappings committed at scope close, by result"),
	)
	logMetricInitError(logger, "filesession.commit", err)

	m.lockFailures, err = meter.Int64Counter(
		"filesession.lock.failures",
		metric.WithDescription("Session lock acquisitions that failed or timed out"),
	)
	logMetricInitError(logger, "filesession.lock.failures", err)

	m.commitBytes, err = meter.Int64Histogram(
		"filesession.commit.size",
		metric.WithDescription("Bytes written per session commit"),
		metric.WithUnit("By"),
	)
	logMetricInitError(logger, "filesession.commit.size", err)

	return m
}

func (m *storeMetrics) recordLoad(ctx context.Context, result string) {
	if m == nil || m.loads == nil {
		return
	}
	m.loads.Add(ctx, 1, metric.WithAttributes(attribute.String("filesession.result", result)))
}

func (m *storeMetrics) recordCommit(ctx context.Context, result string, size int) {
	if m == nil {
		return
	}
	if m.commits != nil {
		m.commits.Add(ctx, 1, metric.WithAttributes(attribute.String("filesession.result", result)))
	}
	if m.commitBytes != nil && result == resultOK {
		m.commitBytes.Record(ctx, int64(size))
	}
}

func (m *storeMetrics) recordLockFailure(ctx context.Context, phase string) {
	if m == nil || m.lockFailures == nil {
		return
	}
	m.lockFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("filesession.phase", phase)))
}

func logMetricInitError(logger pslog.Logger, name string, err error) {
	if err == nil || logger == nil {
		return
	}
	logger.Warn("telemetry.metric.init_failed", "name", name, "error", err)
}
