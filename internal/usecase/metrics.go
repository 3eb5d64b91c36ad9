package usecase

import "github.com/shelfsignal/backend/internal/domain"

// Metrics receives counters from the tracking and sync pipelines
type Metrics interface {
	SignalExtracted(platform domain.PlatformID, outcome domain.SignalOutcome)
	HistoryUpserted()
	SyncWrite(target string)
	ProductSynced(status domain.ProductSyncStatus)
	QueueDepth(n int)
	QueueFlushed(outcome string)
}

// Sync write targets
const (
	WriteTargetLocal  = "local"
	WriteTargetRemote = "remote"
)

// Queue flush outcomes
const (
	FlushDelivered = "delivered"
	FlushFailed    = "failed"
	FlushRequeued  = "requeued"
)

type noopMetrics struct{}

func (noopMetrics) SignalExtracted(domain.PlatformID, domain.SignalOutcome) {}
func (noopMetrics) HistoryUpserted()                                        {}
func (noopMetrics) SyncWrite(string)                                        {}
func (noopMetrics) ProductSynced(domain.ProductSyncStatus)                  {}
func (noopMetrics) QueueDepth(int)                                          {}
func (noopMetrics) QueueFlushed(string)                                     {}

func metricsOrNoop(m Metrics) Metrics {
	if m == nil {
		return noopMetrics{}
	}
	return m
}
