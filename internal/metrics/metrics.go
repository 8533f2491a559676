package metrics

import (
	"time"
)

// Collector records treasury activity. Implementations can export to any backend.
type Collector interface {
	// Ledger and workflow
	RecordPosting(kind, direction string)
	RecordTopup(outcome string)

	// Authorization key
	RecordKeyVerification(outcome string)
	RecordKeysSwept(count int)

	// Closings
	RecordClosing(systemTotal float64, entries int, duration time.Duration)
	RecordClosingCache(hit bool)

	// Maintenance
	RecordPurgeBatch(deleted int64, percent float64, success bool)
}

// NoOpCollector is used when metrics are not needed.
type NoOpCollector struct{}

func (NoOpCollector) RecordPosting(kind, direction string) {}

func (NoOpCollector) RecordTopup(outcome string) {}

func (NoOpCollector) RecordKeyVerification(outcome string) {}

func (NoOpCollector) RecordKeysSwept(count int) {}

func (NoOpCollector) RecordClosing(systemTotal float64, entries int, duration time.Duration) {}

func (NoOpCollector) RecordClosingCache(hit bool) {}

func (NoOpCollector) RecordPurgeBatch(deleted int64, percent float64, success bool) {}
