package metrics

import (
	"time"

	"github.com/skylinedb/flightdeck/pkg/types"
)

// ExecutorSource is the part of pkg/cluster.Manager the collector polls.
// Taking it as an interface keeps this package from importing pkg/cluster,
// which itself imports pkg/metrics.
type ExecutorSource interface {
	GetAliveExecutorsWithin(window time.Duration) []string
	GetSlotLedger(id string) (types.ExecutorData, error)
}

// livenessWindow equals cluster.DefaultLivenessTimeout.
const livenessWindow = 60 * time.Second

// Collector periodically polls the Executor Manager and republishes its
// state as gauges, so dashboards don't have to scrape every component's
// in-memory caches directly.
type Collector struct {
	manager ExecutorSource
	stopCh  chan struct{}
}

// NewCollector creates a new metrics collector.
func NewCollector(mgr ExecutorSource) *Collector {
	return &Collector{
		manager: mgr,
		stopCh:  make(chan struct{}),
	}
}

// Start begins collecting metrics.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectExecutorMetrics()
}

func (c *Collector) collectExecutorMetrics() {
	alive := c.manager.GetAliveExecutorsWithin(livenessWindow)
	ExecutorsTotal.WithLabelValues("alive").Set(float64(len(alive)))

	var total, available int
	for _, id := range alive {
		ledger, err := c.manager.GetSlotLedger(id)
		if err != nil {
			continue
		}
		total += ledger.Total
		available += ledger.Available
	}
	TaskSlotsTotal.Set(float64(total))
	TaskSlotsAvailable.Set(float64(available))
}
