package orchestrator

import (
	"os"

	"github.com/DataDog/datadog-go/statsd"
	Logger "github.com/kamaleddin/threadify/utils/log"
)

// Metrics wraps the statsd client. All methods are nil-safe so tests and
// local runs without an agent pay nothing.
type Metrics struct {
	client *statsd.Client
}

func NewMetrics() *Metrics {
	addr := os.Getenv("STATSD_ADDR")
	if addr == "" {
		addr = "127.0.0.1:8125"
	}
	client, err := statsd.New(addr, statsd.WithNamespace("threadify."))
	if err != nil {
		Logger.Log.Warnf("statsd unavailable, metrics disabled: %v", err)
		return &Metrics{}
	}
	return &Metrics{client: client}
}

func (m *Metrics) Incr(name string, tags ...string) {
	if m == nil || m.client == nil {
		return
	}
	m.client.Incr(name, tags, 1)
}
