// Package metrics is a thin statsd facade. Until Setup succeeds every call
// is a no-op, so library code can emit unconditionally.
package metrics

import (
	"github.com/DataDog/datadog-go/v5/statsd"
)

var client statsd.ClientInterface = &statsd.NoOpClient{}

// Setup connects the statsd client. addr is host:port of the agent.
func Setup(addr, namespace string) error {
	c, err := statsd.New(addr, statsd.WithNamespace(namespace))
	if err != nil {
		return err
	}
	client = c
	return nil
}

func Gauge(name string, value float64, tags ...string) {
	_ = client.Gauge(name, value, tags, 1)
}

func Count(name string, value int64, tags ...string) {
	_ = client.Count(name, value, tags, 1)
}
