package finagle

import "strings"

// Cluster is an externally supplied set of candidate server addresses.
// Finagle only reads from it. Ready is closed once the initial membership
// is populated; assembly blocks on it before building per-host pipelines.
type Cluster interface {
	Hosts() []string
	Ready() <-chan struct{}
}

// StaticCluster is a fixed address list, ready immediately.
type StaticCluster struct {
	hosts []string
	ready chan struct{}
}

// NewStaticCluster creates a cluster from a fixed list of host:port
// addresses.
func NewStaticCluster(hosts ...string) *StaticCluster {
	ready := make(chan struct{})
	close(ready)
	return &StaticCluster{hosts: append([]string(nil), hosts...), ready: ready}
}

// Hosts returns a copy of the address list.
func (c *StaticCluster) Hosts() []string {
	return append([]string(nil), c.hosts...)
}

// Ready returns a channel that is already closed.
func (c *StaticCluster) Ready() <-chan struct{} { return c.ready }

// parseHostList splits a comma- or whitespace-separated "host:port" list,
// the format accepted by ClientBuilder.Hosts.
func parseHostList(list string) []string {
	fields := strings.FieldsFunc(list, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	hosts := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			hosts = append(hosts, f)
		}
	}
	return hosts
}
