package protocol

import "sort"

// PortResult is the outcome of benchmarking one physical port. Exactly one of
// Speed (MB/s) or Err is meaningful.
type PortResult struct {
	Speed float64 `json:"speed,omitempty"`
	Err   string  `json:"err,omitempty"`
}

// OK reports whether the port met its speed requirement.
func (r PortResult) OK() bool {
	return r.Err == ""
}

// Benchmark holds per-port results keyed by "<hub class>: <port description>".
type Benchmark struct {
	PortResults map[string]PortResult `json:"port_results"`
}

// Ports returns the port names in stable order.
func (b Benchmark) Ports() []string {
	names := make([]string, 0, len(b.PortResults))
	for name := range b.PortResults {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
