// Package metrics publishes the counters registered by the session layer.
package metrics

// DefaultAddress is used when the exporter is enabled without an address.
const DefaultAddress = "localhost:2112"

type Config struct {
	Enabled bool   `help:"Serve prometheus metrics over HTTP"`
	Address string `help:"Address the metrics endpoint listens on" default:"localhost:2112"`
	Path    string `help:"HTTP path of the metrics endpoint" default:"/metrics"`
}

type Exporter interface {
	Start() error

	Stop() error

	// Addr is the address the exporter is listening on, or empty when it is not started.
	Addr() string
}
