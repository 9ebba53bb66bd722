package prometheus

import (
	"net"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/squareup/ksession/errors"
	"github.com/squareup/ksession/log"
	"github.com/squareup/ksession/metrics"
)

// Exporter serves the metrics of a prometheus gatherer over HTTP.
type Exporter struct {
	config     metrics.Config
	gatherer   prometheus.Gatherer
	logger     *log.Logger
	lock       sync.Mutex
	httpServer *http.Server
	addr       string
	started    bool
}

// NewExporter creates an exporter for the default registry, where the session counters live.
func NewExporter(config metrics.Config) metrics.Exporter {
	return NewExporterForGatherer(config, prometheus.DefaultGatherer)
}

func NewExporterForGatherer(config metrics.Config, gatherer prometheus.Gatherer) *Exporter {
	return &Exporter{config: config, gatherer: gatherer, logger: log.NewLogger("metrics")}
}

func (e *Exporter) Start() error {
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.started {
		return errors.New("already started")
	}
	listenAddr := metrics.DefaultAddress
	if e.config.Address != "" {
		listenAddr = e.config.Address
	}
	path := e.config.Path
	if path == "" {
		path = "/metrics"
	}
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return errors.NewResourceUnavailableError("metrics listener", err)
	}
	sm := http.NewServeMux()
	sm.Handle(path, promhttp.HandlerFor(e.gatherer, promhttp.HandlerOpts{}))
	e.httpServer = &http.Server{Handler: sm}
	e.addr = ln.Addr().String()
	e.started = true
	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			e.logger.Errorf(err, "prometheus http export server failed")
		}
	}(e.httpServer)
	e.logger.Debugf("serving prometheus metrics on http://%s%s", e.addr, path)
	return nil
}

func (e *Exporter) Stop() error {
	e.lock.Lock()
	defer e.lock.Unlock()
	if !e.started {
		return errors.New("not started")
	}
	e.started = false
	e.addr = ""
	return e.httpServer.Close()
}

func (e *Exporter) Addr() string {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.addr
}
