package lifecycle

import (
	"net"
	"net/http"

	"github.com/squareup/ksession/common"
	"github.com/squareup/ksession/errors"
	"github.com/squareup/ksession/log"
)

type Config struct {
	Enabled       bool   `help:"Serve HTTP startup, readiness and liveness probes"`
	ListenAddress string `help:"Address the probes listen on" default:"localhost:8913"`
	StartupPath   string `help:"Path of the startup probe" default:"/started"`
	ReadyPath     string `help:"Path of the readiness probe" default:"/ready"`
	LivePath      string `help:"Path of the liveness probe" default:"/live"`
}

/*
Endpoints provides HTTP lifecycle endpoints. They are typically used when a long running session, such as the shell
or an unbounded consume, is deployed in k8s.
*/
type Endpoints struct {
	conf    Config
	logger  *log.Logger
	server  *http.Server
	addr    string
	started common.AtomicBool
	ready   common.AtomicBool
	live    common.AtomicBool
}

func NewLifecycleEndpoints(config Config) *Endpoints {
	return &Endpoints{conf: config, logger: log.NewLogger("lifecycle")}
}

// SetActive marks the session as up or down. The three probes move together.
func (e *Endpoints) SetActive(active bool) {
	e.started.Set(active)
	e.ready.Set(active)
	e.live.Set(active)
}

func (e *Endpoints) Start() error {
	if !e.conf.Enabled {
		return nil
	}

	sm := http.NewServeMux()
	sm.Handle(e.conf.StartupPath, &handler{state: &e.started})
	sm.Handle(e.conf.ReadyPath, &handler{state: &e.ready})
	sm.Handle(e.conf.LivePath, &handler{state: &e.live})

	e.server = &http.Server{Handler: sm}

	ln, err := net.Listen("tcp", e.conf.ListenAddress)
	if err != nil {
		return errors.NewResourceUnavailableError("lifecycle listener", err)
	}
	e.addr = ln.Addr().String()

	go func() {
		err := e.server.Serve(ln)
		if err != nil && err != http.ErrServerClosed {
			e.logger.Errorf(err, "lifecycle server failed")
		}
	}()
	return nil
}

// Addr is the address the probes are served on once started.
func (e *Endpoints) Addr() string {
	return e.addr
}

func (e *Endpoints) Stop() error {
	if !e.conf.Enabled || e.server == nil {
		return nil
	}
	return e.server.Close()
}

type handler struct {
	state *common.AtomicBool
}

func (i *handler) ServeHTTP(writer http.ResponseWriter, _ *http.Request) {
	if i.state.Get() {
		writer.WriteHeader(http.StatusOK)
	} else {
		writer.WriteHeader(http.StatusServiceUnavailable)
	}
}
