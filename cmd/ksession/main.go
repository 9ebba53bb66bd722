package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	konghcl "github.com/alecthomas/kong-hcl/v2"
	log "github.com/sirupsen/logrus"
	"github.com/squareup/ksession/cmd/ksession/commands"
	"github.com/squareup/ksession/common"
	"github.com/squareup/ksession/errors"
	"github.com/squareup/ksession/lifecycle"
	klog "github.com/squareup/ksession/log"
	"github.com/squareup/ksession/metrics"
	"github.com/squareup/ksession/metrics/prometheus"
	"github.com/squareup/ksession/session"
)

type arguments struct {
	Config    kong.ConfigFlag       `help:"Path to config file" type:"existingfile"`
	Log       klog.Config           `help:"Configuration for the logger" embed:"" prefix:"log-"`
	Session   commands.SessionFlags `help:"Session configuration" embed:"" prefix:""`
	Metrics   metrics.Config        `help:"Prometheus metrics endpoint" embed:"" prefix:"metrics-"`
	Lifecycle lifecycle.Config      `help:"Lifecycle probes" embed:"" prefix:"lifecycle-"`

	Produce commands.ProduceCommand `cmd:"" help:"Produce messages from the command line or stdin"`
	Consume commands.ConsumeCommand `cmd:"" help:"Consume records and print them as offset<TAB>payload"`
	Shell   commands.ShellCommand   `cmd:"" help:"Start an interactive session"`
}

func main() {
	defer common.PanicHandler()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, args []string, in io.Reader, out io.Writer) error {
	cfg := arguments{}
	parser, err := kong.New(&cfg,
		kong.Name("ksession"),
		kong.Description("Produce to and consume from a single topic partition"),
		kong.Configuration(konghcl.Loader),
		kong.Writers(out, os.Stderr))
	if err != nil {
		return errors.WithStack(err)
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		return errors.WithStack(err)
	}
	if err := cfg.Log.Configure(); err != nil {
		return err
	}
	sessCfg, err := cfg.Session.Config()
	if err != nil {
		return err
	}

	if cfg.Metrics.Enabled {
		exporter := prometheus.NewExporter(cfg.Metrics)
		if err := exporter.Start(); err != nil {
			return err
		}
		defer func() {
			_ = exporter.Stop()
		}()
	}
	endpoints := lifecycle.NewLifecycleEndpoints(cfg.Lifecycle)
	if err := endpoints.Start(); err != nil {
		return err
	}
	defer func() {
		_ = endpoints.Stop()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sess := session.NewSession(sessCfg)
	go func() {
		<-ctx.Done()
		sess.Interrupt()
	}()
	endpoints.SetActive(true)
	runErr := kctx.Run(&commands.Env{Ctx: ctx, Session: sess, In: in, Out: out})
	endpoints.SetActive(false)
	// the drain gets its own context, an interrupt stops it through the session flags
	if err := sess.Shutdown(context.Background()); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
