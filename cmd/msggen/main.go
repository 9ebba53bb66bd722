package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	konghcl "github.com/alecthomas/kong-hcl/v2"
	log "github.com/sirupsen/logrus"
	"github.com/squareup/ksession/cmd/ksession/commands"
	"github.com/squareup/ksession/common"
	"github.com/squareup/ksession/errors"
	klog "github.com/squareup/ksession/log"
	"github.com/squareup/ksession/metrics"
	"github.com/squareup/ksession/metrics/prometheus"
	"github.com/squareup/ksession/msggen"
)

type arguments struct {
	Config        kong.ConfigFlag       `help:"Path to config file" type:"existingfile"`
	Log           klog.Config           `help:"Configuration for the logger" embed:"" prefix:"log-"`
	Session       commands.SessionFlags `help:"Session configuration" embed:"" prefix:""`
	Metrics       metrics.Config        `help:"Prometheus metrics endpoint" embed:"" prefix:"metrics-"`
	GeneratorName string                `help:"Generator to use" enum:"payments,sequence" default:"sequence"`
	Delay         time.Duration         `help:"Pause between messages"`
	NumMessages   int64                 `help:"Number of messages to produce" default:"1000"`
	IndexStart    int64                 `help:"Index of the first message"`
}

func main() {
	defer common.PanicHandler()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, args []string) error {
	cfg := arguments{}
	parser, err := kong.New(&cfg, kong.Name("msggen"), kong.Configuration(konghcl.Loader))
	if err != nil {
		return errors.WithStack(err)
	}
	if _, err = parser.Parse(args); err != nil {
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
	gm, err := msggen.NewGenManager()
	if err != nil {
		return err
	}
	stats, err := gm.ProduceMessages(ctx, cfg.GeneratorName, sessCfg, cfg.Delay, cfg.NumMessages, cfg.IndexStart)
	if err != nil {
		return err
	}
	if stats.Rejected > 0 || stats.Failed > 0 || stats.Abandoned > 0 {
		return errors.Errorf("%d of %d messages were not delivered", stats.Rejected+stats.Failed+stats.Abandoned,
			stats.Enqueued+stats.Rejected)
	}
	return nil
}
