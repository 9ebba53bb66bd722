package msggen

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/squareup/ksession/conf"
	"github.com/squareup/ksession/errors"
	"github.com/squareup/ksession/kafka"
	"github.com/squareup/ksession/log"
	"github.com/squareup/ksession/session"
)

var (
	generatedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ksession_msggen_generated_total",
		Help: "Total number of messages handed to the producer by the generator",
	})
	generateErrorsCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ksession_msggen_errors_total",
		Help: "Total number of messages the generator failed to build",
	})
	generateDurationObserver = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "ksession_msggen_duration",
		Help: "Duration in microseconds of building and enqueuing one message",
	})
)

// MessageGenerator - quick and dirty message payload generator for demos, tests etc
type MessageGenerator interface {
	GenerateMessage(index int64, rnd *rand.Rand) ([]byte, error)
	Name() string
}

type GenManager struct {
	lock       sync.Mutex
	generators map[string]MessageGenerator
	factory    kafka.ClientFactory
	logger     *log.Logger
}

func NewGenManager() (*GenManager, error) {
	return NewGenManagerWithFactory(nil)
}

// NewGenManagerWithFactory creates a manager whose producers get their clients from factory. A nil factory picks
// the client from the configuration.
func NewGenManagerWithFactory(factory kafka.ClientFactory) (*GenManager, error) {
	gm := &GenManager{
		generators: make(map[string]MessageGenerator),
		factory:    factory,
		logger:     log.NewLogger("msggen"),
	}
	if err := gm.RegisterGenerators(); err != nil {
		return nil, errors.WithStack(err)
	}
	return gm, nil
}

func (gm *GenManager) RegisterGenerator(gen MessageGenerator) error {
	gm.lock.Lock()
	defer gm.lock.Unlock()
	if _, ok := gm.generators[gen.Name()]; ok {
		return errors.Errorf("generator already registered with name %s", gen.Name())
	}
	gm.generators[gen.Name()] = gen
	return nil
}

func (gm *GenManager) RegisterGenerators() error {
	if err := gm.RegisterGenerator(&PaymentGenerator{}); err != nil {
		return err
	}
	return gm.RegisterGenerator(&SequenceGenerator{})
}

func (gm *GenManager) GeneratorNames() []string {
	gm.lock.Lock()
	defer gm.lock.Unlock()
	names := make([]string, 0, len(gm.generators))
	for name := range gm.generators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ProduceMessages produces numMessages generated payloads, numbered from indexStart, through a new producer for cfg.
// The producer is shut down before returning, so its stats include every delivery or abandonment.
func (gm *GenManager) ProduceMessages(ctx context.Context, genName string, cfg *conf.Config, delay time.Duration,
	numMessages int64, indexStart int64) (session.ProducerStats, error) {
	gm.lock.Lock()
	gen, ok := gm.generators[genName]
	gm.lock.Unlock()
	if !ok {
		return session.ProducerStats{}, errors.Errorf("no generator registered with name %s", genName)
	}

	producer := session.NewProducer(cfg, gm.factory)
	defer producer.Close(ctx)

	doneChan := make(chan struct{})
	defer close(doneChan)
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				stats := producer.Stats()
				gm.logger.Infof("%d/%d messages enqueued to topic %s", stats.Enqueued, numMessages, cfg.Topic)
			case <-doneChan:
				return
			}
		}
	}()

	rnd := rand.New(rand.NewSource(time.Now().UTC().UnixNano())) //nolint:gosec
	for i := indexStart; i < indexStart+numMessages; i++ {
		if ctx.Err() != nil {
			gm.logger.Warnf(ctx.Err(), "stopping after %d messages", i-indexStart)
			break
		}
		start := time.Now()
		payload, err := gen.GenerateMessage(i, rnd)
		if err != nil {
			generateErrorsCounter.Inc()
			return producer.Stats(), errors.WithStack(err)
		}
		if err := producer.Produce(payload); err != nil {
			return producer.Stats(), err
		}
		generatedCounter.Inc()
		generateDurationObserver.Observe(float64(time.Since(start).Microseconds()))
		if delay != 0 {
			time.Sleep(delay)
		}
	}
	producer.Close(ctx)
	stats := producer.Stats()
	gm.logger.Infof("%d messages enqueued to topic %s, %d delivered, %d rejected, %d failed, %d abandoned",
		stats.Enqueued, cfg.Topic, stats.Delivered, stats.Rejected, stats.Failed, stats.Abandoned)
	return stats, nil
}
