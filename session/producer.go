package session

import (
	"context"
	"sync/atomic"

	"github.com/squareup/ksession/conf"
	"github.com/squareup/ksession/errors"
	"github.com/squareup/ksession/interruptor"
	"github.com/squareup/ksession/kafka"
	"github.com/squareup/ksession/log"
)

type ProducerStats struct {
	Enqueued  int64
	Rejected  int64
	Delivered int64
	Failed    int64
	Abandoned int64
}

// Producer enqueues messages to one topic partition without blocking. The connection and the topic are set up by the
// first call to Produce.
type Producer struct {
	cfg         *conf.Config
	factory     kafka.ClientFactory
	logger      *log.Logger
	flag        interruptor.Interruptor
	initialised bool
	setupErr    error
	closed      bool
	conn        *Connection
	topic       kafka.Topic
	seq         int64
	shutdown    *shutdownSequencer
	enqueued    int64
	rejected    int64
	delivered   int64
	failed      int64
	abandoned   int64
}

// NewProducer creates a producer for cfg. If factory is nil the factory is chosen from the configured client type.
func NewProducer(cfg *conf.Config, factory kafka.ClientFactory) *Producer {
	p := &Producer{
		cfg:     cfg,
		factory: factory,
		logger:  log.NewLogger("producer"),
	}
	p.shutdown = newShutdownSequencer(p.logger, &p.flag, cfg.DrainPollInterval, cfg.FlushTimeout)
	return p
}

func (p *Producer) init() error {
	if err := p.cfg.Validate(); err != nil {
		p.logger.Errorf(nil, "%s", err.Error())
		return err
	}
	conn, err := Open(p.cfg, kafka.ModeProducer, p.factory, p.onDelivery)
	if err != nil {
		p.setupErr = err
		return err
	}
	topic, err := conn.BindTopic(p.cfg.Topic)
	if err != nil {
		conn.Close()
		p.setupErr = err
		return err
	}
	p.conn = conn
	p.topic = topic
	p.initialised = true
	p.flag.Start()
	p.logger.Debugf("producing to %s [%d]", p.cfg.Topic, p.cfg.Partition)
	return nil
}

// Initialised returns true once the connection and topic have been set up.
func (p *Producer) Initialised() bool {
	return p.initialised
}

// Produce enqueues a copy of payload. A message the client refuses is logged and dropped, and Produce still returns
// nil. Only a failure to set up the producer is returned. The connection is attempted once and, if it fails, later
// calls return the same failure. Every call ends with one non-blocking poll for delivery reports.
func (p *Producer) Produce(payload []byte) error {
	if p.closed {
		return errors.NewSessionClosedError()
	}
	if p.setupErr != nil {
		return p.setupErr
	}
	if !p.initialised {
		if err := p.init(); err != nil {
			return err
		}
	}
	defer p.conn.Poll(0)
	p.seq++
	if err := p.topic.Produce(p.cfg.Partition, payload, p.seq); err != nil {
		perr := errors.NewProduceRejectedError(p.cfg.Topic, p.cfg.Partition, err)
		p.logger.Errorf(nil, "%s", perr.Error())
		atomic.AddInt64(&p.rejected, 1)
		produceRejectedCounter.Inc()
		return nil
	}
	atomic.AddInt64(&p.enqueued, 1)
	producedCounter.Inc()
	return nil
}

func (p *Producer) onDelivery(report *kafka.DeliveryReport) {
	if report.Err != nil {
		p.logger.Errorf(report.Err, "message %v delivery failed for topic %s [%d]", report.Opaque, report.Topic,
			report.PartInfo.PartitionID)
		atomic.AddInt64(&p.failed, 1)
		deliveryFailedCounter.Inc()
		return
	}
	p.logger.Debugf("message %v delivered to %s [%d] at offset %d", report.Opaque, report.Topic,
		report.PartInfo.PartitionID, report.PartInfo.Offset)
	atomic.AddInt64(&p.delivered, 1)
	deliveredCounter.Inc()
}

// OutQueueLen is the number of enqueued messages still waiting for a delivery report.
func (p *Producer) OutQueueLen() int {
	if p.conn == nil {
		return 0
	}
	return p.conn.OutQueueLen()
}

func (p *Producer) Stats() ProducerStats {
	return ProducerStats{
		Enqueued:  atomic.LoadInt64(&p.enqueued),
		Rejected:  atomic.LoadInt64(&p.rejected),
		Delivered: atomic.LoadInt64(&p.delivered),
		Failed:    atomic.LoadInt64(&p.failed),
		Abandoned: atomic.LoadInt64(&p.abandoned),
	}
}

// Interrupt cuts short a drain which is in progress or yet to start. It is safe to call from any goroutine.
func (p *Producer) Interrupt() {
	p.flag.Interrupt()
}

// Close drains outstanding deliveries and releases the connection. The drain ends when the queue is empty, when the
// flush timeout expires, when ctx is done or when the producer is interrupted. Calling Close again does nothing.
func (p *Producer) Close(ctx context.Context) {
	if p.closed {
		return
	}
	p.closed = true
	if p.initialised {
		abandoned, _ := p.shutdown.run(ctx, p.conn, p.topic, p.cfg.Partition, false)
		atomic.AddInt64(&p.abandoned, int64(abandoned))
		stats := p.Stats()
		p.logger.Infof("shut down: %d enqueued, %d rejected, %d delivered, %d failed, %d abandoned",
			stats.Enqueued, stats.Rejected, stats.Delivered, stats.Failed, stats.Abandoned)
	}
	p.flag.Interrupt()
}
