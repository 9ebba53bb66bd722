package session

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/squareup/ksession/common"
	"github.com/squareup/ksession/conf"
	"github.com/squareup/ksession/errors"
	"github.com/squareup/ksession/interruptor"
	"github.com/squareup/ksession/kafka"
	"github.com/squareup/ksession/log"
)

type ConsumerState int

const (
	ConsumerStarting ConsumerState = iota
	ConsumerFetching
	ConsumerDelivering
	ConsumerEndOfStream
	ConsumerError
	ConsumerStopped
)

func (s ConsumerState) String() string {
	switch s {
	case ConsumerStarting:
		return "starting"
	case ConsumerFetching:
		return "fetching"
	case ConsumerDelivering:
		return "delivering"
	case ConsumerEndOfStream:
		return "end-of-stream"
	case ConsumerError:
		return "error"
	case ConsumerStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

func (s ConsumerState) terminal() bool {
	return s == ConsumerEndOfStream || s == ConsumerError || s == ConsumerStopped
}

type ConsumerStats struct {
	Iterations  int64
	Consumed    int64
	Timeouts    int64
	FetchErrors int64
	EOFs        int64
}

// Consumer reads records from one topic partition. Every call to Consume opens its own connection and run flag, and
// tears them down before returning.
type Consumer struct {
	cfg           *conf.Config
	factory       kafka.ClientFactory
	logger        *log.Logger
	defaultOffset int64
	current       atomic.Value // *interruptor.Interruptor of the running invocation
	state         int32
	stats         ConsumerStats
}

// NewConsumer creates a consumer for cfg. If factory is nil the factory is chosen from the configured client type.
func NewConsumer(cfg *conf.Config, factory kafka.ClientFactory) *Consumer {
	defaultOffset := ResolveOffset(cfg.DefaultOffset, kafka.OffsetBeginning)
	return &Consumer{
		cfg:           cfg,
		factory:       factory,
		logger:        log.NewLogger("consumer"),
		defaultOffset: defaultOffset,
		state:         int32(ConsumerStopped),
	}
}

func (c *Consumer) State() ConsumerState {
	return ConsumerState(atomic.LoadInt32(&c.state))
}

func (c *Consumer) setState(state ConsumerState) {
	prev := ConsumerState(atomic.SwapInt32(&c.state, int32(state)))
	if prev != state {
		c.logger.Debugf("%s -> %s", prev, state)
	}
}

// Stats returns the counters of the most recent invocation.
func (c *Consumer) Stats() ConsumerStats {
	return ConsumerStats{
		Iterations:  atomic.LoadInt64(&c.stats.Iterations),
		Consumed:    atomic.LoadInt64(&c.stats.Consumed),
		Timeouts:    atomic.LoadInt64(&c.stats.Timeouts),
		FetchErrors: atomic.LoadInt64(&c.stats.FetchErrors),
		EOFs:        atomic.LoadInt64(&c.stats.EOFs),
	}
}

// DefaultOffset is the offset an empty offset token resolves to: the offset the previous invocation started from, or
// the configured default.
func (c *Consumer) DefaultOffset() int64 {
	return c.defaultOffset
}

// Interrupt stops the running invocation at the start of its next iteration. It is safe to call from any goroutine.
func (c *Consumer) Interrupt() {
	if flag, ok := c.current.Load().(*interruptor.Interruptor); ok {
		flag.Interrupt()
	}
}

// resetStats clears the counters with atomic stores as Stats may be read concurrently.
func (c *Consumer) resetStats() {
	atomic.StoreInt64(&c.stats.Iterations, 0)
	atomic.StoreInt64(&c.stats.Consumed, 0)
	atomic.StoreInt64(&c.stats.Timeouts, 0)
	atomic.StoreInt64(&c.stats.FetchErrors, 0)
	atomic.StoreInt64(&c.stats.EOFs, 0)
}

// Consume fetches records starting at the offset named by offsetToken and returns their payloads keyed by offset.
//
// With a positive itemCount the loop runs at most itemCount fetch iterations, whether or not they return a record.
// Otherwise it runs until the end of the partition is reached with the stop policy, until ctx is done or until the
// consumer is interrupted. Per-record errors are logged and skipped. Only a failure to start the fetch session is
// returned, along with a nil map.
func (c *Consumer) Consume(ctx context.Context, offsetToken string, itemCount int) (map[int64][]byte, error) {
	flag := &interruptor.Interruptor{}
	c.current.Store(flag)
	c.resetStats()
	c.setState(ConsumerStarting)

	offset := ResolveOffset(offsetToken, c.defaultOffset)
	c.defaultOffset = offset
	partition := c.cfg.Partition
	if partition == kafka.PartitionUnassigned {
		partition = 0
	}
	c.logger.Debugf("starting %s [%d] at offset %d (token %q)", c.cfg.Topic, partition, offset, offsetToken)

	if err := c.cfg.Validate(); err != nil {
		c.setState(ConsumerError)
		return nil, err
	}
	conn, err := Open(c.cfg, kafka.ModeConsumer, c.factory, nil)
	if err != nil {
		c.setState(ConsumerError)
		return nil, err
	}
	shutdown := newShutdownSequencer(c.logger, flag, c.cfg.DrainPollInterval, c.cfg.FlushTimeout)
	topic, err := conn.BindTopic(c.cfg.Topic)
	if err != nil {
		c.setState(ConsumerError)
		shutdown.run(ctx, conn, nil, partition, false)
		return nil, err
	}
	if err := topic.ConsumeStart(partition, offset); err != nil {
		serr := errors.NewConsumeStartFailedError(c.cfg.Topic, partition, err)
		c.logger.Errorf(nil, "%s", serr.Error())
		c.setState(ConsumerError)
		shutdown.run(ctx, conn, topic, partition, false)
		return nil, serr
	}
	flag.Start()

	result := c.fetchLoop(ctx, flag, topic, partition, itemCount)

	shutdown.run(ctx, conn, topic, partition, true)
	c.logger.Infof("consumed %d records from %s [%d]", len(result), c.cfg.Topic, partition)
	return result, nil
}

func (c *Consumer) fetchLoop(ctx context.Context, flag *interruptor.Interruptor, topic kafka.Topic, partition int32,
	itemCount int) map[int64][]byte {
	result := make(map[int64][]byte)
	remaining := itemCount
	for {
		if ctx.Err() != nil {
			flag.Interrupt()
		}
		if itemCount > 0 && flag.Running() {
			remaining--
			if remaining < 0 {
				flag.Interrupt()
			}
		}
		if !flag.Running() {
			if !c.State().terminal() {
				c.setState(ConsumerStopped)
			}
			return result
		}
		c.setState(ConsumerFetching)
		atomic.AddInt64(&c.stats.Iterations, 1)
		start := time.Now()
		msg, err := topic.Consume(partition, c.cfg.FetchWait)
		fetchDurationObserver.Observe(time.Since(start).Seconds())
		if err != nil {
			c.fetchFailed(partition, -1, err)
			if errors.Is(err, kafka.ErrClientClosed) || errors.Is(err, kafka.ErrNotConsuming) {
				// the fetch session is gone, no later iteration can succeed
				flag.Interrupt()
				c.setState(ConsumerError)
			}
			continue
		}
		if msg == nil {
			atomic.AddInt64(&c.stats.Timeouts, 1)
			continue
		}
		c.setState(ConsumerDelivering)
		switch {
		case msg.IsEOF():
			atomic.AddInt64(&c.stats.EOFs, 1)
			partitionEOFCounter.Inc()
			c.logger.Infof("reached end of %s [%d] at offset %d", c.cfg.Topic, partition, msg.PartInfo.Offset)
			if c.cfg.StopOnEOF() {
				flag.Interrupt()
				c.setState(ConsumerEndOfStream)
			}
		case msg.Err != nil:
			c.fetchFailed(partition, msg.PartInfo.Offset, msg.Err)
		default:
			result[msg.PartInfo.Offset] = common.CopyByteSlice(msg.Value)
			atomic.AddInt64(&c.stats.Consumed, 1)
			consumedCounter.Inc()
		}
	}
}

func (c *Consumer) fetchFailed(partition int32, offset int64, err error) {
	ferr := errors.NewFetchFailedError(c.cfg.Topic, partition, offset, err)
	c.logger.Errorf(nil, "%s", ferr.Error())
	atomic.AddInt64(&c.stats.FetchErrors, 1)
	fetchErrorsCounter.Inc()
}
