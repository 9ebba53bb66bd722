package session

import (
	"context"
	"time"

	"github.com/squareup/ksession/common"
	"github.com/squareup/ksession/interruptor"
	"github.com/squareup/ksession/kafka"
	"github.com/squareup/ksession/log"
)

// shutdownSequencer tears a session down in order: stop the fetch session, release the topic, drain outstanding
// deliveries and finally close the connection. It runs at most once.
type shutdownSequencer struct {
	logger        *log.Logger
	flag          *interruptor.Interruptor
	drainInterval time.Duration
	flushTimeout  time.Duration
	done          common.AtomicBool
}

func newShutdownSequencer(logger *log.Logger, flag *interruptor.Interruptor, drainInterval time.Duration,
	flushTimeout time.Duration) *shutdownSequencer {
	return &shutdownSequencer{
		logger:        logger,
		flag:          flag,
		drainInterval: drainInterval,
		flushTimeout:  flushTimeout,
	}
}

// run returns the number of messages abandoned because the drain was cut short. It returns false if the sequence had
// already run.
func (s *shutdownSequencer) run(ctx context.Context, conn *Connection, topic kafka.Topic, partition int32,
	fetching bool) (int, bool) {
	if !s.done.CompareAndSet(false, true) {
		return 0, false
	}
	if topic != nil {
		if fetching {
			if err := topic.ConsumeStop(partition); err != nil {
				s.logger.Warnf(err, "failed to stop consuming %s [%d]", topic.Name(), partition)
			}
		}
		if err := topic.Close(); err != nil {
			s.logger.Warnf(err, "failed to release topic %s", topic.Name())
		}
	}
	if conn == nil {
		return 0, true
	}
	abandoned := s.drain(ctx, conn)
	conn.Close()
	return abandoned, true
}

func (s *shutdownSequencer) drain(ctx context.Context, conn *Connection) int {
	var deadline time.Time
	if s.flushTimeout > 0 {
		deadline = time.Now().Add(s.flushTimeout)
	}
	for s.flag.Running() && conn.OutQueueLen() > 0 && ctx.Err() == nil {
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			break
		}
		conn.Poll(s.drainInterval)
	}
	abandoned := conn.OutQueueLen()
	if abandoned > 0 {
		s.logger.Warnf(nil, "abandoning %d in-flight messages", abandoned)
		abandonedCounter.Add(float64(abandoned))
	}
	return abandoned
}
