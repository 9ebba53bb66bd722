package commands

import (
	"context"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/squareup/ksession/conf"
	conftls "github.com/squareup/ksession/conf/tls"
	"github.com/squareup/ksession/errors"
	"github.com/squareup/ksession/session"
)

// Env is bound into every command when it runs.
type Env struct {
	Ctx     context.Context
	Session *session.Session
	In      io.Reader
	Out     io.Writer
}

// SessionFlags are the session settings shared by every command.
type SessionFlags struct {
	Brokers           string              `help:"Comma separated list of brokers, host[:port]" default:"localhost:9092"`
	Topic             string              `help:"Topic to produce to or consume from" short:"t"`
	Partition         int32               `help:"Partition to use. -1 lets the client choose when producing and reads partition 0" default:"-1"`
	ClientType        string              `help:"Broker client to use" enum:"default,fake" default:"default"`
	Property          map[string]string   `help:"Property passed through to the broker client, using librdkafka names" short:"X"`
	MessageMaxBytes   int                 `help:"Largest message the producer will enqueue" default:"1048576"`
	EOF               string              `help:"What a consumer does at the end of the partition" name:"eof" enum:"stop,continue" default:"stop"`
	DefaultOffset     string              `help:"Offset used when none is given: end, beginning, stored or a number" default:"beginning"`
	FetchWait         time.Duration       `help:"How long a single fetch waits for a record" default:"1s"`
	DrainPollInterval time.Duration       `help:"Poll interval while draining deliveries at shutdown" default:"50ms"`
	FlushTimeout      time.Duration       `help:"Longest time to wait for outstanding deliveries at shutdown, 0 waits until interrupted" default:"0s"`
	DestroyTimeout    time.Duration       `help:"Longest time to wait for the client to tear down" default:"1s"`
	TLS               conftls.CertsConfig `help:"TLS settings for the broker connection" embed:"" prefix:"tls-"`
}

// Config builds the session configuration. It is validated when the session first connects.
func (f *SessionFlags) Config() (*conf.Config, error) {
	clientType, err := conf.ParseBrokerClientType(f.ClientType)
	if err != nil {
		return nil, err
	}
	cfg := conf.NewDefaultConfig()
	cfg.Brokers = conf.ParseBrokers(f.Brokers)
	cfg.Topic = f.Topic
	cfg.Partition = f.Partition
	cfg.ClientType = clientType
	for k, v := range f.Property {
		cfg.Properties[k] = v
	}
	cfg.MessageMaxBytes = f.MessageMaxBytes
	cfg.EOFPolicy = conf.EOFPolicy(f.EOF)
	cfg.DefaultOffset = f.DefaultOffset
	cfg.FetchWait = f.FetchWait
	cfg.DrainPollInterval = f.DrainPollInterval
	cfg.FlushTimeout = f.FlushTimeout
	cfg.DestroyTimeout = f.DestroyTimeout
	cfg.TLS = f.TLS
	return cfg, nil
}

// parseDelimiter accepts a single character, written literally or as a Go escape such as \n or \t.
func parseDelimiter(s string) (byte, error) {
	if strings.HasPrefix(s, `\`) {
		unquoted, err := strconv.Unquote(`"` + s + `"`)
		if err != nil {
			return 0, errors.Errorf("invalid delimiter %q", s)
		}
		s = unquoted
	}
	if len(s) != 1 {
		return 0, errors.Errorf("delimiter must be a single character, got %q", s)
	}
	return s[0], nil
}
