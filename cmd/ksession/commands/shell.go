package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/squareup/ksession/errors"
)

const shellHelp = `connect <brokers>            set the comma separated broker list
topic <name>                 set the topic
partition <n>                set the partition, -1 lets the client choose
produce <payload>            enqueue one message, the rest of the line is the payload
consume [offset] [count]     fetch records, offset is end, beginning, stored or a number
stats                        show producer and consumer counters
shutdown | exit | quit       drain the producer and leave
help                         show this text`

type ShellCommand struct {
	VI bool `help:"Enable VI mode."`
}

func (c *ShellCommand) Run(env *Env) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return errors.WithStack(err)
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:                 "ksession> ",
		HistoryFile:            filepath.Join(home, ".ksession.history"),
		DisableAutoSaveHistory: true,
		VimMode:                c.VI,
	})
	if err != nil {
		return errors.WithStack(err)
	}
	defer func() {
		_ = rl.Close()
	}()
	for env.Ctx.Err() == nil {
		line, err := rl.Readline()
		if err == io.EOF || err == readline.ErrInterrupt {
			return nil
		}
		if err != nil {
			return errors.WithStack(err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		_ = rl.SaveHistory(line)
		quit, err := Execute(env, line)
		if err != nil {
			_, _ = fmt.Fprintf(env.Out, "error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
	return nil
}

// Execute runs one shell line against the session. It returns true when the shell should exit.
func Execute(env *Env, line string) (bool, error) {
	verb, rest := splitVerb(line)
	args := strings.Fields(rest)
	switch verb {
	case "connect":
		return false, env.Session.Connect(rest)
	case "topic":
		if len(args) != 1 {
			return false, errors.New("usage: topic <name>")
		}
		return false, env.Session.SetTopic(args[0])
	case "partition":
		if len(args) != 1 {
			return false, errors.New("usage: partition <n>")
		}
		n, err := strconv.ParseInt(args[0], 10, 32)
		if err != nil {
			return false, errors.Errorf("invalid partition %q", args[0])
		}
		return false, env.Session.SetPartition(int32(n))
	case "produce":
		if rest == "" {
			return false, errors.New("usage: produce <payload>")
		}
		return false, env.Session.Produce([]byte(rest))
	case "consume":
		if len(args) > 2 {
			return false, errors.New("usage: consume [offset] [count]")
		}
		cmd := &ConsumeCommand{}
		if len(args) > 0 {
			cmd.Offset = args[0]
		}
		if len(args) > 1 {
			count, err := strconv.Atoi(args[1])
			if err != nil {
				return false, errors.Errorf("invalid count %q", args[1])
			}
			cmd.Count = count
		}
		return false, cmd.Run(env)
	case "stats":
		ps := env.Session.Producer().Stats()
		cs := env.Session.Consumer().Stats()
		_, err := fmt.Fprintf(env.Out,
			"producer: %d enqueued, %d rejected, %d delivered, %d failed, %d in flight\n"+
				"consumer: %s, %d fetches, %d consumed, %d timeouts, %d errors\n",
			ps.Enqueued, ps.Rejected, ps.Delivered, ps.Failed, env.Session.Producer().OutQueueLen(),
			env.Session.Consumer().State(), cs.Iterations, cs.Consumed, cs.Timeouts, cs.FetchErrors)
		return false, err
	case "shutdown", "exit", "quit":
		return true, env.Session.Shutdown(env.Ctx)
	case "help":
		_, err := fmt.Fprintln(env.Out, shellHelp)
		return false, err
	default:
		return false, errors.Errorf("unknown command %q, try help", verb)
	}
}

func splitVerb(line string) (string, string) {
	line = strings.TrimSpace(line)
	idx := strings.IndexAny(line, " \t")
	if idx == -1 {
		return strings.ToLower(line), ""
	}
	return strings.ToLower(line[:idx]), strings.TrimSpace(line[idx+1:])
}
