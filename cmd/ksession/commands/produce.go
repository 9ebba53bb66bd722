package commands

import (
	"bufio"
	"io"

	"github.com/squareup/ksession/errors"
)

type ProduceCommand struct {
	Payloads  []string `arg:"" optional:"" help:"Payloads to produce. When none are given they are read from stdin"`
	Delimiter string   `help:"Separates payloads read from stdin" default:"\\n"`
}

func (c *ProduceCommand) Run(env *Env) error {
	for _, payload := range c.Payloads {
		if err := env.Session.Produce([]byte(payload)); err != nil {
			return err
		}
	}
	if len(c.Payloads) > 0 {
		return nil
	}
	delim, err := parseDelimiter(c.Delimiter)
	if err != nil {
		return errors.NewInvalidConfigurationError(err.Error())
	}
	reader := bufio.NewReader(env.In)
	for env.Ctx.Err() == nil {
		chunk, err := reader.ReadBytes(delim)
		if len(chunk) > 0 && chunk[len(chunk)-1] == delim {
			chunk = chunk[:len(chunk)-1]
		}
		if len(chunk) > 0 {
			if perr := env.Session.Produce(chunk); perr != nil {
				return perr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}
