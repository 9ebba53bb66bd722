package commands

import (
	"fmt"
	"io"
	"sort"
)

type ConsumeCommand struct {
	Offset string `arg:"" optional:"" help:"Where to start: end, beginning, stored or an offset. Defaults to the configured default offset"`
	Count  int    `help:"Number of fetches to make, 0 reads until the end of the partition or until interrupted" short:"n" default:"0"`
}

func (c *ConsumeCommand) Run(env *Env) error {
	records, err := env.Session.Consume(env.Ctx, c.Offset, c.Count)
	if err != nil {
		return err
	}
	return printRecords(env.Out, records)
}

// printRecords writes one "offset<TAB>payload" line per record, in offset order.
func printRecords(out io.Writer, records map[int64][]byte) error {
	offsets := make([]int64, 0, len(records))
	for off := range records {
		offsets = append(offsets, off)
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
	for _, off := range offsets {
		if _, err := fmt.Fprintf(out, "%d\t%s\n", off, records[off]); err != nil {
			return err
		}
	}
	return nil
}
