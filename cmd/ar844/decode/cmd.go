// Package decode is interactive frame inspector: paste meter response bytes as hex, see the reading.
package decode

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/c-bata/go-prompt"
	"github.com/juju/errors"
	"github.com/temoto/ar844/cmd/ar844/subcmd"
	"github.com/temoto/ar844/hardware/ar844"
	"github.com/temoto/ar844/helpers"
	"github.com/temoto/ar844/helpers/cli"
	"github.com/temoto/ar844/internal/aggregate"
	"github.com/temoto/ar844/internal/state"
)

const usage = `syntax: one command per line
- XX..     decode 8 byte response frame, hex, spaces and colons ignored
- poll     show poll request frame
- help     this text
`

var Mod = subcmd.Mod{Name: "decode", Main: Main}

func Main(ctx context.Context, config *state.Config) error {
	g := state.GetGlobal(ctx)
	return cli.MainLoop("decode", func(line string) {
		s, err := decodeLine(line)
		if err != nil {
			g.Log.Error(err)
			return
		}
		fmt.Fprintln(os.Stdout, s)
	}, completer)
}

func completer(d prompt.Document) []prompt.Suggest {
	suggests := []prompt.Suggest{
		{Text: "poll", Description: "poll request frame"},
		{Text: "help", Description: "syntax"},
	}
	return prompt.FilterHasPrefix(suggests, d.GetWordBeforeCursor(), true)
}

func decodeLine(line string) (string, error) {
	line = strings.TrimSpace(line)
	switch strings.ToLower(line) {
	case "":
		return "", nil
	case "help", "?":
		return usage, nil
	case "poll":
		return fmt.Sprintf("%x", ar844.PollFrame[:]), nil
	}

	b, err := helpers.ParseHex(line)
	if err != nil {
		return "", errors.Annotate(err, "decode")
	}
	r, err := ar844.Decode(b)
	if err != nil {
		return "", errors.Annotatef(err, "decode %x", b)
	}
	return fmt.Sprintf("%s level=%s weight=%s", r.String(), aggregate.Tenths(r.LevelTenths).String(), aggregate.WeightLabel(r.Weighting)), nil
}
