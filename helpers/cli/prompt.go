// Package cli runs line oriented tools: interactive prompt on terminal, plain stdin otherwise.
package cli

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/c-bata/go-prompt"
	"github.com/juju/errors"
	"github.com/mattn/go-isatty"
)

type Executor func(line string)

type Completer func(d prompt.Document) []prompt.Suggest

func IsTerminal(f *os.File) bool { return isatty.IsTerminal(f.Fd()) }

// MainLoop blocks until user exits prompt or stdin ends.
func MainLoop(tag string, exec Executor, complete Completer) error {
	if complete == nil {
		complete = func(prompt.Document) []prompt.Suggest { return nil }
	}
	if IsTerminal(os.Stdin) {
		prompt.New(prompt.Executor(exec), prompt.Completer(complete),
			prompt.OptionPrefix(tag+"> "),
			prompt.OptionTitle(tag),
		).Run()
		return nil
	}
	return ReadLines(os.Stdin, exec)
}

// ReadLines calls exec for every non-empty trimmed line of r.
func ReadLines(r io.Reader, exec Executor) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		exec(line)
	}
	return errors.Annotate(scanner.Err(), "cli read")
}
