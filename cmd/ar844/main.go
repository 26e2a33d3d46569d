package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/juju/errors"
	"github.com/temoto/ar844/cmd/ar844/decode"
	"github.com/temoto/ar844/cmd/ar844/run"
	"github.com/temoto/ar844/cmd/ar844/subcmd"
	"github.com/temoto/ar844/helpers/cli"
	"github.com/temoto/ar844/internal/state"
	"github.com/temoto/ar844/log2"
)

var log = log2.NewStderr(log2.LDebug)
var modules = []subcmd.Mod{
	run.Mod,
	decode.Mod,
}

func main() {
	cmdline := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	flagConfig := cmdline.String("config", "ar844.hcl", "")
	cmdline.Usage = func() {
		fmt.Fprintf(cmdline.Output(), "Usage: %s [option] [command]\nOptions:\n", os.Args[0])
		cmdline.PrintDefaults()
		fmt.Fprintf(cmdline.Output(), "Commands: %s (default run)\n", subcmd.Names(modules))
	}
	_ = cmdline.Parse(os.Args[1:])

	if subcmd.SdNotify(log, "start") {
		// under systemd assume journal logging, remove timestamp
		log.SetFlags(log2.LServiceFlags)
	} else if cli.IsTerminal(os.Stderr) {
		log.SetFlags(log2.LInteractiveFlags)
	}

	command := cmdline.Arg(0)
	if command == "" {
		command = run.Mod.Name
	}
	mod, err := subcmd.Parse(command, modules)
	if err != nil {
		log.Fatal(err)
	}

	ctx, g := state.NewContext(log)
	config := state.MustReadConfig(log, state.NewOsFullReader(), *flagConfig)
	log.Debugf("config=%+v", config)
	if err := mod.Main(ctx, config); err != nil {
		g.Log.Fatal(errors.ErrorStack(err))
	}
}
