package state

import (
	"context"
	"os"
	"testing"

	"github.com/temoto/ar844/log2"
)

// NewTestContext reads inline hcl config, tele and device default to noop and mock.
func NewTestContext(t testing.TB, confString string) (context.Context, *Global) {
	fs := NewMockFullReader(map[string]string{
		"test-inline": `
device { driver = "mock" }
tele { driver = "noop" host = "test-host" }
include "test-override" { optional = true }
`,
		"test-override": confString,
	})

	var log *log2.Log
	if os.Getenv("ar844_test_log_stderr") == "1" {
		log = log2.NewStderr(log2.LDebug) // useful with panics
	} else {
		log = log2.NewTest(t, log2.LDebug)
	}
	log.SetFlags(log2.LTestFlags)
	ctx, g := NewContext(log)
	g.MustInit(ctx, MustReadConfig(log, fs, "test-inline"))
	return ctx, g
}
