// Package run is the acquisition daemon: poll meter, aggregate, publish.
package run

import (
	"context"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/temoto/ar844/cmd/ar844/subcmd"
	"github.com/temoto/ar844/internal/metrics"
	"github.com/temoto/ar844/internal/state"
)

var Mod = subcmd.Mod{Name: "run", Main: Main}

func Main(ctx context.Context, config *state.Config) error {
	g := state.GetGlobal(ctx)
	if err := g.Init(ctx, config); err != nil {
		return errors.Annotate(err, "init")
	}
	ctx, cancel := g.RunContext(ctx)
	defer cancel()

	dev, err := g.OpenDevice()
	if err != nil {
		return errors.Annotate(err, "run")
	}
	defer dev.Close()

	// broker may be down at start, publisher connects in background
	pub, err := g.NewPublisher()
	if err != nil {
		return errors.Annotate(err, "run")
	}
	defer func() {
		if err := pub.Close(); err != nil {
			g.Log.Errorf("tele close err=%v", err)
		}
	}()

	sched := g.NewScheduler(dev, pub)
	if err := sched.Start(ctx); err != nil {
		return errors.Annotate(err, "run")
	}

	if listen := g.Config.Metrics.Listen; listen != "" {
		g.Alive.Add(1)
		go func() {
			defer g.Alive.Done()
			if err := metrics.Serve(ctx, g.Log.Component("metrics"), listen, sched.Stat); err != nil {
				g.Error(err)
			}
		}()
	}

	subcmd.SdNotify(g.Log, daemon.SdNotifyReady)
	g.Log.Infof("running topic=%s period=%v", g.Topic, g.Config.Period())
	err = sched.Run(ctx)
	subcmd.SdNotify(g.Log, daemon.SdNotifyStopping)

	stat := sched.Stat()
	g.Log.Infof("stopped polls=%d frames=%d rejected=%d snapshots=%d dropped=%d",
		stat.Polls, stat.Frames, stat.Rejected, stat.Snapshots, stat.PublishDropped)
	g.Stop()
	return errors.Annotate(err, "run")
}
