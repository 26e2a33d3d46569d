package acquire

import (
	"context"

	"github.com/juju/errors"
	"github.com/temoto/ar844/log2"
	"github.com/temoto/ar844/tele"
)

const deliverAttempts = 2

type DeliverResult struct {
	Attempts    int
	Reconnected bool
	Err         error // nil when delivered
}

// Deliver is best effort, at most two publish attempts.
// Reconnect is requested only after "not connected" result.
// Failure is logged, snapshot is dropped, acquisition continues.
func Deliver(ctx context.Context, log *log2.Log, pub tele.Publisher, topic string, payload []byte) DeliverResult {
	var r DeliverResult
	for r.Attempts < deliverAttempts {
		if r.Attempts > 0 && tele.IsNotConnected(r.Err) {
			r.Reconnected = true
			if err := pub.Reconnect(ctx); err != nil {
				log.Debugf("acquire: reconnect err=%v", err)
			}
		}
		r.Attempts++
		r.Err = pub.Publish(ctx, topic, payload)
		if r.Err == nil {
			return r
		}
		log.Debugf("acquire: publish attempt=%d err=%v", r.Attempts, r.Err)
	}
	r.Err = errors.Annotatef(r.Err, "publish topic=%s dropped after %d attempts", topic, r.Attempts)
	log.Error(r.Err)
	return r
}
