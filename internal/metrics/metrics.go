// Package metrics exports acquisition counters to prometheus and serves last snapshot over HTTP.
package metrics

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/temoto/ar844/internal/acquire"
	"github.com/temoto/ar844/log2"
)

const metricPrefix = "ar844_"

type StatFunc func() acquire.StatSnapshot

// Collector reads scheduler statistics on every scrape.
type Collector struct {
	stat StatFunc

	polls           *prometheus.Desc
	frames          *prometheus.Desc
	rejected        *prometheus.Desc
	transferErrors  *prometheus.Desc
	snapshots       *prometheus.Desc
	publishAttempts *prometheus.Desc
	publishFailures *prometheus.Desc
	publishDropped  *prometheus.Desc
	reconnects      *prometheus.Desc
	level           *prometheus.Desc
	window          *prometheus.Desc
}

var _ prometheus.Collector = &Collector{}

func NewCollector(stat StatFunc) *Collector {
	counter := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(metricPrefix+name, help, nil, nil)
	}
	return &Collector{
		stat:            stat,
		polls:           counter("polls_total", "Poll requests submitted to meter"),
		frames:          counter("frames_total", "Valid frames decoded"),
		rejected:        counter("frames_rejected_total", "Frames discarded for wrong length"),
		transferErrors:  counter("transfer_errors_total", "Transfers completed with error"),
		snapshots:       counter("snapshots_total", "Window snapshots emitted"),
		publishAttempts: counter("publish_attempts_total", "Publish calls"),
		publishFailures: counter("publish_failures_total", "Failed publish calls"),
		publishDropped:  counter("publish_dropped_total", "Snapshots dropped after retry"),
		reconnects:      counter("reconnects_total", "Broker reconnect requests"),
		level:           counter("level_db", "Last decoded sound level"),
		window:          prometheus.NewDesc(metricPrefix+"window_db", "Last snapshot statistics", []string{"stat"}, nil),
	}
}

func (self *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		self.polls, self.frames, self.rejected, self.transferErrors, self.snapshots,
		self.publishAttempts, self.publishFailures, self.publishDropped, self.reconnects,
		self.level, self.window,
	} {
		ch <- d
	}
}

func (self *Collector) Collect(ch chan<- prometheus.Metric) {
	s := self.stat()
	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	counter(self.polls, s.Polls)
	counter(self.frames, s.Frames)
	counter(self.rejected, s.Rejected)
	counter(self.transferErrors, s.TransferErrors)
	counter(self.snapshots, s.Snapshots)
	counter(self.publishAttempts, s.PublishAttempts)
	counter(self.publishFailures, s.PublishFailures)
	counter(self.publishDropped, s.PublishDropped)
	counter(self.reconnects, s.Reconnects)
	if !s.LastReadingAt.IsZero() {
		ch <- prometheus.MustNewConstMetric(self.level, prometheus.GaugeValue, float64(s.LastReading.Decibels()))
	}
	if s.HasLastSnapshot {
		for _, x := range []struct {
			name  string
			value uint16
		}{{"avg", s.LastSnapshot.Avg}, {"min", s.LastSnapshot.Min}, {"max", s.LastSnapshot.Max}} {
			ch <- prometheus.MustNewConstMetric(self.window, prometheus.GaugeValue, float64(x.value)/10, x.name)
		}
	}
}

// NewHandler routes /metrics and /snapshot.
func NewHandler(log *log2.Log, stat StatFunc) (http.Handler, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(NewCollector(stat)); err != nil {
		return nil, errors.Annotate(err, "metrics register")
	}
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, errors.Annotate(err, "metrics register")
	}

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/snapshot", func(w http.ResponseWriter, req *http.Request) {
		s := stat()
		if !s.HasLastSnapshot {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		b, err := s.LastSnapshot.Payload()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(b)
	}).Methods(http.MethodGet)

	logw := log2.FuncWriter{Func: log.Debugf}
	h := handlers.LoggingHandler(logw, r)
	h = handlers.RecoveryHandler(handlers.RecoveryLogger(log), handlers.PrintRecoveryStack(true))(h)
	return h, nil
}

// Serve blocks until ctx is done. Empty listen disables the server.
func Serve(ctx context.Context, log *log2.Log, listen string, stat StatFunc) error {
	if listen == "" {
		return nil
	}
	h, err := NewHandler(log, stat)
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return errors.Annotatef(err, "metrics listen=%s", listen)
	}
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutctx)
	}()
	log.Infof("metrics listen=%s", ln.Addr())
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return errors.Annotate(err, "metrics serve")
	}
	return nil
}
