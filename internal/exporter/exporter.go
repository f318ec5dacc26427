package exporter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/veesix-networks/cmopt122/internal/audit"
	"github.com/veesix-networks/cmopt122/pkg/cache"
	"github.com/veesix-networks/cmopt122/pkg/component"
	"github.com/veesix-networks/cmopt122/pkg/events"
	"github.com/veesix-networks/cmopt122/pkg/logger"
	"github.com/veesix-networks/cmopt122/pkg/stats"
)

const namespace = "cmopt122"

func init() {
	component.Register(logger.Exporter, New)
}

type Component struct {
	*component.Base
	addr     string
	bus      events.Bus
	cache    cache.Cache
	registry *prometheus.Registry
	rewrites *prometheus.CounterVec
	sub      events.Subscription

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

func New(deps component.Dependencies) (component.Component, error) {
	if deps.Config == nil || !deps.Config.Metrics.Enabled {
		return nil, nil
	}
	if deps.Stats == nil {
		return nil, errors.New("exporter needs packet counters")
	}

	c := &Component{
		Base:     component.NewBase(logger.Exporter),
		addr:     deps.Config.Metrics.ListenAddress,
		bus:      deps.EventBus,
		cache:    deps.Cache,
		registry: prometheus.NewRegistry(),
		rewrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rewrites_total",
			Help:      "Primary DHCP server sub-options rewritten, by substituted server.",
		}, []string{"server"}),
	}

	c.registry.MustRegister(c.rewrites, newPacketCollector(deps.Stats, c.Logger))

	return c, nil
}

// Addr reports the bound address once the listener is up.
func (c *Component) Addr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listener != nil {
		return c.listener.Addr().String()
	}
	return c.addr
}

func (c *Component) Start(ctx context.Context) error {
	c.StartContext(ctx)

	if c.bus != nil {
		c.sub = c.bus.Subscribe(events.TopicRewrite, c.handleRewrite)
	}

	ln, err := net.Listen("tcp", c.addr)
	if err != nil {
		if c.sub != nil {
			c.sub.Unsubscribe()
			c.sub = nil
		}
		c.StopContext()
		return fmt.Errorf("listen on %s: %w", c.addr, err)
	}

	server := &http.Server{
		Handler:           c.mux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	c.mu.Lock()
	c.listener = ln
	c.server = server
	c.mu.Unlock()

	c.Logger.Info("Metrics HTTP server listening", "addr", ln.Addr().String())

	c.Go(func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.Logger.Error("Metrics HTTP server error", "error", err)
		}
	})

	return nil
}

func (c *Component) Stop(ctx context.Context) error {
	c.Logger.Info("Stopping metrics exporter")

	if c.sub != nil {
		c.sub.Unsubscribe()
		c.sub = nil
	}

	c.mu.Lock()
	server := c.server
	c.mu.Unlock()

	var err error
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		err = server.Shutdown(shutdownCtx)
	}

	c.StopContext()
	return err
}

func (c *Component) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/rewrites", c.serveRewrites)
	return mux
}

func (c *Component) handleRewrite(e events.Event) {
	ev, ok := e.Data.(events.RewriteEvent)
	if !ok {
		return
	}
	c.rewrites.WithLabelValues(ev.Server).Inc()
}

func (c *Component) serveRewrites(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	records := []audit.Record{}
	if c.cache != nil {
		var err error
		records, err = audit.List(r.Context(), c.cache)
		if err != nil {
			c.Logger.Error("Failed to list rewrite records", "error", err)
			http.Error(w, "failed to list rewrites", http.StatusInternalServerError)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(records); err != nil {
		c.Logger.Debug("Failed to write rewrites response", "error", err)
	}
}

// packetCollector turns the shared counters into const metrics at scrape time.
type packetCollector struct {
	stats       *stats.Counters
	logger      *slog.Logger
	packets     *prometheus.Desc
	queueErrors *prometheus.Desc
}

func newPacketCollector(s *stats.Counters, l *slog.Logger) *packetCollector {
	return &packetCollector{
		stats:  s,
		logger: l,
		packets: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "packets_total"),
			"Datagrams handled, by outcome and reason.",
			[]string{"outcome", "reason"}, nil,
		),
		queueErrors: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "queue_errors_total"),
			"Errors reported by the packet queue.",
			nil, nil,
		),
	}
}

func (pc *packetCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- pc.packets
	ch <- pc.queueErrors
}

func (pc *packetCollector) Collect(ch chan<- prometheus.Metric) {
	snap := pc.stats.Snapshot()
	pc.logger.Debug("Collecting packet counters", "series", len(snap.Packets))

	for _, p := range snap.Packets {
		ch <- prometheus.MustNewConstMetric(pc.packets, prometheus.CounterValue, float64(p.Count), p.Outcome, p.Reason)
	}
	ch <- prometheus.MustNewConstMetric(pc.queueErrors, prometheus.CounterValue, float64(snap.QueueErrors))
}
