package observability

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the Prometheus metrics of every satlink tier. Each
// process registers one Collector and hands it to its components through
// the narrow recorder interfaces they declare. All recorder methods are
// safe on a nil receiver.
type Collector struct {
	gatherer prometheus.Gatherer

	HTTPRequests  *prometheus.CounterVec
	HTTPDurations *prometheus.HistogramVec

	LinkUp        prometheus.Gauge
	LinkCRCErrors prometheus.Counter
	LinkPolls     *prometheus.CounterVec

	ForwarderQueueDepth prometheus.Gauge
	ForwarderEvents     *prometheus.CounterVec

	Commands          *prometheus.CounterVec
	Dispatches        *prometheus.CounterVec
	OverrideRemaining prometheus.Gauge

	MonitorLogs        *prometheus.CounterVec
	MonitorAlerts      prometheus.Counter
	HighConnectionRate prometheus.Counter
}

// NewCollector registers satlink metrics against the provided registerer,
// defaulting to the global Prometheus registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	c := &Collector{gatherer: gatherer}

	var err error
	if c.HTTPRequests, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "satlink_http_requests_total",
		Help: "Total number of handled HTTP requests, labeled by service, route pattern, and status code.",
	}, []string{"service", "route", "code"}), "satlink_http_requests_total"); err != nil {
		return nil, err
	}
	if c.HTTPDurations, err = registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "satlink_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"service", "route"}), "satlink_http_request_duration_seconds"); err != nil {
		return nil, err
	}

	if c.LinkUp, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "satlink_link_up",
		Help: "1 when the ground telemetry link is CONNECTED, 0 otherwise.",
	}), "satlink_link_up"); err != nil {
		return nil, err
	}
	if c.LinkCRCErrors, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "satlink_link_crc_errors_total",
		Help: "Telemetry packets received with a checksum mismatch.",
	}), "satlink_link_crc_errors_total"); err != nil {
		return nil, err
	}
	if c.LinkPolls, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "satlink_link_polls_total",
		Help: "Telemetry poll cycles, labeled by outcome.",
	}, []string{"outcome"}), "satlink_link_polls_total"); err != nil {
		return nil, err
	}

	if c.ForwarderQueueDepth, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "satlink_forwarder_queue_depth",
		Help: "Events waiting in the forwarder queue.",
	}), "satlink_forwarder_queue_depth"); err != nil {
		return nil, err
	}
	if c.ForwarderEvents, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "satlink_forwarder_events_total",
		Help: "Forwarder delivery outcomes: delivered, retried, dropped_overflow, dropped_exhausted.",
	}, []string{"outcome"}), "satlink_forwarder_events_total"); err != nil {
		return nil, err
	}

	if c.Commands, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "satlink_commands_total",
		Help: "Command packets processed by the executor, labeled by opcode and result code.",
	}, []string{"opcode", "result"}), "satlink_commands_total"); err != nil {
		return nil, err
	}
	if c.Dispatches, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "satlink_dispatch_total",
		Help: "Command dispatch attempts at the ground authority, labeled by opcode and outcome.",
	}, []string{"opcode", "outcome"}), "satlink_dispatch_total"); err != nil {
		return nil, err
	}
	if c.OverrideRemaining, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "satlink_override_remaining_uses",
		Help: "Remaining dispatches covered by an active authorization override.",
	}), "satlink_override_remaining_uses"); err != nil {
		return nil, err
	}

	if c.MonitorLogs, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "satlink_monitor_logs_total",
		Help: "Log entries ingested by the monitoring tier, labeled by level.",
	}, []string{"level"}), "satlink_monitor_logs_total"); err != nil {
		return nil, err
	}
	if c.MonitorAlerts, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "satlink_monitor_alerts_total",
		Help: "Entries promoted into the alert buffer.",
	}), "satlink_monitor_alerts_total"); err != nil {
		return nil, err
	}
	if c.HighConnectionRate, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "satlink_monitor_high_connection_rate_total",
		Help: "HighConnectionRate alerts raised by the connection-rate detector.",
	}), "satlink_monitor_high_connection_rate_total"); err != nil {
		return nil, err
	}

	return c, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Gatherer returns the gatherer backing Handler.
func (c *Collector) Gatherer() prometheus.Gatherer {
	if c == nil || c.gatherer == nil {
		return prometheus.DefaultGatherer
	}
	return c.gatherer
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Middleware records request counts and durations. The route label is the
// matched ServeMux pattern so path parameters do not explode cardinality.
func (c *Collector) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		if c == nil {
			return
		}
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		if c.HTTPRequests != nil {
			c.HTTPRequests.WithLabelValues(service, route, strconv.Itoa(rec.status)).Inc()
		}
		if c.HTTPDurations != nil {
			c.HTTPDurations.WithLabelValues(service, route).Observe(time.Since(start).Seconds())
		}
	})
}

// ObserveLinkPoll records one telemetry poll cycle and the resulting link state.
func (c *Collector) ObserveLinkPoll(outcome string, up bool) {
	if c == nil {
		return
	}
	if c.LinkPolls != nil {
		c.LinkPolls.WithLabelValues(outcome).Inc()
	}
	if c.LinkUp != nil {
		if up {
			c.LinkUp.Set(1)
		} else {
			c.LinkUp.Set(0)
		}
	}
}

// IncCRCErrors counts a telemetry checksum mismatch.
func (c *Collector) IncCRCErrors() {
	if c == nil || c.LinkCRCErrors == nil {
		return
	}
	c.LinkCRCErrors.Inc()
}

// SetQueueDepth publishes the forwarder queue length.
func (c *Collector) SetQueueDepth(n int) {
	if c == nil || c.ForwarderQueueDepth == nil {
		return
	}
	c.ForwarderQueueDepth.Set(float64(n))
}

// ObserveForwarded counts one forwarder outcome.
func (c *Collector) ObserveForwarded(outcome string) {
	if c == nil || c.ForwarderEvents == nil {
		return
	}
	c.ForwarderEvents.WithLabelValues(outcome).Inc()
}

// ObserveCommand counts one executor result.
func (c *Collector) ObserveCommand(opcode, result string) {
	if c == nil || c.Commands == nil {
		return
	}
	c.Commands.WithLabelValues(opcode, result).Inc()
}

// ObserveDispatch counts one authority dispatch outcome.
func (c *Collector) ObserveDispatch(opcode, outcome string) {
	if c == nil || c.Dispatches == nil {
		return
	}
	c.Dispatches.WithLabelValues(opcode, outcome).Inc()
}

// SetOverrideRemaining publishes the override budget.
func (c *Collector) SetOverrideRemaining(n int) {
	if c == nil || c.OverrideRemaining == nil {
		return
	}
	c.OverrideRemaining.Set(float64(n))
}

// ObserveLog counts one ingested monitor entry.
func (c *Collector) ObserveLog(level string) {
	if c == nil || c.MonitorLogs == nil {
		return
	}
	c.MonitorLogs.WithLabelValues(level).Inc()
}

// IncAlerts counts one alert-buffer promotion.
func (c *Collector) IncAlerts() {
	if c == nil || c.MonitorAlerts == nil {
		return
	}
	c.MonitorAlerts.Inc()
}

// IncHighConnectionRate counts one connection-rate alert.
func (c *Collector) IncHighConnectionRate() {
	if c == nil || c.HighConnectionRate == nil {
		return
	}
	c.HighConnectionRate.Inc()
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
