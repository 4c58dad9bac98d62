package ground

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/satlink/internal/events"
	"github.com/signalsfoundry/satlink/internal/logging"
	"github.com/signalsfoundry/satlink/internal/observability"
	"github.com/signalsfoundry/satlink/internal/packet"
	"github.com/signalsfoundry/satlink/model"
	"github.com/signalsfoundry/satlink/timectrl"
)

// DefaultPollInterval is the fixed delay between telemetry polls.
const DefaultPollInterval = 10 * time.Second

// maxTelemetryBytes bounds how much of a telemetry response is read.
const maxTelemetryBytes = 1 << 20

// Poll outcomes, also used as metric labels.
const (
	PollOK             = "ok"
	PollCRCMismatch    = "crc_mismatch"
	PollCRCComputeFail = "crc_compute_fail"
	PollUnrecognized   = "unrecognized"
	PollNotJSON        = "not_json"
	PollHTTPStatus     = "http_status"
	PollUnreachable    = "unreachable"
)

var errHTTPStatus = errors.New("unexpected status")

// Metrics receives link measurements.
type Metrics interface {
	ObserveLinkPoll(outcome string, up bool)
	IncCRCErrors()
}

// Link polls the satellite telemetry resource and owns the ground view of
// link state.
type Link struct {
	url      string
	client   *http.Client
	interval time.Duration
	journal  *Journal
	log      logging.Logger
	metrics  Metrics
	clock    timectrl.Clock

	mu    sync.Mutex
	state model.LinkState
}

// LinkOption configures a Link.
type LinkOption func(*Link)

// WithHTTPClient replaces the bounded-timeout default client.
func WithHTTPClient(c *http.Client) LinkOption {
	return func(l *Link) {
		if c != nil {
			l.client = c
		}
	}
}

// WithInterval sets the poll interval.
func WithInterval(d time.Duration) LinkOption {
	return func(l *Link) {
		if d > 0 {
			l.interval = d
		}
	}
}

// WithJournal sets where link events are recorded.
func WithJournal(j *Journal) LinkOption {
	return func(l *Link) { l.journal = j }
}

// WithLinkLogger sets the process logger.
func WithLinkLogger(log logging.Logger) LinkOption {
	return func(l *Link) { l.log = logging.OrNoop(log) }
}

// WithLinkMetrics attaches a metrics recorder.
func WithLinkMetrics(m Metrics) LinkOption {
	return func(l *Link) { l.metrics = m }
}

// WithLinkClock sets the clock used for timestamps and the poll delay.
func WithLinkClock(c timectrl.Clock) LinkOption {
	return func(l *Link) { l.clock = timectrl.OrWall(c) }
}

// NewLink builds a poller for url. The link starts DISCONNECTED.
func NewLink(url string, opts ...LinkOption) *Link {
	l := &Link{
		url:      url,
		client:   events.NewHTTPClient(events.DefaultConnectTimeout, events.DefaultReadTimeout),
		interval: DefaultPollInterval,
		log:      logging.Noop(),
		clock:    timectrl.Wall{},
		state:    model.LinkState{Status: model.LinkDisconnected},
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.journal == nil {
		l.journal = NewJournal(DefaultJournalCapacity, nil, l.log, l.clock)
	}
	return l
}

// State returns a copy of the current link state.
func (l *Link) State() model.LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.Clone()
}

// Run polls until ctx is done, sleeping the fixed interval after every
// cycle whatever its outcome.
func (l *Link) Run(ctx context.Context) {
	l.log.Info(ctx, "telemetry link started",
		logging.String("url", l.url),
		logging.Duration("interval", l.interval),
	)
	for {
		l.Poll(ctx)
		if err := timectrl.Sleep(ctx, l.clock, l.interval); err != nil {
			l.log.Info(ctx, "telemetry link stopped")
			return
		}
	}
}

// Poll runs one cycle and returns its outcome. It never panics on bad input
// and never returns an error; every failure is recorded as an event.
func (l *Link) Poll(ctx context.Context) (outcome string) {
	ctx, span := observability.StartSpan(ctx, "ground.Poll", attribute.String("satlink.url", l.url))
	defer func() {
		if r := recover(); r != nil {
			l.disconnect()
			l.journal.Record(ctx, model.LevelError, fmt.Sprintf("Unexpected poll error: %v", r),
				map[string]any{"exception": fmt.Sprint(r)}, ForwardAlways)
			outcome = PollUnreachable
		}
		span.SetAttributes(attribute.String("satlink.outcome", outcome))
		span.End()
		l.observe(outcome)
	}()

	body, status, err := l.fetch(ctx)
	switch {
	case errors.Is(err, errHTTPStatus):
		l.disconnect()
		l.journal.Record(ctx, model.LevelError, fmt.Sprintf("Telemetry fetch failed (%d)", status),
			map[string]any{"status_code": status}, ForwardAlways)
		return PollHTTPStatus
	case err != nil:
		observability.RecordError(span, err)
		l.disconnect()
		l.journal.Record(ctx, model.LevelError, fmt.Sprintf("Satellite unreachable: %v", err),
			map[string]any{"exception": err.Error()}, ForwardAlways)
		return PollUnreachable
	}

	frame, err := packet.DecodeFrame(body)
	switch {
	case errors.Is(err, packet.ErrInvalidJSON):
		l.disconnect()
		l.journal.Record(ctx, model.LevelError, "Telemetry returned non-JSON",
			map[string]any{"status_code": status}, ForwardAlways)
		return PollNotJSON
	case errors.Is(err, packet.ErrUnrecognizedShape):
		l.disconnect()
		l.journal.Record(ctx, model.LevelWarn, "Telemetry payload had unexpected structure",
			map[string]any{"sample": sample(body)}, ForwardAlways)
		return PollUnrecognized
	case err != nil:
		return l.computeFailed(ctx, err)
	}
	span.SetAttributes(attribute.String("satlink.shape", frame.Shape.String()))

	pkt := frame.Packet
	seq := pkt.Header.Seq
	err = packet.Verify(pkt)
	switch {
	case errors.Is(err, packet.ErrChecksumMismatch):
		// A corrupted packet still proves the satellite is reachable, so
		// the link status is left alone.
		calc, _ := packet.Checksum(pkt)
		l.mu.Lock()
		l.state.CRCErrorCount++
		l.mu.Unlock()
		if l.metrics != nil {
			l.metrics.IncCRCErrors()
		}
		l.journal.Record(ctx, model.LevelWarn, fmt.Sprintf("CRC mismatch for seq=%d", seq),
			map[string]any{"seq": seq, "calc_crc": calc, "packet_crc": pkt.Checksum}, ForwardAlways)
		return PollCRCMismatch
	case err != nil:
		return l.computeFailed(ctx, err)
	}

	now := l.clock.Now().UTC()
	l.mu.Lock()
	l.state.Status = model.LinkConnected
	l.state.LastSeq = &seq
	l.state.LastUpdateTime = &now
	l.mu.Unlock()
	l.journal.Record(ctx, model.LevelInfo, fmt.Sprintf("Received telemetry seq=%d CRC=OK", seq),
		map[string]any{"seq": seq}, ForwardNever)
	return PollOK
}

func (l *Link) computeFailed(ctx context.Context, err error) string {
	l.disconnect()
	l.journal.Record(ctx, model.LevelError, fmt.Sprintf("CRC compute failed: %v", err),
		map[string]any{"exception": err.Error(), "code": "CRC_COMPUTE_FAIL"}, ForwardAlways)
	return PollCRCComputeFail
}

func (l *Link) fetch(ctx context.Context) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxTelemetryBytes))
		return nil, resp.StatusCode, fmt.Errorf("%w %d", errHTTPStatus, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTelemetryBytes))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func (l *Link) disconnect() {
	l.mu.Lock()
	l.state.Status = model.LinkDisconnected
	l.mu.Unlock()
}

func (l *Link) observe(outcome string) {
	if l.metrics == nil {
		return
	}
	l.metrics.ObserveLinkPoll(outcome, l.State().Status == model.LinkConnected)
}

func sample(body []byte) string {
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}
