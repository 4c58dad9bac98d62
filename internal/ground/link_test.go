package ground

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/signalsfoundry/satlink/internal/observability"
	"github.com/signalsfoundry/satlink/internal/packet"
	"github.com/signalsfoundry/satlink/model"
	"github.com/signalsfoundry/satlink/timectrl"
)

func telemetryPacket(t *testing.T) *packet.Packet {
	t.Helper()
	p, err := packet.NewCodec().BuildTelemetry(map[string]any{"mode": "NOMINAL", "satellites": []any{}})
	if err != nil {
		t.Fatalf("BuildTelemetry: %v", err)
	}
	return p
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

// serve returns a server whose response body is swapped through the
// returned pointer.
func serve(t *testing.T, status int, body []byte) (*httptest.Server, *atomic.Pointer[[]byte]) {
	t.Helper()
	current := &atomic.Pointer[[]byte]{}
	current.Store(&body)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write(*current.Load())
	}))
	t.Cleanup(srv.Close)
	return srv, current
}

func TestPollAcceptsEveryPacketShape(t *testing.T) {
	p := telemetryPacket(t)
	shapes := map[string]any{
		"raw":       p,
		"enveloped": packet.Wrap(p, 1),
		"inline":    map[string]any{"status": "ok", "data": p, "ts": 1},
	}
	for name, v := range shapes {
		t.Run(name, func(t *testing.T) {
			srv, _ := serve(t, http.StatusOK, mustJSON(t, v))
			var out []forwarded
			clk := timectrl.NewManual(time.Unix(1700000000, 0))
			link := NewLink(srv.URL, WithLinkClock(clk), WithJournal(NewJournal(10, recorder(&out), nil, clk)))

			if got := link.Poll(context.Background()); got != PollOK {
				t.Fatalf("outcome = %s", got)
			}
			st := link.State()
			if st.Status != model.LinkConnected || st.LastSeq == nil || *st.LastSeq != p.Header.Seq {
				t.Fatalf("state = %+v", st)
			}
			if st.LastUpdateTime == nil || !st.LastUpdateTime.Equal(clk.Now()) {
				t.Fatalf("last update = %v", st.LastUpdateTime)
			}
			if len(out) != 0 {
				t.Fatalf("successful poll was forwarded: %+v", out)
			}
		})
	}
}

func TestPollChecksumMismatchKeepsLinkState(t *testing.T) {
	good := mustJSON(t, telemetryPacket(t))
	srv, body := serve(t, http.StatusOK, good)
	var out []forwarded
	link := NewLink(srv.URL, WithJournal(NewJournal(10, recorder(&out), nil, nil)))

	if got := link.Poll(context.Background()); got != PollOK {
		t.Fatalf("first poll = %s", got)
	}

	bad := telemetryPacket(t)
	bad.Checksum++
	badBody := mustJSON(t, bad)
	body.Store(&badBody)

	if got := link.Poll(context.Background()); got != PollCRCMismatch {
		t.Fatalf("second poll = %s", got)
	}
	st := link.State()
	if st.Status != model.LinkConnected {
		t.Fatalf("checksum mismatch flipped link to %s", st.Status)
	}
	if st.CRCErrorCount != 1 {
		t.Fatalf("crc_error_count = %d", st.CRCErrorCount)
	}
	if len(out) != 1 || out[0].level != model.LevelWarn {
		t.Fatalf("forwarded = %+v", out)
	}
}

func TestPollFailuresDisconnect(t *testing.T) {
	negative := telemetryPacket(t)
	negative.Header.Seq = -1

	cases := []struct {
		name    string
		status  int
		body    []byte
		outcome string
		level   model.Level
	}{
		{name: "server error", status: http.StatusInternalServerError, body: []byte(`oops`), outcome: PollHTTPStatus, level: model.LevelError},
		{name: "not json", status: http.StatusOK, body: []byte(`<html>`), outcome: PollNotJSON, level: model.LevelError},
		{name: "unexpected structure", status: http.StatusOK, body: []byte(`{"status":"ok","data":{"satellites":[]}}`), outcome: PollUnrecognized, level: model.LevelWarn},
		{name: "malformed packet", status: http.StatusOK, body: []byte(`{"header":"nope","body":{}}`), outcome: PollCRCComputeFail, level: model.LevelError},
		{name: "negative seq", status: http.StatusOK, body: mustJSON(t, negative), outcome: PollCRCComputeFail, level: model.LevelError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			good := mustJSON(t, telemetryPacket(t))
			srv, body := serve(t, tc.status, good)
			var out []forwarded
			link := NewLink(srv.URL, WithJournal(NewJournal(10, recorder(&out), nil, nil)))

			if tc.status == http.StatusOK {
				if got := link.Poll(context.Background()); got != PollOK {
					t.Fatalf("priming poll = %s", got)
				}
			}
			body.Store(&tc.body)

			if got := link.Poll(context.Background()); got != tc.outcome {
				t.Fatalf("outcome = %s, want %s", got, tc.outcome)
			}
			if st := link.State(); st.Status != model.LinkDisconnected {
				t.Fatalf("status = %s", st.Status)
			}
			if len(out) != 1 || out[0].level != tc.level {
				t.Fatalf("forwarded = %+v", out)
			}
		})
	}
}

func TestPollUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	j := NewJournal(10, nil, nil, nil)
	link := NewLink(url, WithJournal(j))
	if got := link.Poll(context.Background()); got != PollUnreachable {
		t.Fatalf("outcome = %s", got)
	}
	if lines := j.Tail(1); len(lines) != 1 || !strings.Contains(lines[0], "[ERROR] Satellite unreachable") {
		t.Fatalf("journal = %q", lines)
	}
}

func TestRunKeepsPollingOnFixedInterval(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	clk := timectrl.NewManual(time.Unix(0, 0))
	link := NewLink(srv.URL, WithLinkClock(clk), WithInterval(10*time.Second))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		link.Run(ctx)
		close(done)
	}()

	for want := int32(1); want <= 3; want++ {
		if !clk.BlockUntil(1, time.Second) {
			t.Fatalf("poller did not sleep after cycle %d", want)
		}
		if got := hits.Load(); got != want {
			t.Fatalf("hits = %d, want %d", got, want)
		}
		clk.Advance(10 * time.Second)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func TestPollMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := observability.NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	bad := telemetryPacket(t)
	bad.Checksum++
	srv, body := serve(t, http.StatusOK, mustJSON(t, telemetryPacket(t)))
	link := NewLink(srv.URL, WithLinkMetrics(metrics))

	link.Poll(context.Background())
	if got := testutil.ToFloat64(metrics.LinkUp); got != 1 {
		t.Fatalf("link_up = %v", got)
	}
	badBody := mustJSON(t, bad)
	body.Store(&badBody)
	link.Poll(context.Background())

	if got := testutil.ToFloat64(metrics.LinkCRCErrors); got != 1 {
		t.Fatalf("crc errors = %v", got)
	}
	if got := testutil.ToFloat64(metrics.LinkPolls.WithLabelValues(PollOK)); got != 1 {
		t.Fatalf("ok polls = %v", got)
	}
	if got := testutil.ToFloat64(metrics.LinkUp); got != 1 {
		t.Fatalf("link_up after mismatch = %v", got)
	}
}
