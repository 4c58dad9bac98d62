package authority

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/signalsfoundry/satlink/internal/observability"
	"github.com/signalsfoundry/satlink/internal/packet"
	"github.com/signalsfoundry/satlink/model"
	"github.com/signalsfoundry/satlink/timectrl"
)

type stubUplink struct {
	mu      sync.Mutex
	packets []*packet.Packet
	err     error
}

func (s *stubUplink) Uplink(_ context.Context, p *packet.Packet) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.packets = append(s.packets, p)
	return json.RawMessage(`{"status":"ok"}`), nil
}

type event struct {
	level model.Level
	event string
}

type recorder struct {
	mu     sync.Mutex
	events []event
}

func (r *recorder) Publish(level model.Level, _ string, ev string, _ map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{level: level, event: ev})
}

func (r *recorder) levels() []model.Level {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Level, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.level)
	}
	return out
}

func testCredentials() Credentials {
	return Credentials{
		"user":  model.User,
		"ops":   model.Ops,
		"admin": model.Admin,
		"root":  model.Root,
	}
}

func TestAuthorize(t *testing.T) {
	a := New(&stubUplink{}, WithCredentials(testCredentials()))

	cases := []struct {
		opcode     string
		credential string
		allowed    bool
		reason     string
	}{
		{opcode: OpPing, credential: "", allowed: true},
		{opcode: OpPing, credential: "bogus", allowed: true},
		{opcode: OpGetStatus, credential: "", allowed: false, reason: ReasonUnauthorized},
		{opcode: OpGetStatus, credential: "user", allowed: true},
		{opcode: OpSetThruster, credential: "ops", allowed: false, reason: ReasonUnauthorized},
		{opcode: OpSetThruster, credential: "admin", allowed: true},
		{opcode: OpSetThruster, credential: "root", allowed: true},
		{opcode: OpWipeLogs, credential: "admin", allowed: false, reason: ReasonUnauthorized},
		{opcode: "SELF_DESTRUCT", credential: "root", allowed: false, reason: ReasonUnknownOpcode},
	}
	for _, tc := range cases {
		t.Run(tc.opcode+"/"+tc.credential, func(t *testing.T) {
			d := a.Authorize(tc.opcode, tc.credential)
			if d.Allowed != tc.allowed {
				t.Fatalf("Allowed = %v, want %v (%+v)", d.Allowed, tc.allowed, d)
			}
			if d.Reason != tc.reason {
				t.Fatalf("Reason = %q, want %q", d.Reason, tc.reason)
			}
		})
	}
}

func TestDispatchUplinksAndRecordsHistory(t *testing.T) {
	up := &stubUplink{}
	rec := &recorder{}
	clk := timectrl.NewManual(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	a := New(up, WithCredentials(testCredentials()), WithPublisher(rec), WithClock(clk))

	res, err := a.Dispatch(context.Background(), OpSetMode, map[string]any{"mode": "SAFE"}, "admin")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !res.Accepted || res.Seq == nil || string(res.Uplink) != `{"status":"ok"}` {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(up.packets) != 1 {
		t.Fatalf("uplinked %d packets, want 1", len(up.packets))
	}
	pkt := up.packets[0]
	if err := packet.Verify(pkt); err != nil {
		t.Fatalf("uplinked packet invalid: %v", err)
	}
	if op, _ := pkt.Opcode(); op != OpSetMode || pkt.Params()["mode"] != "SAFE" {
		t.Fatalf("packet body = %v", pkt.Body)
	}
	if want := clk.Now().UnixMilli() % packet.CommandSeqModulus; pkt.Header.Seq != want {
		t.Fatalf("seq = %d, want %d", pkt.Header.Seq, want)
	}

	history := a.History()
	if len(history) != 1 || history[0].Opcode != OpSetMode || history[0].Credential != "admi****" {
		t.Fatalf("history = %+v", history)
	}
	if got := rec.levels(); len(got) != 1 || got[0] != model.LevelInfo {
		t.Fatalf("events = %v, want one INFO", got)
	}
}

func TestDispatchDenied(t *testing.T) {
	up := &stubUplink{}
	rec := &recorder{}
	a := New(up, WithCredentials(testCredentials()), WithPublisher(rec))

	if _, err := a.Dispatch(context.Background(), OpDisableSafeties, nil, "ops"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if _, err := a.Dispatch(context.Background(), "FLY_TO_MOON", nil, "root"); !errors.Is(err, ErrUnknownOpcode) {
		t.Fatalf("err = %v, want ErrUnknownOpcode", err)
	}
	if _, err := a.Dispatch(context.Background(), "", nil, "root"); !errors.Is(err, ErrMissingOpcode) {
		t.Fatalf("err = %v, want ErrMissingOpcode", err)
	}
	if len(up.packets) != 0 || len(a.History()) != 0 {
		t.Fatalf("denied commands must not be uplinked or recorded")
	}
	got := rec.levels()
	if len(got) != 2 || got[0] != model.LevelAlert || got[1] != model.LevelWarn {
		t.Fatalf("events = %v, want [ALERT WARN]", got)
	}
}

func TestOverrideGrantsExactlyTenDispatches(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := observability.NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	up := &stubUplink{}
	rec := &recorder{}
	a := New(up, WithCredentials(testCredentials()), WithPublisher(rec), WithMetrics(metrics))
	ctx := context.Background()

	res, err := a.Dispatch(ctx, OpOverrideAuth, nil, "root")
	if err != nil {
		t.Fatalf("override: %v", err)
	}
	if res.Override == nil || !res.Override.Active || res.Override.RemainingUses != DefaultOverrideUses {
		t.Fatalf("override result = %+v", res.Override)
	}
	if len(up.packets) != 0 {
		t.Fatalf("OVERRIDE_AUTH must not be uplinked")
	}

	for i := 0; i < DefaultOverrideUses; i++ {
		if _, err := a.Dispatch(ctx, OpDisableSafeties, nil, ""); err != nil {
			t.Fatalf("dispatch %d under override: %v", i+1, err)
		}
	}
	if st := a.Override(); st.Active || st.RemainingUses != 0 {
		t.Fatalf("override state after budget = %+v", st)
	}
	if _, err := a.Dispatch(ctx, OpDisableSafeties, nil, ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("11th dispatch err = %v, want ErrUnauthorized", err)
	}
	if _, err := a.Dispatch(ctx, OpDisableSafeties, nil, "root"); err != nil {
		t.Fatalf("normal authorization after expiry: %v", err)
	}

	if got := testutil.ToFloat64(metrics.OverrideRemaining); got != 0 {
		t.Fatalf("override gauge = %v, want 0", got)
	}
	var expired bool
	for _, e := range rec.events {
		if e.event == "Authorization override expired" && e.level == model.LevelInfo {
			expired = true
		}
	}
	if !expired {
		t.Fatalf("missing override expired event")
	}
	if len(a.History()) != 1+DefaultOverrideUses+1 {
		t.Fatalf("history len = %d", len(a.History()))
	}
}

func TestOverrideNotConsumedOnUplinkFailure(t *testing.T) {
	up := &stubUplink{err: errors.New("connection refused")}
	rec := &recorder{}
	a := New(up, WithCredentials(testCredentials()), WithPublisher(rec), WithOverrideUses(2))
	ctx := context.Background()

	if _, err := a.Dispatch(ctx, OpOverrideAuth, nil, "root"); err != nil {
		t.Fatalf("override: %v", err)
	}
	_, err := a.Dispatch(ctx, OpWipeLogs, nil, "")
	if !errors.Is(err, ErrUplinkFailed) {
		t.Fatalf("err = %v, want ErrUplinkFailed", err)
	}
	if st := a.Override(); st.RemainingUses != 2 {
		t.Fatalf("remaining = %d, want 2", st.RemainingUses)
	}
	got := rec.levels()
	if got[len(got)-1] != model.LevelError {
		t.Fatalf("last event level = %s, want ERROR", got[len(got)-1])
	}
}

func TestHistoryIsBounded(t *testing.T) {
	a := New(&stubUplink{}, WithHistoryCapacity(3))
	for i := 0; i < 5; i++ {
		if _, err := a.Dispatch(context.Background(), OpPing, map[string]any{"n": i}, ""); err != nil {
			t.Fatalf("ping %d: %v", i, err)
		}
	}
	history := a.History()
	if len(history) != 3 {
		t.Fatalf("history len = %d, want 3", len(history))
	}
	if history[0].Params["n"] != 2 {
		t.Fatalf("oldest retained = %v, want n=2", history[0].Params)
	}
}

func TestParseCredentials(t *testing.T) {
	creds, err := ParseCredentials(map[string]string{"k1": "ops", "k2": "ROOT"})
	if err != nil {
		t.Fatalf("ParseCredentials: %v", err)
	}
	if lvl, ok := creds.Lookup("k1"); !ok || lvl != model.Ops {
		t.Fatalf("k1 = %v %v", lvl, ok)
	}
	if _, err := ParseCredentials(map[string]string{"k": "superuser"}); err == nil {
		t.Fatalf("expected error for unknown tier")
	}
	if Mask("ab") != "****" || Mask("") != "" {
		t.Fatalf("Mask short keys")
	}
}

// gatedUplink holds every uplink until release is closed.
type gatedUplink struct {
	arrived chan struct{}
	release chan struct{}
}

func (g *gatedUplink) Uplink(ctx context.Context, _ *packet.Packet) (json.RawMessage, error) {
	g.arrived <- struct{}{}
	select {
	case <-g.release:
		return json.RawMessage(`{"status":"ok"}`), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestOverrideBudgetHoldsUnderConcurrentDispatch(t *testing.T) {
	const callers = 25
	up := &gatedUplink{arrived: make(chan struct{}, callers), release: make(chan struct{})}
	a := New(up, WithCredentials(testCredentials()))
	ctx := context.Background()

	if _, err := a.Dispatch(ctx, OpOverrideAuth, nil, "root"); err != nil {
		t.Fatalf("override: %v", err)
	}

	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.Dispatch(ctx, OpDisableSafeties, nil, "")
			errs <- err
		}()
	}

	// Callers beyond the budget are refused while the first ten are still
	// in flight.
	for i := 0; i < DefaultOverrideUses; i++ {
		select {
		case <-up.arrived:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d uplinks started", i)
		}
	}
	for i := 0; i < callers-DefaultOverrideUses; i++ {
		select {
		case err := <-errs:
			if !errors.Is(err, ErrUnauthorized) {
				t.Fatalf("caller over budget: err = %v, want ErrUnauthorized", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("caller over budget was not refused")
		}
	}
	if st := a.Override(); !st.Active || st.RemainingUses != DefaultOverrideUses {
		t.Fatalf("override while uplinks in flight = %+v", st)
	}

	close(up.release)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("in-budget dispatch: %v", err)
		}
	}
	if len(up.arrived) != 0 {
		t.Fatalf("%d extra uplinks under override", len(up.arrived))
	}
	if st := a.Override(); st.Active || st.RemainingUses != 0 {
		t.Fatalf("override after budget = %+v", st)
	}
}

func TestFailedUplinkReturnsReservedUse(t *testing.T) {
	up := &stubUplink{err: errors.New("connection refused")}
	a := New(up, WithCredentials(testCredentials()), WithOverrideUses(1))
	ctx := context.Background()

	if _, err := a.Dispatch(ctx, OpOverrideAuth, nil, "root"); err != nil {
		t.Fatalf("override: %v", err)
	}
	if _, err := a.Dispatch(ctx, OpWipeLogs, nil, ""); !errors.Is(err, ErrUplinkFailed) {
		t.Fatalf("err = %v, want ErrUplinkFailed", err)
	}

	up.mu.Lock()
	up.err = nil
	up.mu.Unlock()
	if _, err := a.Dispatch(ctx, OpWipeLogs, nil, ""); err != nil {
		t.Fatalf("dispatch after failed uplink: %v", err)
	}
	if _, err := a.Dispatch(ctx, OpWipeLogs, nil, ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("dispatch after last use: err = %v, want ErrUnauthorized", err)
	}
}
