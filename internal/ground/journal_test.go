package ground

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/signalsfoundry/satlink/internal/events"
	"github.com/signalsfoundry/satlink/model"
	"github.com/signalsfoundry/satlink/timectrl"
)

type forwarded struct {
	level  model.Level
	source string
	event  string
}

func recorder(out *[]forwarded) events.Publisher {
	return events.PublisherFunc(func(level model.Level, source, event string, _ map[string]any) {
		*out = append(*out, forwarded{level: level, source: source, event: event})
	})
}

func TestJournalLineFormat(t *testing.T) {
	clk := timectrl.NewManual(time.Date(2025, time.March, 4, 5, 6, 7, 0, time.UTC))
	j := NewJournal(10, nil, nil, clk)

	j.Record(context.Background(), model.LevelWarn, "CRC mismatch for seq=4", nil, ForwardNever)

	got := j.Tail(1)
	want := "2025-03-04T05:06:07Z [WARN] CRC mismatch for seq=4"
	if len(got) != 1 || got[0] != want {
		t.Fatalf("Tail = %q, want %q", got, want)
	}
}

func TestJournalForwardPolicies(t *testing.T) {
	cases := []struct {
		level  model.Level
		policy ForwardPolicy
		want   bool
	}{
		{model.LevelInfo, ForwardAuto, false},
		{model.LevelWarn, ForwardAuto, true},
		{model.LevelError, ForwardAuto, true},
		{model.LevelAlert, ForwardAuto, true},
		{model.LevelInfo, ForwardAlways, true},
		{model.LevelAlert, ForwardNever, false},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s/%d", tc.level, tc.policy), func(t *testing.T) {
			var out []forwarded
			j := NewJournal(10, recorder(&out), nil, nil)
			j.Record(context.Background(), tc.level, "event", nil, tc.policy)
			if got := len(out) == 1; got != tc.want {
				t.Fatalf("forwarded = %v, want %v", got, tc.want)
			}
			if tc.want && out[0].source != EventSource {
				t.Fatalf("source = %q", out[0].source)
			}
			if j.Len() != 1 {
				t.Fatalf("journal did not keep the local line")
			}
		})
	}
}

func TestJournalPublishUsesAutoPolicy(t *testing.T) {
	var out []forwarded
	j := NewJournal(10, recorder(&out), nil, nil)

	j.Publish(model.LevelInfo, EventSource, "Command PING dispatched seq=1", nil)
	j.Publish(model.LevelAlert, "authority", "Unauthorized SET_THRUSTER", nil)

	if len(out) != 1 || out[0].level != model.LevelAlert {
		t.Fatalf("forwarded = %+v", out)
	}
	lines := j.Tail(0)
	if len(lines) != 2 || !strings.HasSuffix(lines[1], "[ALERT] authority: Unauthorized SET_THRUSTER") {
		t.Fatalf("lines = %q", lines)
	}
}

func TestJournalTailIsBounded(t *testing.T) {
	j := NewJournal(DefaultJournalCapacity, nil, nil, nil)
	for i := 0; i < DefaultJournalCapacity+25; i++ {
		j.Record(context.Background(), model.LevelInfo, fmt.Sprintf("line %d", i), nil, ForwardNever)
	}
	if j.Len() != DefaultJournalCapacity {
		t.Fatalf("Len = %d, want %d", j.Len(), DefaultJournalCapacity)
	}
	tail := j.Tail(DefaultJournalTail)
	if len(tail) != DefaultJournalTail {
		t.Fatalf("tail = %d lines", len(tail))
	}
	if !strings.HasSuffix(tail[len(tail)-1], fmt.Sprintf("line %d", DefaultJournalCapacity+24)) {
		t.Fatalf("last line = %q", tail[len(tail)-1])
	}
	if !strings.HasSuffix(j.Tail(0)[0], "line 25") {
		t.Fatalf("oldest retained = %q", j.Tail(0)[0])
	}
}
