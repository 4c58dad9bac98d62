package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/signalsfoundry/satlink/internal/monitor"
)

func TestMonitorIngestAndReads(t *testing.T) {
	m := monitor.New(monitor.Config{})
	h := NewMonitorServer(m).Handler()

	bodies := []string{
		`{"level":"INFO","source":"ground-station","event":"poll ok"}`,
		`{"status":"ok","data":{"level":"ALERT","source":"satellite","event":"Safeties disabled","details":{}},"ts":1}`,
		`{"source":"scanner","event":"Port SCAN from 10.0.0.9"}`,
	}
	for i, body := range bodies {
		path := "/log"
		if i%2 == 1 {
			path = "/api/logs"
		}
		rec, env := do(t, h, http.MethodPost, path, body, nil)
		if rec.Code != http.StatusOK || env.Status != "ok" {
			t.Fatalf("ingest %d = %d %+v", i, rec.Code, env)
		}
	}

	rec, env := do(t, h, http.MethodPost, "/api/logs", `["not","an","object"]`, nil)
	if rec.Code != http.StatusBadRequest || env.Error != CodeLogIngestFail {
		t.Fatalf("bad ingest = %d %+v", rec.Code, env)
	}

	var logs struct {
		Logs []json.RawMessage `json:"logs"`
	}
	_, env = do(t, h, http.MethodGet, "/api/logs?limit=2", "", nil)
	if err := json.Unmarshal(env.Data, &logs); err != nil || len(logs.Logs) != 2 {
		t.Fatalf("logs = %s (%v)", env.Data, err)
	}

	var alerts struct {
		Alerts []struct {
			Event  string `json:"event"`
			Reason string `json:"reason"`
		} `json:"alerts"`
	}
	_, env = do(t, h, http.MethodGet, "/api/alerts", "", nil)
	if err := json.Unmarshal(env.Data, &alerts); err != nil || len(alerts.Alerts) != 2 {
		t.Fatalf("alerts = %s (%v)", env.Data, err)
	}
	if alerts.Alerts[1].Reason != monitor.ReasonContent {
		t.Fatalf("scan alert reason = %q", alerts.Alerts[1].Reason)
	}

	var ov monitor.Overview
	_, env = do(t, h, http.MethodGet, "/api/overview", "", nil)
	if err := json.Unmarshal(env.Data, &ov); err != nil {
		t.Fatalf("overview: %v", err)
	}
	if ov.LogCount != 3 || ov.AlertCount != 2 || ov.LastLog == nil || ov.LastLog.Source != "scanner" {
		t.Fatalf("overview = %+v", ov)
	}

	rec, _ = do(t, h, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("/health = %d", rec.Code)
	}
}

func TestMonitorConnectionBurstOverHTTP(t *testing.T) {
	m := monitor.New(monitor.Config{})
	h := NewMonitorServer(m).Handler()

	for i := 0; i < 31; i++ {
		body := fmt.Sprintf(`{"level":"INFO","source":"edge","event":"conn:accept","details":{"src_ip":"198.51.100.7","n":%d}}`, i)
		if rec, _ := do(t, h, http.MethodPost, "/log", body, nil); rec.Code != http.StatusOK {
			t.Fatalf("ingest %d = %d", i, rec.Code)
		}
	}
	alerts := m.Store().Alerts(0)
	if len(alerts) != 1 || alerts[0].Event != monitor.EventHighConnectionRate {
		t.Fatalf("alerts = %+v", alerts)
	}
}
