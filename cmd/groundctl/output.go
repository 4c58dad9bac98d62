package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/signalsfoundry/satlink/internal/authority"
	"github.com/signalsfoundry/satlink/model"
)

// formatter renders command results for the terminal.
type formatter interface {
	Result(res authority.Result) string
	Status(st model.LinkState) string
	History(entries []authority.HistoryEntry) string
	Logs(lines []string) string
}

func newFormatter(format string) (formatter, error) {
	switch strings.ToLower(format) {
	case "", "table":
		return tableFormatter{}, nil
	case "json":
		return jsonFormatter{}, nil
	default:
		return nil, fmt.Errorf("unsupported output format %q (want table or json)", format)
	}
}

type jsonFormatter struct{}

func (jsonFormatter) Result(res authority.Result) string              { return indent(res) }
func (jsonFormatter) Status(st model.LinkState) string                { return indent(st) }
func (jsonFormatter) History(entries []authority.HistoryEntry) string { return indent(entries) }
func (jsonFormatter) Logs(lines []string) string                      { return indent(lines) }

func indent(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("error formatting JSON: %v\n", err)
	}
	return string(b) + "\n"
}

type tableFormatter struct{}

func table(write func(w *tabwriter.Writer)) string {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)
	write(w)
	w.Flush()
	return buf.String()
}

func (tableFormatter) Result(res authority.Result) string {
	return table(func(w *tabwriter.Writer) {
		fmt.Fprintf(w, "Opcode:\t%s\n", res.Opcode)
		fmt.Fprintf(w, "Accepted:\t%t\n", res.Accepted)
		if res.Seq != nil {
			fmt.Fprintf(w, "Seq:\t%d\n", *res.Seq)
		}
		if res.Override != nil {
			fmt.Fprintf(w, "Override:\tactive=%t remaining=%d\n", res.Override.Active, res.Override.RemainingUses)
		}
		if len(res.Uplink) > 0 {
			fmt.Fprintf(w, "Satellite:\t%s\n", compact(res.Uplink))
		}
	})
}

func (tableFormatter) Status(st model.LinkState) string {
	return table(func(w *tabwriter.Writer) {
		fmt.Fprintf(w, "Status:\t%s\n", st.Status)
		seq := "-"
		if st.LastSeq != nil {
			seq = fmt.Sprint(*st.LastSeq)
		}
		fmt.Fprintf(w, "Last seq:\t%s\n", seq)
		updated := "-"
		if st.LastUpdateTime != nil {
			updated = st.LastUpdateTime.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "Last update:\t%s\n", updated)
		fmt.Fprintf(w, "CRC errors:\t%d\n", st.CRCErrorCount)
	})
}

func (tableFormatter) History(entries []authority.HistoryEntry) string {
	if len(entries) == 0 {
		return "No commands submitted.\n"
	}
	return table(func(w *tabwriter.Writer) {
		fmt.Fprintln(w, "TIME\tOPCODE\tLEVEL\tCREDENTIAL\tSEQ\tPARAMS")
		for _, e := range entries {
			seq := "-"
			if e.Packet != nil {
				seq = fmt.Sprint(e.Packet.Header.Seq)
			}
			params := "{}"
			if len(e.Params) > 0 {
				b, _ := json.Marshal(e.Params)
				params = string(b)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				e.Timestamp.UTC().Format(time.RFC3339), e.Opcode, e.Level, e.Credential, seq, params)
		}
	})
}

func (tableFormatter) Logs(lines []string) string {
	if len(lines) == 0 {
		return "No journal entries.\n"
	}
	return strings.Join(lines, "\n") + "\n"
}

func compact(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
