package api

import (
	"net/http"
	"strings"

	"github.com/signalsfoundry/satlink/internal/authority"
	"github.com/signalsfoundry/satlink/internal/ground"
)

// CommandRequest is the operator command submission body.
type CommandRequest struct {
	Opcode string         `json:"opcode"`
	Params map[string]any `json:"params"`
}

// GroundServer exposes the command authority, link state and journal.
type GroundServer struct {
	base
	authority *authority.Authority
	link      *ground.Link
	journal   *ground.Journal
	tail      int
}

// NewGroundServer builds the ground tier HTTP surface.
func NewGroundServer(auth *authority.Authority, link *ground.Link, journal *ground.Journal, opts ...Option) *GroundServer {
	return &GroundServer{
		base:      newBase("ground", opts),
		authority: auth,
		link:      link,
		journal:   journal,
		tail:      ground.DefaultJournalTail,
	}
}

// SetJournalTail changes how many journal lines GET /api/logs returns.
func (s *GroundServer) SetJournalTail(n int) {
	if n > 0 {
		s.tail = n
	}
}

// Handler returns the routed, instrumented handler.
func (s *GroundServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/ground_state", s.handleGroundState)
	mux.HandleFunc("GET /api/logs", s.handleLogs)
	mux.HandleFunc("POST /api/command", s.handleCommand)
	mux.HandleFunc("GET /api/commands", s.handleHistory)
	mux.HandleFunc("GET /api/override", s.handleOverride)
	mux.HandleFunc("GET /api/opcodes", s.handleOpcodes)
	return s.handler(mux)
}

func (s *GroundServer) handleGroundState(w http.ResponseWriter, _ *http.Request) {
	s.ok(w, s.link.State())
}

func (s *GroundServer) handleLogs(w http.ResponseWriter, _ *http.Request) {
	s.ok(w, map[string]any{"logs": s.journal.Tail(s.tail)})
}

func (s *GroundServer) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, CodeInvalidParams, err.Error())
		return
	}
	req.Opcode = strings.ToUpper(strings.TrimSpace(req.Opcode))

	res, err := s.authority.Dispatch(r.Context(), req.Opcode, req.Params, Credential(r))
	if err != nil {
		s.failErr(w, r, err)
		return
	}
	s.ok(w, res)
}

func (s *GroundServer) handleHistory(w http.ResponseWriter, _ *http.Request) {
	s.ok(w, map[string]any{"commands": s.authority.History()})
}

func (s *GroundServer) handleOverride(w http.ResponseWriter, _ *http.Request) {
	s.ok(w, s.authority.Override())
}

func (s *GroundServer) handleOpcodes(w http.ResponseWriter, _ *http.Request) {
	reg := s.authority.Registry()
	out := make(map[string]string, len(reg))
	for _, op := range reg.Opcodes() {
		lvl, _ := reg.Required(op)
		out[op] = lvl.String()
	}
	s.ok(w, out)
}
