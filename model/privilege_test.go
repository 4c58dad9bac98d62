package model

import (
	"encoding/json"
	"testing"
)

func TestPrivilegeOrdering(t *testing.T) {
	if !Admin.Satisfies(Ops) {
		t.Fatalf("ADMIN should satisfy OPS")
	}
	if Ops.Satisfies(Admin) {
		t.Fatalf("OPS should not satisfy ADMIN")
	}
	if !Public.Satisfies(Public) {
		t.Fatalf("PUBLIC should satisfy PUBLIC")
	}
}

func TestParsePrivilegeLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    PrivilegeLevel
		wantErr bool
	}{
		{"root", Root, false},
		{" Ops ", Ops, false},
		{"PUBLIC", Public, false},
		{"superuser", Public, true},
	}
	for _, tt := range tests {
		got, err := ParsePrivilegeLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParsePrivilegeLevel(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if err == nil && got != tt.want {
			t.Fatalf("ParsePrivilegeLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestPrivilegeLevelJSON(t *testing.T) {
	var got struct {
		Level PrivilegeLevel `json:"level"`
	}
	if err := json.Unmarshal([]byte(`{"level":"admin"}`), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Level != Admin {
		t.Fatalf("level = %v, want ADMIN", got.Level)
	}
	out, _ := json.Marshal(got)
	if string(out) != `{"level":"ADMIN"}` {
		t.Fatalf("marshal = %s", out)
	}
}

func TestSatelliteStateCloneIsolation(t *testing.T) {
	s := NewSatelliteState()
	seq := int64(4)
	s.LastAcceptedSeq = &seq
	s.OrbitParams["apogee_km"] = 410

	c := s.Clone()
	c.OrbitParams["apogee_km"] = 999
	*c.LastAcceptedSeq = 9

	if s.OrbitParams["apogee_km"] != 410 || *s.LastAcceptedSeq != 4 {
		t.Fatalf("clone shares state with original: %+v", s)
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("warning") != LevelWarn || ParseLevel("") != LevelInfo || ParseLevel("alert") != LevelAlert {
		t.Fatalf("ParseLevel mapping broken")
	}
	if LevelInfo.Important() || !LevelError.Important() {
		t.Fatalf("Important mapping broken")
	}
}
