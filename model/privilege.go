package model

import (
	"fmt"
	"strings"
)

// PrivilegeLevel is an ordered authorization tier. Higher values dominate.
type PrivilegeLevel int

const (
	Public PrivilegeLevel = iota
	User
	Ops
	Admin
	Root
)

var privilegeNames = [...]string{"PUBLIC", "USER", "OPS", "ADMIN", "ROOT"}

func (p PrivilegeLevel) String() string {
	if p < Public || p > Root {
		return fmt.Sprintf("PrivilegeLevel(%d)", int(p))
	}
	return privilegeNames[p]
}

// Satisfies reports whether p meets the required tier.
func (p PrivilegeLevel) Satisfies(required PrivilegeLevel) bool {
	return p >= required
}

// ParsePrivilegeLevel resolves a tier name case-insensitively.
func ParsePrivilegeLevel(s string) (PrivilegeLevel, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for i, n := range privilegeNames {
		if n == name {
			return PrivilegeLevel(i), nil
		}
	}
	return Public, fmt.Errorf("unknown privilege level %q", s)
}

// MarshalText encodes the tier by name.
func (p PrivilegeLevel) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decodes a tier name.
func (p *PrivilegeLevel) UnmarshalText(b []byte) error {
	v, err := ParsePrivilegeLevel(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}
