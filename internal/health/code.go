// Package health samples subsystem health and escalates persistent
// degradation into a device restart request.
package health

import (
	"fmt"
	"strings"
)

// Code is an ordered severity: Critical < Warning < Good.
type Code int

const (
	Critical Code = iota
	Warning
	Good
)

func (c Code) String() string {
	switch c {
	case Critical:
		return "critical"
	case Warning:
		return "warning"
	case Good:
		return "good"
	default:
		return fmt.Sprintf("code(%d)", int(c))
	}
}

func (c Code) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Code) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "critical":
		*c = Critical
	case "warning":
		*c = Warning
	case "good":
		*c = Good
	default:
		return fmt.Errorf("unknown health code %q", text)
	}
	return nil
}

// Min returns the worst of codes, or Good when none are given.
func Min(codes ...Code) Code {
	worst := Good
	for _, c := range codes {
		if c < worst {
			worst = c
		}
	}
	return worst
}
