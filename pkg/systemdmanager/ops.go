// Package systemdmanager starts, stops and restarts systemd services over
// D-Bus. It is linux-only; other platforms get ErrUnsupported.
package systemdmanager

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnsupported = errors.New("systemdmanager: unsupported OS (linux only)")

// Op is a unit operation.
type Op string

const (
	OpStart   Op = "start"
	OpStop    Op = "stop"
	OpRestart Op = "restart"
)

// ParseOp accepts start|stop|restart; empty means restart.
func ParseOp(s string) (Op, error) {
	switch Op(strings.ToLower(strings.TrimSpace(s))) {
	case "", OpRestart:
		return OpRestart, nil
	case OpStart:
		return OpStart, nil
	case OpStop:
		return OpStop, nil
	default:
		return "", fmt.Errorf("unknown systemd op %q", s)
	}
}

// UnitName appends ".service" unless the name already carries a unit suffix
// (".timer", ".target", ...).
func UnitName(service string) string {
	s := strings.TrimSpace(service)
	if i := strings.LastIndexByte(s, '.'); i > 0 {
		switch s[i+1:] {
		case "service", "socket", "timer", "target", "mount", "path", "slice", "scope":
			return s
		}
	}
	return s + ".service"
}

// jobResult turns the systemd job result string into an error.
func jobResult(op Op, unit, res string) error {
	if res == "done" {
		return nil
	}
	return fmt.Errorf("%s %s: job %s", op, unit, res)
}
