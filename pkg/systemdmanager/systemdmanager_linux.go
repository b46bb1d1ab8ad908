//go:build linux

package systemdmanager

import (
	"context"
	"fmt"
	"sync"

	"github.com/coreos/go-systemd/v22/dbus"
)

// ServiceManager handles systemd unit operations. The D-Bus connection is
// dialed on first use and re-dialed after it breaks.
type ServiceManager struct {
	mu   sync.Mutex
	conn *dbus.Conn
}

func New() *ServiceManager { return &ServiceManager{} }

func (sm *ServiceManager) connect(ctx context.Context) (*dbus.Conn, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.conn != nil && sm.conn.Connected() {
		return sm.conn, nil
	}
	if sm.conn != nil {
		sm.conn.Close()
		sm.conn = nil
	}
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	sm.conn = conn
	return conn, nil
}

// Do runs op on service and waits for the systemd job to finish.
func (sm *ServiceManager) Do(ctx context.Context, op Op, service string) error {
	conn, err := sm.connect(ctx)
	if err != nil {
		return err
	}
	unit := UnitName(service)
	ch := make(chan string, 1)
	switch op {
	case OpStart:
		_, err = conn.StartUnitContext(ctx, unit, "replace", ch)
	case OpStop:
		_, err = conn.StopUnitContext(ctx, unit, "replace", ch)
	case OpRestart:
		_, err = conn.RestartUnitContext(ctx, unit, "replace", ch)
	default:
		return fmt.Errorf("unknown systemd op %q", op)
	}
	if err != nil {
		return fmt.Errorf("failed to %s %s: %w", op, unit, err)
	}
	select {
	case res := <-ch:
		return jobResult(op, unit, res)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ActiveState returns the unit's ActiveState (active, inactive, failed, ...).
func (sm *ServiceManager) ActiveState(ctx context.Context, service string) (string, error) {
	conn, err := sm.connect(ctx)
	if err != nil {
		return "", err
	}
	p, err := conn.GetUnitPropertyContext(ctx, UnitName(service), "ActiveState")
	if err != nil {
		return "", err
	}
	s, _ := p.Value.Value().(string)
	return s, nil
}

func (sm *ServiceManager) Close() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.conn != nil {
		sm.conn.Close()
		sm.conn = nil
	}
	return nil
}
