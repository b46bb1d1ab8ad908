//go:build !linux

package systemdmanager

import "context"

type ServiceManager struct{}

func New() *ServiceManager { return &ServiceManager{} }

func (sm *ServiceManager) Do(context.Context, Op, string) error { return ErrUnsupported }

func (sm *ServiceManager) ActiveState(context.Context, string) (string, error) {
	return "", ErrUnsupported
}

func (sm *ServiceManager) Close() error { return nil }
