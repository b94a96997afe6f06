package application

import (
	"context"
	"time"

	"tuya-lights/internal/domain"
)

// DeviceModel is everything an accessory needs from a device: function catalog
// lookups, the status store and in-place optimistic status updates.
type DeviceModel interface {
	ID() string
	Name() string
	Function(code string) (domain.DeviceFunction, bool)
	FunctionProperty(code string) (domain.FunctionProperty, bool)
	Status(code string) (domain.DeviceStatus, bool)
	UpdateStatus(code string, value any) bool
}

type CommandSender interface {
	SendCommands(ctx context.Context, deviceID string, commands []domain.DeviceStatus) error
}

type DeviceRegistry interface {
	Sync(ctx context.Context) error
	GetDevices() []domain.Device
}

type StatusSource interface {
	Subscribe(ctx context.Context, handler func(domain.StatusReport)) error
}

// SendObserver receives send queue activity, typically for metrics.
type SendObserver interface {
	CommandsEnqueued(deviceID string, n int)
	FlushCompleted(deviceID string, n int, elapsed time.Duration, err error)
}

type noopObserver struct{}

func (noopObserver) CommandsEnqueued(string, int) {}

func (noopObserver) FlushCompleted(string, int, time.Duration, error) {}
