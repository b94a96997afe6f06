package tuya

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tuya-lights/internal/domain"
)

// Registry caches the device list and the function catalog of every light.
// Functions are fetched once per device; statuses are refreshed on every sync.
type Registry struct {
	client *Client
	logger *slog.Logger

	mu        sync.RWMutex
	devices   []domain.Device
	functions map[string][]domain.DeviceFunction
}

func NewRegistry(client *Client, logger *slog.Logger) *Registry {
	return &Registry{
		client:    client,
		logger:    logger,
		functions: make(map[string][]domain.DeviceFunction),
	}
}

func (r *Registry) Sync(ctx context.Context) error {
	r.logger.Info("syncing devices from Tuya")

	devices, err := r.client.GetDevices(ctx)
	if err != nil {
		return fmt.Errorf("fetching devices: %w", err)
	}

	synced := make([]domain.Device, 0, len(devices))
	lights := 0
	for _, d := range devices {
		if d.Type == domain.DeviceTypeLight {
			functions, err := r.functionsFor(ctx, d.ID)
			if err != nil {
				// Left out until a later sync gets its functions, so it is not
				// published with an empty catalog.
				r.logger.Warn("failed to fetch functions for light", "device", d.ID, "name", d.Name, "error", err)
				continue
			}
			d.Functions = functions
			lights++
		}
		synced = append(synced, d)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.devices = synced

	r.logger.Info("sync complete",
		"devices", len(r.devices),
		"lights", lights,
	)

	return nil
}

func (r *Registry) functionsFor(ctx context.Context, deviceID string) ([]domain.DeviceFunction, error) {
	r.mu.RLock()
	cached, ok := r.functions[deviceID]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}

	functions, err := r.client.GetDeviceFunctions(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.functions[deviceID] = functions
	r.mu.Unlock()
	return functions, nil
}

func (r *Registry) GetDevices() []domain.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]domain.Device, len(r.devices))
	for i, d := range r.devices {
		result[i] = d.Clone()
	}
	return result
}

// StartPeriodicSync re-syncs every interval and hands the fresh device list
// to onSync.
func (r *Registry) StartPeriodicSync(ctx context.Context, interval time.Duration, onSync func([]domain.Device)) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.Sync(ctx); err != nil {
					r.logger.Error("periodic sync failed", "error", err)
					continue
				}
				if onSync != nil {
					onSync(r.GetDevices())
				}
			}
		}
	}()
}
