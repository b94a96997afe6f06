package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"tuya-lights/internal/domain"
)

// Bridge owns the light accessories built from the registry and keeps their
// status stores in step with what the cloud reports.
type Bridge struct {
	registry DeviceRegistry
	sender   CommandSender
	reports  StatusSource
	notifier Notifier
	logger   *slog.Logger
	opts     []SendQueueOption

	mu     sync.RWMutex
	states map[string]*DeviceState
	lights map[string]*LightAccessory
	order  []string
}

type BridgeConfig struct {
	Debounce     time.Duration
	FlushTimeout time.Duration
	Observer     SendObserver
}

func NewBridge(
	registry DeviceRegistry,
	sender CommandSender,
	reports StatusSource,
	notifier Notifier,
	cfg BridgeConfig,
	logger *slog.Logger,
) *Bridge {
	if notifier == nil {
		notifier = &NoopNotifier{}
	}

	b := &Bridge{
		registry: registry,
		sender:   sender,
		reports:  reports,
		notifier: notifier,
		logger:   logger,
		states:   make(map[string]*DeviceState),
		lights:   make(map[string]*LightAccessory),
	}
	b.opts = []SendQueueOption{
		WithDebounce(cfg.Debounce),
		WithFlushTimeout(cfg.FlushTimeout),
		WithSendObserver(cfg.Observer),
		WithFailureHandler(b.reportFailure),
	}
	return b
}

// Load syncs the registry and builds an accessory for every light.
func (b *Bridge) Load(ctx context.Context) error {
	b.logger.Info("syncing device registry")
	if err := b.registry.Sync(ctx); err != nil {
		return fmt.Errorf("registry sync: %w", err)
	}

	b.Refresh(b.registry.GetDevices())
	return nil
}

func (b *Bridge) addLights(devices []domain.Device) {
	b.mu.Lock()
	defer b.mu.Unlock()

	added := 0
	for _, d := range devices {
		if d.Type != domain.DeviceTypeLight {
			continue
		}
		if _, ok := b.lights[d.ID]; ok {
			continue
		}

		state := NewDeviceState(d, b.logger)
		light := NewLightAccessory(state, b.sender, b.logger, b.opts...)
		b.states[d.ID] = state
		b.lights[d.ID] = light
		b.order = append(b.order, d.ID)
		added++

		b.logger.Info("light loaded",
			"device", d.ID,
			"name", d.Name,
			"profile", light.Profile().String(),
			"controls", len(light.Controls()),
		)
	}
	if added == 0 {
		return
	}
	sort.SliceStable(b.order, func(i, j int) bool {
		return b.lights[b.order[i]].Name() < b.lights[b.order[j]].Name()
	})
}

// Lights returns the accessories ordered by name.
func (b *Bridge) Lights() []*LightAccessory {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]*LightAccessory, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.lights[id])
	}
	return out
}

func (b *Bridge) Light(id string) (*LightAccessory, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	l, ok := b.lights[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrLightNotFound)
	}
	return l, nil
}

// Find looks a light up by ID, then by case-insensitive name.
func (b *Bridge) Find(key string) (*LightAccessory, error) {
	if l, err := b.Light(key); err == nil {
		return l, nil
	}

	name := strings.ToLower(strings.TrimSpace(key))
	for _, l := range b.Lights() {
		if strings.ToLower(l.Name()) == name {
			return l, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", key, ErrLightNotFound)
}

func (b *Bridge) State(id string) (*DeviceState, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.states[id]
	return s, ok
}

// HandleStatusReport applies a pushed report and notifies the light's listeners.
func (b *Bridge) HandleStatusReport(report domain.StatusReport) {
	b.mu.RLock()
	state, ok := b.states[report.DeviceID]
	light := b.lights[report.DeviceID]
	b.mu.RUnlock()

	if !ok {
		b.logger.Debug("status report for unknown device", "device", report.DeviceID)
		return
	}

	state.ApplyReport(report.Status)
	light.notifyChanged()
}

// Refresh builds accessories for lights not seen before and applies full
// device snapshots to the rest, e.g. after a periodic registry sync.
func (b *Bridge) Refresh(devices []domain.Device) {
	b.addLights(devices)

	for _, d := range devices {
		b.mu.RLock()
		state, ok := b.states[d.ID]
		light := b.lights[d.ID]
		b.mu.RUnlock()
		if !ok {
			continue
		}

		state.SetOnline(d.Online)
		if status := withoutPending(d.Status, light.Queue().Pending()); len(status) > 0 {
			state.ApplyReport(status)
		}
		light.notifyChanged()
	}
}

// withoutPending drops snapshot entries for codes that still have a write
// queued, so a polled snapshot does not revert an unsent change.
func withoutPending(status, pending []domain.DeviceStatus) []domain.DeviceStatus {
	if len(pending) == 0 {
		return status
	}
	out := make([]domain.DeviceStatus, 0, len(status))
	for _, st := range status {
		queued := false
		for _, p := range pending {
			if p.Code == st.Code {
				queued = true
				break
			}
		}
		if !queued {
			out = append(out, st)
		}
	}
	return out
}

// Run consumes status reports until ctx is done, then flushes every queue.
func (b *Bridge) Run(ctx context.Context) error {
	if b.reports != nil {
		if err := b.reports.Subscribe(ctx, b.HandleStatusReport); err != nil {
			return fmt.Errorf("subscribing to status reports: %w", err)
		}
		b.logger.Info("listening for status reports")
	}

	<-ctx.Done()
	b.logger.Info("bridge stopping, flushing pending commands")

	flushCtx, cancel := context.WithTimeout(context.Background(), DefaultFlushTimeout)
	defer cancel()
	if err := b.Close(flushCtx); err != nil {
		b.logger.Error("flushing on shutdown", "error", err)
	}

	return ctx.Err()
}

// Close flushes every light's queue.
func (b *Bridge) Close(ctx context.Context) error {
	var errs []error
	for _, l := range b.Lights() {
		if err := l.Queue().Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Bridge) reportFailure(deviceID string, commands []domain.DeviceStatus, err error) {
	name := deviceID
	if l, lerr := b.Light(deviceID); lerr == nil {
		name = l.Name()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	msg := fmt.Sprintf("Failed to update %s (%d commands): %s", name, len(commands), err.Error())
	if notifyErr := b.notifier.Notify(ctx, msg); notifyErr != nil {
		b.logger.Error("notifying send failure", "error", notifyErr)
	}
}
