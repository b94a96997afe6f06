package application

import (
	"log/slog"
	"sync"

	"tuya-lights/internal/domain"
)

// DeviceState is the live model of one device: its immutable function catalog
// and the mutable status store. It is safe for concurrent use.
type DeviceState struct {
	id   string
	name string

	functions  map[string]domain.DeviceFunction
	properties map[string]domain.FunctionProperty

	mu     sync.RWMutex
	device domain.Device
}

func NewDeviceState(device domain.Device, logger *slog.Logger) *DeviceState {
	d := device.Clone()
	s := &DeviceState{
		id:         d.ID,
		name:       d.Name,
		functions:  make(map[string]domain.DeviceFunction, len(d.Functions)),
		properties: make(map[string]domain.FunctionProperty, len(d.Functions)),
		device:     d,
	}

	for _, fn := range d.Functions {
		s.functions[fn.Code] = fn
		prop, err := domain.ParseFunctionProperty(fn.Values)
		if err != nil {
			logger.Debug("function has no usable property", "device", d.ID, "code", fn.Code, "error", err)
			continue
		}
		s.properties[fn.Code] = prop
	}

	return s
}

func (s *DeviceState) ID() string   { return s.id }
func (s *DeviceState) Name() string { return s.name }

func (s *DeviceState) Function(code string) (domain.DeviceFunction, bool) {
	fn, ok := s.functions[code]
	return fn, ok
}

func (s *DeviceState) FunctionProperty(code string) (domain.FunctionProperty, bool) {
	prop, ok := s.properties[code]
	return prop, ok
}

func (s *DeviceState) Status(code string) (domain.DeviceStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, st := range s.device.Status {
		if st.Code == code {
			return st, true
		}
	}
	return domain.DeviceStatus{}, false
}

// UpdateStatus overwrites the value of an existing status entry. Codes the
// device never reported are left alone and false is returned.
func (s *DeviceState) UpdateStatus(code string, value any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.device.Status {
		if s.device.Status[i].Code == code {
			s.device.Status[i].Value = value
			return true
		}
	}
	return false
}

// ApplyReport merges a pushed status report. Unlike UpdateStatus, codes not
// yet known are appended since the device itself is the source.
func (s *DeviceState) ApplyReport(statuses []domain.DeviceStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, in := range statuses {
		found := false
		for i := range s.device.Status {
			if s.device.Status[i].Code == in.Code {
				s.device.Status[i].Value = in.Value
				found = true
				break
			}
		}
		if !found {
			s.device.Status = append(s.device.Status, in)
		}
	}
}

func (s *DeviceState) SetOnline(online bool) {
	s.mu.Lock()
	s.device.Online = online
	s.mu.Unlock()
}

func (s *DeviceState) Snapshot() domain.Device {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.device.Clone()
}
