package application_test

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"tuya-lights/internal/application"
	"tuya-lights/internal/domain"
)

const (
	switchValues     = `{}`
	brightValues     = `{"min":10,"max":1000,"scale":0,"step":1}`
	tempValues       = `{"min":0,"max":1000,"scale":0,"step":1}`
	colourValues     = `{"h":{"min":0,"scale":0,"unit":"","max":360,"step":1},"s":{"min":0,"scale":0,"unit":"","max":1000,"step":1},"v":{"min":0,"scale":0,"unit":"","max":1000,"step":1}}`
	workModeValues   = `{"range":["white","colour","scene","music"]}`
	whiteOnlyValues  = `{"range":["white","scene"]}`
	colourNoVValues  = `{"h":{"min":0,"max":360},"s":{"min":0,"max":1000}}`
	colourMinVValues = `{"h":{"min":0,"max":360},"s":{"min":0,"max":1000},"v":{"min":10,"max":1000}}`
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fn struct {
	code   string
	typ    domain.FunctionType
	values string
	value  any
}

func switchFn(on bool) fn {
	return fn{"switch_led", domain.FunctionTypeBoolean, switchValues, on}
}

func brightFn(v int) fn {
	return fn{"bright_value", domain.FunctionTypeInteger, brightValues, v}
}

func tempFn(v int) fn {
	return fn{"temp_value", domain.FunctionTypeInteger, tempValues, v}
}

func colourFn(v string) fn {
	return fn{"colour_data", domain.FunctionTypeJSON, colourValues, v}
}

func workModeFn(mode string) fn {
	return fn{"work_mode", domain.FunctionTypeEnum, workModeValues, mode}
}

func newDevice(id string, fns ...fn) domain.Device {
	d := domain.Device{ID: id, Name: "Light " + id, Type: domain.DeviceTypeLight, Category: "dj", Online: true}
	for _, f := range fns {
		d.Functions = append(d.Functions, domain.DeviceFunction{Code: f.code, Type: f.typ, Values: f.values})
		if f.value != nil {
			d.Status = append(d.Status, domain.DeviceStatus{Code: f.code, Value: f.value})
		}
	}
	return d
}

func newState(fns ...fn) *application.DeviceState {
	return application.NewDeviceState(newDevice("dev1", fns...), discardLogger())
}

type sendCall struct {
	deviceID string
	commands []domain.DeviceStatus
}

type recordingSender struct {
	mu    sync.Mutex
	calls []sendCall
	err   error
}

func (s *recordingSender) SendCommands(_ context.Context, deviceID string, commands []domain.DeviceStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cpy := make([]domain.DeviceStatus, len(commands))
	copy(cpy, commands)
	s.calls = append(s.calls, sendCall{deviceID: deviceID, commands: cpy})
	return s.err
}

func (s *recordingSender) Calls() []sendCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sendCall, len(s.calls))
	copy(out, s.calls)
	return out
}

func (s *recordingSender) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}
