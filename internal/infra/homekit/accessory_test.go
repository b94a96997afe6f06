package homekit

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tuya-lights/internal/application"
	"tuya-lights/internal/domain"
)

type nopSender struct{}

func (nopSender) SendCommands(context.Context, string, []domain.DeviceStatus) error { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newLight(t *testing.T, id string, functions []domain.DeviceFunction, status []domain.DeviceStatus) *application.LightAccessory {
	t.Helper()
	device := domain.Device{
		ID:        id,
		Name:      "Light " + id,
		Type:      domain.DeviceTypeLight,
		Online:    true,
		Functions: functions,
		Status:    status,
	}
	state := application.NewDeviceState(device, discardLogger())
	light := application.NewLightAccessory(state, nopSender{}, discardLogger(), application.WithDebounce(time.Hour))
	t.Cleanup(func() { light.Queue().Close(context.Background()) })
	return light
}

var (
	switchLED  = domain.DeviceFunction{Code: "switch_led", Type: domain.FunctionTypeBoolean, Values: "{}"}
	brightness = domain.DeviceFunction{Code: "bright_value_v2", Type: domain.FunctionTypeInteger, Values: `{"min":10,"max":1000,"scale":0,"step":1}`}
	tempValue  = domain.DeviceFunction{Code: "temp_value_v2", Type: domain.FunctionTypeInteger, Values: `{"min":0,"max":1000,"scale":0,"step":1}`}
	colourData = domain.DeviceFunction{Code: "colour_data_v2", Type: domain.FunctionTypeJSON, Values: `{"h":{"min":0,"max":360},"s":{"min":0,"max":1000},"v":{"min":0,"max":1000}}`}
	workMode   = domain.DeviceFunction{Code: "work_mode", Type: domain.FunctionTypeEnum, Values: `{"range":["white","colour","scene"]}`}
)

func TestAccessory_AddsCharacteristicsForBoundControls(t *testing.T) {
	full := NewAccessory(newLight(t, "full",
		[]domain.DeviceFunction{switchLED, brightness, tempValue, colourData, workMode},
		[]domain.DeviceStatus{
			{Code: "switch_led", Value: true},
			{Code: "bright_value_v2", Value: 500},
			{Code: "work_mode", Value: "white"},
		},
	), discardLogger())

	require.NotNil(t, full.brightness)
	require.NotNil(t, full.temperature)
	require.NotNil(t, full.hue)
	require.NotNil(t, full.saturation)
	assert.True(t, full.bulb.On.Value())
	assert.Equal(t, 50, full.brightness.Value())
	assert.Equal(t, 500, full.temperature.Value(), "missing temperature status reads as warmest")

	plain := NewAccessory(newLight(t, "plain", []domain.DeviceFunction{switchLED}, nil), discardLogger())
	assert.Nil(t, plain.brightness)
	assert.Nil(t, plain.temperature)
	assert.Nil(t, plain.hue)
	assert.Nil(t, plain.saturation)
}

func TestAccessory_RemoteUpdatesEnqueueCommands(t *testing.T) {
	light := newLight(t, "desk",
		[]domain.DeviceFunction{switchLED, brightness, tempValue, workMode},
		[]domain.DeviceStatus{{Code: "switch_led", Value: false}},
	)
	acc := NewAccessory(light, discardLogger())

	acc.setOn(true)
	acc.setInt(application.ControlBrightness)(40)
	acc.setInt(application.ControlColorTemperature)(500)

	pending := light.Queue().Pending()
	require.Len(t, pending, 4)
	assert.Equal(t, domain.DeviceStatus{Code: "switch_led", Value: true}, pending[0])
	assert.Equal(t, domain.DeviceStatus{Code: "bright_value_v2", Value: 400}, pending[1])
	assert.Equal(t, domain.DeviceStatus{Code: "temp_value_v2", Value: 0}, pending[2])
	assert.Equal(t, domain.DeviceStatus{Code: "work_mode", Value: "white"}, pending[3])
}

func TestAccessory_SyncFollowsStatusReports(t *testing.T) {
	device := domain.Device{
		ID:        "strip",
		Name:      "Strip",
		Type:      domain.DeviceTypeLight,
		Functions: []domain.DeviceFunction{switchLED, colourData, workMode},
		Status: []domain.DeviceStatus{
			{Code: "switch_led", Value: false},
			{Code: "work_mode", Value: "colour"},
		},
	}
	state := application.NewDeviceState(device, discardLogger())
	light := application.NewLightAccessory(state, nopSender{}, discardLogger(), application.WithDebounce(time.Hour))
	defer light.Queue().Close(context.Background())

	acc := NewAccessory(light, discardLogger())
	require.NotNil(t, acc.hue)
	assert.False(t, acc.bulb.On.Value())

	state.ApplyReport([]domain.DeviceStatus{
		{Code: "switch_led", Value: true},
		{Code: "colour_data_v2", Value: `{"h":120,"s":500,"v":1000}`},
	})
	acc.Sync()

	assert.True(t, acc.bulb.On.Value())
	assert.InDelta(t, 120, acc.hue.Value(), 0.01)
	assert.InDelta(t, 50, acc.saturation.Value(), 0.01)
	assert.Equal(t, 100, acc.brightness.Value())
}

func TestAccessoryID(t *testing.T) {
	a := accessoryID("bf1234567890abcdef")
	b := accessoryID("bf1234567890abcdef")
	c := accessoryID("bf0000000000000000")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Greater(t, a, uint64(1))
}

func TestNewServer_SkipsUnknownLights(t *testing.T) {
	lights := []*application.LightAccessory{
		newLight(t, "desk", []domain.DeviceFunction{switchLED, brightness}, nil),
		newLight(t, "odd", []domain.DeviceFunction{brightness}, nil),
	}

	server, err := NewServer(Config{Name: "Test Bridge", Pin: "00102003", StoragePath: t.TempDir()}, lights, discardLogger())
	require.NoError(t, err)

	require.Len(t, server.Accessories(), 1)
	assert.Equal(t, "desk", server.Accessories()[0].light.ID())
}

func TestServer_Unpublished(t *testing.T) {
	desk := newLight(t, "desk", []domain.DeviceFunction{switchLED, brightness}, nil)
	server, err := NewServer(Config{Name: "Test Bridge", Pin: "00102003", StoragePath: t.TempDir()},
		[]*application.LightAccessory{desk}, discardLogger())
	require.NoError(t, err)

	attic := newLight(t, "attic", []domain.DeviceFunction{switchLED}, nil)
	odd := newLight(t, "odd", []domain.DeviceFunction{brightness}, nil)

	missing := server.Unpublished([]*application.LightAccessory{attic, desk, odd})
	require.Len(t, missing, 1)
	assert.Equal(t, "attic", missing[0].ID())
}
