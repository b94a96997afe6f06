package homekit

import (
	"hash/fnv"
	"log/slog"

	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/characteristic"
	"github.com/brutella/hap/service"

	"tuya-lights/internal/application"
)

// Accessory publishes one light as a HomeKit lightbulb. Only the
// characteristics of bound controls are added to the service.
type Accessory struct {
	*accessory.A

	light  *application.LightAccessory
	logger *slog.Logger

	bulb        *service.Lightbulb
	brightness  *characteristic.Brightness
	temperature *characteristic.ColorTemperature
	hue         *characteristic.Hue
	saturation  *characteristic.Saturation
}

func NewAccessory(light *application.LightAccessory, logger *slog.Logger) *Accessory {
	a := &Accessory{
		A: accessory.New(accessory.Info{
			Name:         light.Name(),
			SerialNumber: light.ID(),
			Manufacturer: "Tuya",
			Model:        light.Profile().String(),
		}, accessory.TypeLightbulb),
		light:  light,
		logger: logger.With("device", light.ID()),
		bulb:   service.NewLightbulb(),
	}
	a.Id = accessoryID(light.ID())
	a.AddS(a.bulb.S)

	a.bulb.On.OnValueRemoteUpdate(a.setOn)

	for _, c := range light.Controls() {
		switch c.Name {
		case application.ControlBrightness:
			a.brightness = characteristic.NewBrightness()
			a.brightness.OnValueRemoteUpdate(a.setInt(application.ControlBrightness))
			a.bulb.AddC(a.brightness.C)
		case application.ControlColorTemperature:
			a.temperature = characteristic.NewColorTemperature()
			a.temperature.SetMinValue(c.Min)
			a.temperature.SetMaxValue(c.Max)
			a.temperature.OnValueRemoteUpdate(a.setInt(application.ControlColorTemperature))
			a.bulb.AddC(a.temperature.C)
		case application.ControlHue:
			a.hue = characteristic.NewHue()
			a.hue.OnValueRemoteUpdate(a.setFloat(application.ControlHue))
			a.bulb.AddC(a.hue.C)
		case application.ControlSaturation:
			a.saturation = characteristic.NewSaturation()
			a.saturation.OnValueRemoteUpdate(a.setFloat(application.ControlSaturation))
			a.bulb.AddC(a.saturation.C)
		}
	}

	light.OnChange(a.Sync)
	a.Sync()
	return a
}

// Sync copies the light's current values into the characteristics.
func (a *Accessory) Sync() {
	if v, err := a.light.Get(application.ControlOn); err == nil {
		if on, ok := v.(bool); ok {
			a.bulb.On.SetValue(on)
		}
	}
	if a.brightness != nil {
		a.brightness.SetValue(a.intValue(application.ControlBrightness))
	}
	if a.temperature != nil {
		a.temperature.SetValue(a.intValue(application.ControlColorTemperature))
	}
	if a.hue != nil {
		a.hue.SetValue(float64(a.intValue(application.ControlHue)))
	}
	if a.saturation != nil {
		a.saturation.SetValue(float64(a.intValue(application.ControlSaturation)))
	}
}

func (a *Accessory) intValue(name application.ControlName) int {
	v, err := a.light.Get(name)
	if err != nil {
		return 0
	}
	n, _ := v.(int)
	return n
}

func (a *Accessory) setOn(on bool) {
	a.set(application.ControlOn, on)
}

func (a *Accessory) setInt(name application.ControlName) func(int) {
	return func(v int) { a.set(name, v) }
}

func (a *Accessory) setFloat(name application.ControlName) func(float64) {
	return func(v float64) { a.set(name, v) }
}

func (a *Accessory) set(name application.ControlName, value any) {
	if err := a.light.Set(name, value); err != nil {
		a.logger.Warn("homekit write rejected", "control", name, "value", value, "error", err)
	}
}

// accessoryID derives a stable accessory ID from the device ID so pairings
// survive restarts. IDs 0 and 1 are reserved for the bridge.
func accessoryID(deviceID string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(deviceID))
	id := h.Sum64()
	if id <= 1 {
		id += 2
	}
	return id
}
