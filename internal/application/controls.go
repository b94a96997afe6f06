package application

import (
	"errors"
)

var (
	ErrControlNotBound = errors.New("control not bound")
	ErrInvalidValue    = errors.New("invalid control value")
	ErrLightNotFound   = errors.New("light not found")
)

// ControlName names a host-facing light control.
type ControlName string

const (
	ControlOn               ControlName = "On"
	ControlBrightness       ControlName = "Brightness"
	ControlColorTemperature ControlName = "ColorTemperature"
	ControlHue              ControlName = "Hue"
	ControlSaturation       ControlName = "Saturation"
)

// Control is a get/set pair in host units. On takes and returns a bool, every
// other control an int within [Min, Max]. Values are not range checked.
type Control struct {
	Name ControlName
	Min  int
	Max  int

	get func() any
	set func(any) error
}

func (c *Control) Get() any {
	return c.get()
}

func (c *Control) Set(value any) error {
	return c.set(value)
}

// IsBool reports whether the control carries a bool rather than a number.
func (c *Control) IsBool() bool {
	return c.Name == ControlOn
}

func boolValue(value any) (bool, error) {
	b, ok := value.(bool)
	if !ok {
		return false, ErrInvalidValue
	}
	return b, nil
}

func numberValue(value any) (float64, error) {
	if _, isBool := value.(bool); isBool {
		return 0, ErrInvalidValue
	}
	f, ok := toFloat(value)
	if !ok {
		return 0, ErrInvalidValue
	}
	return f, nil
}
