package application

import "tuya-lights/internal/domain"

// Function codes used by Tuya lights. Older firmware exposes the same
// capability under several historical names, tried in order.
var (
	onCodes          = []string{"switch_led", "switch_led_1"}
	brightnessCodes  = []string{"bright_value", "bright_value_v2", "bright_value_1"}
	temperatureCodes = []string{"temp_value", "temp_value_v2"}
	colorCodes       = []string{"colour_data", "colour_data_v2"}
	workModeCodes    = []string{"work_mode"}
)

const (
	workModeCode   = "work_mode"
	workModeWhite  = "white"
	workModeColour = "colour"
)

// firstPresent returns the function for the first code the device declares.
func firstPresent(device DeviceModel, codes []string) (domain.DeviceFunction, bool) {
	for _, code := range codes {
		if fn, ok := device.Function(code); ok {
			return fn, true
		}
	}
	return domain.DeviceFunction{}, false
}

type catalog struct {
	device DeviceModel
}

func (c catalog) on() (domain.DeviceFunction, bool) {
	return firstPresent(c.device, onCodes)
}

func (c catalog) brightness() (domain.DeviceFunction, bool) {
	return firstPresent(c.device, brightnessCodes)
}

func (c catalog) temperature() (domain.DeviceFunction, bool) {
	return firstPresent(c.device, temperatureCodes)
}

func (c catalog) color() (domain.DeviceFunction, bool) {
	return firstPresent(c.device, colorCodes)
}

func (c catalog) workMode() (domain.DeviceFunction, bool) {
	return firstPresent(c.device, workModeCodes)
}

// integerProperty resolves the {min,max} range of a function.
func (c catalog) integerProperty(fn domain.DeviceFunction) (domain.IntegerProperty, bool) {
	prop, ok := c.device.FunctionProperty(fn.Code)
	if !ok {
		return domain.IntegerProperty{}, false
	}
	return prop.Integer()
}

// colorProperty resolves the h, s and v ranges of the composite color
// function. All three must be present.
func (c catalog) colorProperty() (colorProperty, bool) {
	fn, ok := c.color()
	if !ok {
		return colorProperty{}, false
	}
	prop, ok := c.device.FunctionProperty(fn.Code)
	if !ok {
		return colorProperty{}, false
	}

	var cp colorProperty
	var hOK, sOK, vOK bool
	cp.h, hOK = prop.Sub("h")
	cp.s, sOK = prop.Sub("s")
	cp.v, vOK = prop.Sub("v")
	if !hOK || !sOK || !vOK {
		return colorProperty{}, false
	}
	return cp, true
}

func (c catalog) workModeRange() (domain.EnumProperty, bool) {
	fn, ok := c.workMode()
	if !ok {
		return domain.EnumProperty{}, false
	}
	prop, ok := c.device.FunctionProperty(fn.Code)
	if !ok {
		return domain.EnumProperty{}, false
	}
	return prop.Enum()
}

type colorProperty struct {
	h, s, v domain.IntegerProperty
}
