package application

// LightProfile is the feature set inferred from a device's functions.
type LightProfile int

const (
	ProfileUnknown LightProfile = iota - 1
	// ProfileNormal is on/off only.
	ProfileNormal
	// ProfileC adds brightness.
	ProfileC
	// ProfileCW adds color temperature (cold and warm white).
	ProfileCW
	// ProfileRGB is color only; brightness follows the v channel.
	ProfileRGB
	// ProfileRGBC is color plus a separate white brightness channel.
	ProfileRGBC
	// ProfileRGBCW has both color and color temperature, switched by work mode.
	ProfileRGBCW
)

func (p LightProfile) String() string {
	switch p {
	case ProfileNormal:
		return "Normal"
	case ProfileC:
		return "C"
	case ProfileCW:
		return "CW"
	case ProfileRGB:
		return "RGB"
	case ProfileRGBC:
		return "RGBC"
	case ProfileRGBCW:
		return "RGBCW"
	default:
		return "Unknown"
	}
}

// controls lists what each profile binds, in host order.
func (p LightProfile) controls() []ControlName {
	switch p {
	case ProfileNormal:
		return []ControlName{ControlOn}
	case ProfileC:
		return []ControlName{ControlOn, ControlBrightness}
	case ProfileCW:
		return []ControlName{ControlOn, ControlBrightness, ControlColorTemperature}
	case ProfileRGB, ProfileRGBC:
		return []ControlName{ControlOn, ControlBrightness, ControlHue, ControlSaturation}
	case ProfileRGBCW:
		return []ControlName{ControlOn, ControlBrightness, ControlColorTemperature, ControlHue, ControlSaturation}
	default:
		return nil
	}
}

// Classify picks the profile for a device. The rules are evaluated in order
// and the first match wins.
func Classify(device DeviceModel) LightProfile {
	c := catalog{device: device}

	_, on := c.on()
	_, bright := c.brightness()
	_, temp := c.temperature()
	_, color := c.colorProperty()

	dualMode := false
	if mode, ok := c.workModeRange(); ok {
		dualMode = mode.Includes(workModeColour) && mode.Includes(workModeWhite)
	}

	switch {
	case on && bright && temp && color && dualMode:
		return ProfileRGBCW
	case on && bright && !temp && color && dualMode:
		return ProfileRGBC
	case on && !temp && color:
		return ProfileRGB
	case on && bright && temp && !color:
		return ProfileCW
	case on && bright && !temp && !color:
		return ProfileC
	case on && !bright && !temp && !color:
		return ProfileNormal
	default:
		return ProfileUnknown
	}
}
