package application

import (
	"fmt"
	"log/slog"
	"sync"

	"tuya-lights/internal/domain"
)

// Perceptual temperature range, in kelvin, that a device's native
// temperature range is stretched over.
const (
	minKelvin = 2000
	maxKelvin = 7142

	minMired = 140
	maxMired = 500
)

// LightAccessory maps a Tuya light onto On, Brightness, ColorTemperature, Hue
// and Saturation controls. The profile and the set of bound controls are fixed
// at construction; getters read the live status store and setters go through
// the send queue.
type LightAccessory struct {
	device  DeviceModel
	catalog catalog
	queue   *SendQueue
	logger  *slog.Logger
	profile LightProfile

	controls []*Control
	byName   map[ControlName]*Control

	mu        sync.Mutex
	listeners []func()
}

func NewLightAccessory(device DeviceModel, sender CommandSender, logger *slog.Logger, opts ...SendQueueOption) *LightAccessory {
	opts = append([]SendQueueOption{WithLogger(logger)}, opts...)
	logger = logger.With("device", device.ID())

	l := &LightAccessory{
		device:  device,
		catalog: catalog{device: device},
		queue:   NewSendQueue(device, sender, opts...),
		logger:  logger,
		profile: Classify(device),
		byName:  make(map[ControlName]*Control),
	}

	for _, name := range l.profile.controls() {
		ctrl, err := l.bind(name)
		if err != nil {
			logger.Warn("skipping control", "control", name, "error", err)
			continue
		}
		l.controls = append(l.controls, ctrl)
		l.byName[name] = ctrl
	}

	if l.profile == ProfileUnknown {
		logger.Warn("unrecognised light functions, no controls bound")
	}

	return l
}

func (l *LightAccessory) ID() string            { return l.device.ID() }
func (l *LightAccessory) Name() string          { return l.device.Name() }
func (l *LightAccessory) Profile() LightProfile { return l.profile }
func (l *LightAccessory) Queue() *SendQueue     { return l.queue }

// Controls returns the bound controls in host order.
func (l *LightAccessory) Controls() []*Control {
	out := make([]*Control, len(l.controls))
	copy(out, l.controls)
	return out
}

func (l *LightAccessory) Control(name ControlName) (*Control, bool) {
	c, ok := l.byName[name]
	return c, ok
}

// Get reads a control by name.
func (l *LightAccessory) Get(name ControlName) (any, error) {
	c, ok := l.byName[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrControlNotBound)
	}
	return c.Get(), nil
}

// Set writes a control by name.
func (l *LightAccessory) Set(name ControlName, value any) error {
	c, ok := l.byName[name]
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrControlNotBound)
	}
	if err := c.Set(value); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// OnChange registers fn to run after a pushed status report touched the device.
func (l *LightAccessory) OnChange(fn func()) {
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	l.mu.Unlock()
}

func (l *LightAccessory) notifyChanged() {
	l.mu.Lock()
	listeners := make([]func(), len(l.listeners))
	copy(listeners, l.listeners)
	l.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

func (l *LightAccessory) InWhiteMode() bool {
	return l.workModeIs(workModeWhite)
}

func (l *LightAccessory) InColorMode() bool {
	return l.workModeIs(workModeColour)
}

func (l *LightAccessory) workModeIs(mode string) bool {
	fn, ok := l.catalog.workMode()
	if !ok {
		return false
	}
	status, ok := l.device.Status(fn.Code)
	if !ok {
		return false
	}
	s, ok := status.Value.(string)
	return ok && s == mode
}

func (l *LightAccessory) bind(name ControlName) (*Control, error) {
	switch name {
	case ControlOn:
		return l.bindOn()
	case ControlBrightness:
		return l.bindBrightness()
	case ControlColorTemperature:
		return l.bindColorTemperature()
	case ControlHue:
		return l.bindColorChannel(ControlHue, 360)
	case ControlSaturation:
		return l.bindColorChannel(ControlSaturation, 100)
	default:
		return nil, fmt.Errorf("unknown control %q", name)
	}
}

func (l *LightAccessory) bindOn() (*Control, error) {
	fn, ok := l.catalog.on()
	if !ok {
		return nil, fmt.Errorf("no switch function")
	}

	return &Control{
		Name: ControlOn,
		get: func() any {
			status, ok := l.device.Status(fn.Code)
			if !ok {
				return false
			}
			on, _ := status.Value.(bool)
			return on
		},
		set: func(value any) error {
			on, err := boolValue(value)
			if err != nil {
				return err
			}
			l.logger.Debug("control set", "control", ControlOn, "value", on)
			l.queue.Enqueue(domain.DeviceStatus{Code: fn.Code, Value: on})
			return nil
		},
	}, nil
}

// Brightness is carried by the v channel of the color value while the device
// is in color mode, and by the brightness function otherwise. Both paths
// scale by max alone without subtracting min.
func (l *LightAccessory) bindBrightness() (*Control, error) {
	brightFn, brightOK := l.catalog.brightness()
	var bright domain.IntegerProperty
	if brightOK {
		bright, brightOK = l.catalog.integerProperty(brightFn)
	}
	colorFn, colorOK := l.catalog.color()
	var cp colorProperty
	if colorOK {
		cp, colorOK = l.catalog.colorProperty()
	}
	if !brightOK && !colorOK {
		return nil, fmt.Errorf("no brightness range")
	}

	useColor := func() bool {
		return colorOK && (!brightOK || l.InColorMode())
	}

	return &Control{
		Name: ControlBrightness,
		Min:  0,
		Max:  100,
		get: func() any {
			if useColor() {
				if cp.v.Max == 0 {
					return 0
				}
				return floor(100 * float64(l.colorValue(colorFn).V) / cp.v.Max)
			}
			if bright.Max == 0 {
				return 0
			}
			raw := 0.0
			if status, ok := l.device.Status(brightFn.Code); ok {
				raw, _ = toFloat(status.Value)
			}
			return floor(100 * raw / bright.Max)
		},
		set: func(value any) error {
			pct, err := numberValue(value)
			if err != nil {
				return err
			}
			l.logger.Debug("control set", "control", ControlBrightness, "value", pct)

			if useColor() {
				c := l.colorValue(colorFn)
				c.V = floor(pct * cp.v.Max / 100)
				l.queue.Enqueue(domain.DeviceStatus{Code: colorFn.Code, Value: c.encode()})
				return nil
			}
			l.queue.Enqueue(domain.DeviceStatus{Code: brightFn.Code, Value: floor(pct * bright.Max / 100)})
			return nil
		},
	}, nil
}

func (l *LightAccessory) bindColorTemperature() (*Control, error) {
	fn, ok := l.catalog.temperature()
	if !ok {
		return nil, fmt.Errorf("no temperature function")
	}
	prop, ok := l.catalog.integerProperty(fn)
	if !ok {
		return nil, fmt.Errorf("no temperature range")
	}
	span := prop.Max - prop.Min

	return &Control{
		Name: ControlColorTemperature,
		Min:  minMired,
		Max:  maxMired,
		get: func() any {
			raw := prop.Min
			if status, ok := l.device.Status(fn.Code); ok {
				if f, ok := toFloat(status.Value); ok {
					raw = f
				}
			}
			kelvin := float64(minKelvin)
			if span != 0 {
				kelvin = (raw-prop.Min)*(maxKelvin-minKelvin)/span + minKelvin
			}
			mired := floor(1e6 / kelvin)
			if kelvin <= 0 {
				mired = minMired
			}
			return clamp(mired, minMired, maxMired)
		},
		set: func(value any) error {
			mired, err := numberValue(value)
			if err != nil {
				return err
			}
			if mired <= 0 {
				return ErrInvalidValue
			}
			l.logger.Debug("control set", "control", ControlColorTemperature, "value", mired)

			kelvin := 1e6 / mired
			raw := floor((kelvin-minKelvin)*span/(maxKelvin-minKelvin) + prop.Min)
			commands := []domain.DeviceStatus{{Code: fn.Code, Value: raw}}
			if _, ok := l.catalog.workMode(); ok {
				commands = append(commands, domain.DeviceStatus{Code: workModeCode, Value: workModeWhite})
			}
			l.queue.Enqueue(commands...)
			return nil
		},
	}, nil
}

// bindColorChannel binds Hue (scale 360) or Saturation (scale 100) to the h
// or s channel of the color value.
func (l *LightAccessory) bindColorChannel(name ControlName, scale float64) (*Control, error) {
	fn, ok := l.catalog.color()
	if !ok {
		return nil, fmt.Errorf("no color function")
	}
	cp, ok := l.catalog.colorProperty()
	if !ok {
		return nil, fmt.Errorf("no color range")
	}

	prop := cp.h
	channel := func(c *hsv) *int { return &c.H }
	if name == ControlSaturation {
		prop = cp.s
		channel = func(c *hsv) *int { return &c.S }
	}
	span := prop.Max - prop.Min

	return &Control{
		Name: name,
		Min:  0,
		Max:  int(scale),
		get: func() any {
			if l.InWhiteMode() || span == 0 {
				return 0
			}
			c := l.colorValue(fn)
			v := floor(scale * (float64(*channel(&c)) - prop.Min) / span)
			return clamp(v, 0, int(scale))
		},
		set: func(value any) error {
			ext, err := numberValue(value)
			if err != nil {
				return err
			}
			l.logger.Debug("control set", "control", name, "value", ext)

			c := l.colorValue(fn)
			*channel(&c) = floor(ext/scale*span + prop.Min)
			commands := []domain.DeviceStatus{{Code: fn.Code, Value: c.encode()}}
			if _, ok := l.catalog.workMode(); ok {
				commands = append(commands, domain.DeviceStatus{Code: workModeCode, Value: workModeColour})
			}
			l.queue.Enqueue(commands...)
			return nil
		},
	}, nil
}

// colorValue prefers a queued write over the status store so channel writes
// merge even when the device never reported a color value.
func (l *LightAccessory) colorValue(fn domain.DeviceFunction) hsv {
	if v, ok := l.queue.pendingValue(fn.Code); ok {
		return decodeHSV(v)
	}
	status, ok := l.device.Status(fn.Code)
	if !ok {
		return hsv{}
	}
	return decodeHSV(status.Value)
}
