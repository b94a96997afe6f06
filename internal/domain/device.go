package domain

type DeviceType string

const (
	DeviceTypeLight      DeviceType = "light"
	DeviceTypePlug       DeviceType = "plug"
	DeviceTypeSwitch     DeviceType = "switch"
	DeviceTypeThermostat DeviceType = "thermostat"
	DeviceTypeSensor     DeviceType = "sensor"
	DeviceTypeOther      DeviceType = "other"
)

// FunctionType is the value type Tuya declares for a device function.
type FunctionType string

const (
	FunctionTypeBoolean FunctionType = "Boolean"
	FunctionTypeInteger FunctionType = "Integer"
	FunctionTypeEnum    FunctionType = "Enum"
	FunctionTypeString  FunctionType = "String"
	FunctionTypeJSON    FunctionType = "Json"
)

type Device struct {
	ID        string
	Name      string
	Type      DeviceType
	Category  string
	ProductID string
	Online    bool
	Functions []DeviceFunction
	Status    []DeviceStatus
}

// DeviceFunction is a named capability declared by the device. Values holds the
// raw JSON range definition, e.g. {"min":10,"max":1000,"scale":0,"step":1}.
type DeviceFunction struct {
	Code   string
	Type   FunctionType
	Values string
}

// DeviceStatus is the last known value of one function code. Value is a bool,
// a number or a string, as reported by the device.
type DeviceStatus struct {
	Code  string `json:"code"`
	Value any    `json:"value"`
}

// StatusReport is a status change pushed by the cloud for one device.
type StatusReport struct {
	DeviceID string
	Status   []DeviceStatus
}

// Clone returns a copy of the device whose slices can be mutated independently.
func (d Device) Clone() Device {
	cpy := d
	if d.Functions != nil {
		cpy.Functions = make([]DeviceFunction, len(d.Functions))
		copy(cpy.Functions, d.Functions)
	}
	if d.Status != nil {
		cpy.Status = make([]DeviceStatus, len(d.Status))
		copy(cpy.Status, d.Status)
	}
	return cpy
}
