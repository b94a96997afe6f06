package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tuya-lights/internal/domain"
)

func TestParseFunctionProperty_Integer(t *testing.T) {
	prop, err := domain.ParseFunctionProperty(`{"min":10,"max":1000,"scale":0,"step":1}`)
	require.NoError(t, err)

	ip, ok := prop.Integer()
	require.True(t, ok)
	assert.Equal(t, 10.0, ip.Min)
	assert.Equal(t, 1000.0, ip.Max)
	assert.Equal(t, 1.0, ip.Step)

	_, ok = prop.Enum()
	assert.False(t, ok)
}

func TestParseFunctionProperty_IntegerNeedsMinAndMax(t *testing.T) {
	prop, err := domain.ParseFunctionProperty(`{"max":255}`)
	require.NoError(t, err)

	_, ok := prop.Integer()
	assert.False(t, ok)
}

func TestParseFunctionProperty_Enum(t *testing.T) {
	prop, err := domain.ParseFunctionProperty(`{"range":["white","colour","scene","music"]}`)
	require.NoError(t, err)

	ep, ok := prop.Enum()
	require.True(t, ok)
	assert.True(t, ep.Includes("colour"))
	assert.True(t, ep.Includes("white"))
	assert.False(t, ep.Includes("sleep"))
}

func TestParseFunctionProperty_Sub(t *testing.T) {
	prop, err := domain.ParseFunctionProperty(
		`{"h":{"min":0,"scale":0,"unit":"","max":360,"step":1},"s":{"min":0,"max":1000},"v":"bogus"}`)
	require.NoError(t, err)

	h, ok := prop.Sub("h")
	require.True(t, ok)
	assert.Equal(t, 360.0, h.Max)

	s, ok := prop.Sub("s")
	require.True(t, ok)
	assert.Equal(t, 1000.0, s.Max)

	_, ok = prop.Sub("v")
	assert.False(t, ok, "non-object sub property")

	_, ok = prop.Sub("x")
	assert.False(t, ok, "missing sub property")
}

func TestParseFunctionProperty_Invalid(t *testing.T) {
	for _, values := range []string{"", "null", "[1,2]", "{"} {
		_, err := domain.ParseFunctionProperty(values)
		assert.Error(t, err, "values %q", values)
	}
}

func TestDevice_Clone(t *testing.T) {
	d := domain.Device{
		ID:     "dev1",
		Status: []domain.DeviceStatus{{Code: "switch_led", Value: true}},
	}

	cpy := d.Clone()
	cpy.Status[0].Value = false

	assert.Equal(t, true, d.Status[0].Value)
}
