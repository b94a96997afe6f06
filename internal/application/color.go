package application

import (
	"encoding/json"
	"math"
	"strconv"
)

// hsv is the decoded value of a colour_data status, in device units.
type hsv struct {
	H int `json:"h"`
	S int `json:"s"`
	V int `json:"v"`
}

// decodeHSV reads a colour_data status value. Missing, empty, "{}" and
// unparsable values all decode to the zero triple.
func decodeHSV(value any) hsv {
	var c struct {
		H float64 `json:"h"`
		S float64 `json:"s"`
		V float64 `json:"v"`
	}

	switch v := value.(type) {
	case string:
		if v == "" || v == "{}" {
			return hsv{}
		}
		if err := json.Unmarshal([]byte(v), &c); err != nil {
			return hsv{}
		}
	case map[string]any:
		c.H, _ = toFloat(v["h"])
		c.S, _ = toFloat(v["s"])
		c.V, _ = toFloat(v["v"])
	default:
		return hsv{}
	}

	return hsv{H: int(c.H), S: int(c.S), V: int(c.V)}
}

func (c hsv) encode() string {
	b, _ := json.Marshal(c)
	return string(b)
}

// toFloat converts a status or host value to a number.
func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint8:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func floor(f float64) int {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return int(math.Floor(f))
}

func clamp(v, lo, hi int) int {
	return max(lo, min(hi, v))
}
