package sim

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Float is a float64 whose JSON form carries NaN and ±Inf as the strings
// "NaN", "+Inf" and "-Inf". Finite values stay JSON numbers.
type Float float64

func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsNaN(v):
		return []byte(`"NaN"`), nil
	case math.IsInf(v, 1):
		return []byte(`"+Inf"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Inf"`), nil
	}
	return json.Marshal(v)
}

func (f *Float) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("float %q: %w", s, err)
		}
		*f = Float(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = Float(v)
	return nil
}

type wireVec3 struct {
	X Float `json:"x"`
	Y Float `json:"y"`
	Z Float `json:"z"`
}

func (v Vec3) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireVec3{X: Float(v.X), Y: Float(v.Y), Z: Float(v.Z)})
}

func (v *Vec3) UnmarshalJSON(b []byte) error {
	var w wireVec3
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*v = Vec3{X: float64(w.X), Y: float64(w.Y), Z: float64(w.Z)}
	return nil
}
