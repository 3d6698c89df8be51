package axis

import (
	"encoding/json"
	"math"
)

type wireTensor struct {
	Axes []Axis     `json:"axes"`
	Data []*float64 `json:"data"`
}

// MarshalJSON writes NaN and infinities as null so results with missing
// cells stay valid JSON.
func (t *Tensor) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireTensor{Axes: t.axes, Data: nullable(t.data)})
}

func (t *Tensor) UnmarshalJSON(b []byte) error {
	var w wireTensor
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	built, err := build(w.Axes, fromNullable(w.Data))
	if err != nil {
		return err
	}
	*t = *built
	return nil
}

// Coords is a coordinate grid that may hold NaN, such as the sigma grid
// of a model without an exposed compartment.
type Coords []float64

func (c Coords) MarshalJSON() ([]byte, error) {
	return json.Marshal(nullable(c))
}

func (c *Coords) UnmarshalJSON(b []byte) error {
	var raw []*float64
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*c = fromNullable(raw)
	return nil
}

func nullable(data []float64) []*float64 {
	out := make([]*float64, len(data))
	for i := range data {
		v := data[i]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out[i] = &v
	}
	return out
}

func fromNullable(raw []*float64) []float64 {
	out := make([]float64, len(raw))
	for i, v := range raw {
		if v == nil {
			out[i] = math.NaN()
			continue
		}
		out[i] = *v
	}
	return out
}
