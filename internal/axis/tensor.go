// Package axis provides a dense float64 tensor whose dimensions are
// addressed by name. Operations align their inputs by axis name and
// broadcast axes that an input lacks.
package axis

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Common axis names.
const (
	Sample    = "sample"
	T         = "t"
	Policy    = "policy"
	Gamma     = "gamma"
	Sigma     = "sigma"
	LHS       = "lhs"
	Regressor = "regressor"
)

var (
	ErrAxisMismatch = errors.New("axis size mismatch")
	ErrUnknownAxis  = errors.New("unknown axis")
	ErrDuplicate    = errors.New("duplicate axis")
)

type Axis struct {
	Name string `json:"name"`
	Size int    `json:"size"`
}

type Tensor struct {
	axes    []Axis
	strides []int
	data    []float64
}

// New allocates a zero tensor with the given axes in row-major order.
func New(axes ...Axis) *Tensor {
	t, err := build(axes, nil)
	if err != nil {
		panic(err)
	}
	return t
}

// Full allocates a tensor filled with v.
func Full(v float64, axes ...Axis) *Tensor {
	t := New(axes...)
	for i := range t.data {
		t.data[i] = v
	}
	return t
}

// Vector is a one-axis tensor holding a copy of values.
func Vector(name string, values []float64) *Tensor {
	t := New(Axis{Name: name, Size: len(values)})
	copy(t.data, values)
	return t
}

func build(axes []Axis, data []float64) (*Tensor, error) {
	seen := make(map[string]bool, len(axes))
	size := 1
	for _, a := range axes {
		if a.Name == "" {
			return nil, fmt.Errorf("%w: empty name", ErrUnknownAxis)
		}
		if seen[a.Name] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicate, a.Name)
		}
		if a.Size < 0 {
			return nil, fmt.Errorf("%w: %s has negative size", ErrAxisMismatch, a.Name)
		}
		seen[a.Name] = true
		size *= a.Size
	}
	if data == nil {
		data = make([]float64, size)
	} else if len(data) != size {
		return nil, fmt.Errorf("%w: %d values for shape %s", ErrAxisMismatch, len(data), describe(axes))
	}
	t := &Tensor{
		axes:    append([]Axis(nil), axes...),
		strides: make([]int, len(axes)),
		data:    data,
	}
	stride := 1
	for i := len(axes) - 1; i >= 0; i-- {
		t.strides[i] = stride
		stride *= axes[i].Size
	}
	return t, nil
}

func (t *Tensor) Axes() []Axis { return append([]Axis(nil), t.axes...) }

func (t *Tensor) Rank() int { return len(t.axes) }

func (t *Tensor) Len() int { return len(t.data) }

// Data exposes the backing slice in row-major order of Axes.
func (t *Tensor) Data() []float64 { return t.data }

func (t *Tensor) Names() []string {
	out := make([]string, len(t.axes))
	for i, a := range t.axes {
		out[i] = a.Name
	}
	return out
}

// Index returns the position of the named axis or -1.
func (t *Tensor) Index(name string) int {
	for i, a := range t.axes {
		if a.Name == name {
			return i
		}
	}
	return -1
}

func (t *Tensor) Has(name string) bool { return t.Index(name) >= 0 }

// Size returns the length of the named axis, or 0 when absent.
func (t *Tensor) Size(name string) int {
	if i := t.Index(name); i >= 0 {
		return t.axes[i].Size
	}
	return 0
}

func (t *Tensor) Stride(name string) int {
	if i := t.Index(name); i >= 0 {
		return t.strides[i]
	}
	return 0
}

func (t *Tensor) offset(idx []int) int {
	if len(idx) != len(t.axes) {
		panic(fmt.Sprintf("axis: %d indices for rank %d", len(idx), len(t.axes)))
	}
	off := 0
	for i, v := range idx {
		if v < 0 || v >= t.axes[i].Size {
			panic(fmt.Sprintf("axis: index %d out of range for %s[%d]", v, t.axes[i].Name, t.axes[i].Size))
		}
		off += v * t.strides[i]
	}
	return off
}

// At reads by positional indices in the order of Axes.
func (t *Tensor) At(idx ...int) float64 { return t.data[t.offset(idx)] }

func (t *Tensor) Set(v float64, idx ...int) { t.data[t.offset(idx)] = v }

// Get reads using a name->index map; axes missing from the map default to 0.
func (t *Tensor) Get(idx map[string]int) float64 {
	off := 0
	for i, a := range t.axes {
		off += idx[a.Name] * t.strides[i]
	}
	return t.data[off]
}

func (t *Tensor) Clone() *Tensor {
	out := New(t.axes...)
	copy(out.data, t.data)
	return out
}

// Transpose returns a copy with axes reordered to names. Every axis must
// be named exactly once.
func (t *Tensor) Transpose(names ...string) (*Tensor, error) {
	if len(names) != len(t.axes) {
		return nil, fmt.Errorf("%w: transpose %v of %s", ErrAxisMismatch, names, describe(t.axes))
	}
	axes := make([]Axis, len(names))
	for i, n := range names {
		j := t.Index(n)
		if j < 0 {
			return nil, fmt.Errorf("%w: %s", ErrUnknownAxis, n)
		}
		axes[i] = t.axes[j]
	}
	return t.BroadcastTo(axes...)
}

// BroadcastTo materializes t over axes. Axes of t must all appear in the
// target with equal size; target axes t lacks are repeated.
func (t *Tensor) BroadcastTo(axes ...Axis) (*Tensor, error) {
	out, err := build(axes, nil)
	if err != nil {
		return nil, err
	}
	src, err := t.stridesFor(out.axes)
	if err != nil {
		return nil, err
	}
	walk(out.axes, [][]int{src}, func(flat int, offs []int) {
		out.data[flat] = t.data[offs[0]]
	})
	return out, nil
}

// stridesFor maps the target axes onto t's strides, zero for axes t lacks.
func (t *Tensor) stridesFor(target []Axis) ([]int, error) {
	strides := make([]int, len(target))
	matched := 0
	for i, a := range target {
		j := t.Index(a.Name)
		if j < 0 {
			continue
		}
		if t.axes[j].Size != a.Size {
			return nil, fmt.Errorf("%w: %s is %d, want %d", ErrAxisMismatch, a.Name, t.axes[j].Size, a.Size)
		}
		strides[i] = t.strides[j]
		matched++
	}
	if matched != len(t.axes) {
		return nil, fmt.Errorf("%w: %s not contained in %s", ErrUnknownAxis, describe(t.axes), describe(target))
	}
	return strides, nil
}

// Union merges the axes of ins in first-seen order, checking sizes.
func Union(ins ...*Tensor) ([]Axis, error) {
	var out []Axis
	pos := make(map[string]int)
	for _, in := range ins {
		for _, a := range in.axes {
			if j, ok := pos[a.Name]; ok {
				if out[j].Size != a.Size {
					return nil, fmt.Errorf("%w: %s is %d and %d", ErrAxisMismatch, a.Name, out[j].Size, a.Size)
				}
				continue
			}
			pos[a.Name] = len(out)
			out = append(out, a)
		}
	}
	return out, nil
}

// Map evaluates fn elementwise over the name-aligned broadcast of ins.
// The result carries the union of input axes in first-seen order.
func Map(fn func(v []float64) float64, ins ...*Tensor) (*Tensor, error) {
	axes, err := Union(ins...)
	if err != nil {
		return nil, err
	}
	return MapTo(axes, fn, ins...)
}

// MapTo is Map with an explicit output layout.
func MapTo(axes []Axis, fn func(v []float64) float64, ins ...*Tensor) (*Tensor, error) {
	out, err := build(axes, nil)
	if err != nil {
		return nil, err
	}
	strides := make([][]int, len(ins))
	for i, in := range ins {
		s, err := in.stridesFor(out.axes)
		if err != nil {
			return nil, err
		}
		strides[i] = s
	}
	vals := make([]float64, len(ins))
	walk(out.axes, strides, func(flat int, offs []int) {
		for i, in := range ins {
			vals[i] = in.data[offs[i]]
		}
		out.data[flat] = fn(vals)
	})
	return out, nil
}

// walk visits every element of axes in row-major order, tracking the
// corresponding flat offset into each input via its strides.
func walk(axes []Axis, strides [][]int, visit func(flat int, offs []int)) {
	total := 1
	for _, a := range axes {
		total *= a.Size
	}
	if total == 0 {
		return
	}
	idx := make([]int, len(axes))
	offs := make([]int, len(strides))
	for flat := 0; flat < total; flat++ {
		visit(flat, offs)
		for d := len(axes) - 1; d >= 0; d-- {
			idx[d]++
			for k := range offs {
				offs[k] += strides[k][d]
			}
			if idx[d] < axes[d].Size {
				break
			}
			for k := range offs {
				offs[k] -= strides[k][d] * axes[d].Size
			}
			idx[d] = 0
		}
	}
}

// Select drops the named axis by fixing it at index i.
func (t *Tensor) Select(name string, i int) (*Tensor, error) {
	j := t.Index(name)
	if j < 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAxis, name)
	}
	return t.Slice(name, i, i+1, 1, true)
}

// Slice keeps indices start, start+step, ... < end along name. When drop
// is set and exactly one index remains the axis is removed.
func (t *Tensor) Slice(name string, start, end, step int, drop bool) (*Tensor, error) {
	j := t.Index(name)
	if j < 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAxis, name)
	}
	if step <= 0 || start < 0 || end > t.axes[j].Size || start > end {
		return nil, fmt.Errorf("%w: slice %s[%d:%d:%d] of %d", ErrAxisMismatch, name, start, end, step, t.axes[j].Size)
	}
	n := 0
	if end > start {
		n = (end - start + step - 1) / step
	}
	axes := append([]Axis(nil), t.axes...)
	axes[j].Size = n
	src := append([]int(nil), t.strides...)
	src[j] *= step
	base := start * t.strides[j]

	out := New(axes...)
	walk(axes, [][]int{src}, func(flat int, offs []int) {
		out.data[flat] = t.data[base+offs[0]]
	})
	if drop && n == 1 {
		out.axes = append(out.axes[:j:j], out.axes[j+1:]...)
		out.strides = append(out.strides[:j:j], out.strides[j+1:]...)
	}
	return out, nil
}

// Reduce collapses the named axis with fn applied to each lane.
func (t *Tensor) Reduce(name string, fn func(lane []float64) float64) (*Tensor, error) {
	j := t.Index(name)
	if j < 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAxis, name)
	}
	axes := append(append([]Axis(nil), t.axes[:j]...), t.axes[j+1:]...)
	out := New(axes...)
	src := append(append([]int(nil), t.strides[:j]...), t.strides[j+1:]...)
	n, stride := t.axes[j].Size, t.strides[j]
	lane := make([]float64, n)
	walk(axes, [][]int{src}, func(flat int, offs []int) {
		for k := 0; k < n; k++ {
			lane[k] = t.data[offs[0]+k*stride]
		}
		out.data[flat] = fn(lane)
	})
	return out, nil
}

// Stack concatenates equally shaped tensors along a new leading axis.
func Stack(name string, parts ...*Tensor) (*Tensor, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: nothing to stack", ErrAxisMismatch)
	}
	inner := parts[0].axes
	axes := append([]Axis{{Name: name, Size: len(parts)}}, inner...)
	out, err := build(axes, nil)
	if err != nil {
		return nil, err
	}
	block := parts[0].Len()
	for i, p := range parts {
		aligned, err := p.Transpose(parts[0].Names()...)
		if err != nil {
			return nil, err
		}
		for j, a := range aligned.axes {
			if a.Size != inner[j].Size {
				return nil, fmt.Errorf("%w: stacking %s onto %s", ErrAxisMismatch, p, parts[0])
			}
		}
		copy(out.data[i*block:(i+1)*block], aligned.data)
	}
	return out, nil
}

// Count returns the number of elements satisfying pred.
func (t *Tensor) Count(pred func(float64) bool) int {
	n := 0
	for _, v := range t.data {
		if pred(v) {
			n++
		}
	}
	return n
}

// Range returns the finite minimum and maximum, ignoring NaN.
func (t *Tensor) Range() (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range t.data {
		if math.IsNaN(v) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

func (t *Tensor) String() string {
	return "Tensor" + describe(t.axes)
}

func describe(axes []Axis) string {
	parts := make([]string, len(axes))
	for i, a := range axes {
		parts[i] = fmt.Sprintf("%s:%d", a.Name, a.Size)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
