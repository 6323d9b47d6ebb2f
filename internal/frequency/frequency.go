package frequency

import (
	"fmt"
	"strconv"
)

// Frequency is a relative frequency that may be undefined, e.g. a conditional
// rate whose condition was never observed. The zero value is undefined.
type Frequency struct {
	value   float64
	defined bool
}

// Defined wraps an observed rate.
func Defined(v float64) Frequency { return Frequency{value: v, defined: true} }

// Undefined returns the marker for an unobserved condition.
func Undefined() Frequency { return Frequency{} }

// IsDefined reports whether the frequency carries a value.
func (f Frequency) IsDefined() bool { return f.defined }

// Value returns the rate and whether it is defined.
func (f Frequency) Value() (float64, bool) { return f.value, f.defined }

// Float returns the rate, or ErrUndefinedFrequency.
func (f Frequency) Float() (float64, error) {
	if !f.defined {
		return 0, ErrUndefinedFrequency
	}
	return f.value, nil
}

// Or returns the rate, or def when undefined.
func (f Frequency) Or(def float64) float64 {
	if !f.defined {
		return def
	}
	return f.value
}

func (f Frequency) String() string {
	if !f.defined {
		return "undefined"
	}
	return strconv.FormatFloat(f.value, 'g', -1, 64)
}

// ratio builds num/den, undefined when den is zero.
func ratio(num, den int64) Frequency {
	if den == 0 {
		return Undefined()
	}
	return Defined(float64(num) / float64(den))
}

// Tensor is a square AU×AU table of frequencies.
type Tensor struct {
	aus  []string
	data []Frequency
}

// NewTensor returns a tensor of undefined entries over aus.
func NewTensor(aus []string) *Tensor {
	return &Tensor{
		aus:  append([]string(nil), aus...),
		data: make([]Frequency, len(aus)*len(aus)),
	}
}

// AUs returns the AU order.
func (t *Tensor) AUs() []string { return t.aus }

// Size returns the number of AUs.
func (t *Tensor) Size() int { return len(t.aus) }

// At returns entry (i, j).
func (t *Tensor) At(i, j int) Frequency { return t.data[i*len(t.aus)+j] }

// Set stores entry (i, j).
func (t *Tensor) Set(i, j int, f Frequency) { t.data[i*len(t.aus)+j] = f }

// Undefined lists the (i, j) positions without a value, row-major.
func (t *Tensor) Undefined() [][2]int {
	var out [][2]int
	n := len(t.aus)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if !t.At(i, j).IsDefined() {
				out = append(out, [2]int{i, j})
			}
		}
	}
	return out
}

// Rows renders the tensor as float rows, writing undefined entries as def.
func (t *Tensor) Rows(def float64) [][]float64 {
	n := len(t.aus)
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = make([]float64, n)
		for j := range rows[i] {
			rows[i][j] = t.At(i, j).Or(def)
		}
	}
	return rows
}

// Index returns the position of au, or an error when it is not part of the tensor.
func (t *Tensor) Index(au string) (int, error) {
	for k, a := range t.aus {
		if a == au {
			return k, nil
		}
	}
	return -1, fmt.Errorf("frequency: AU %q not in tensor", au)
}
