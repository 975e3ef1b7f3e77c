package ledger

import (
	"fmt"
	"math/big"
)

// Ratio is an exact fraction. It is written as "n/d" text and read from
// text, integer or float TOML values.
type Ratio struct {
	rat *big.Rat
}

// NewRatio returns num/den. It panics if den is zero.
func NewRatio(num, den int64) Ratio {
	return Ratio{rat: big.NewRat(num, den)}
}

// ParseRatio parses "1/3", "0.5" or "2".
func ParseRatio(s string) (Ratio, error) {
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return Ratio{}, fmt.Errorf("invalid ratio %q", s)
	}
	return Ratio{rat: r}, nil
}

// Rat returns a copy of the underlying rational. The zero Ratio is 0.
func (r Ratio) Rat() *big.Rat {
	if r.rat == nil {
		return new(big.Rat)
	}
	return new(big.Rat).Set(r.rat)
}

// Float64 returns the nearest float64 value.
func (r Ratio) Float64() float64 {
	f, _ := r.Rat().Float64()
	return f
}

// Sign returns -1, 0 or +1.
func (r Ratio) Sign() int {
	return r.Rat().Sign()
}

func (r Ratio) String() string {
	return r.Rat().RatString()
}

// MarshalText writes the ratio as "n/d" (or "n" for integers).
func (r Ratio) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText parses the ratio from text.
func (r *Ratio) UnmarshalText(text []byte) error {
	parsed, err := ParseRatio(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// UnmarshalTOML accepts strings, integers and floats.
func (r *Ratio) UnmarshalTOML(v interface{}) error {
	switch val := v.(type) {
	case string:
		return r.UnmarshalText([]byte(val))
	case int64:
		r.rat = new(big.Rat).SetInt64(val)
		return nil
	case float64:
		rat := new(big.Rat)
		if rat.SetFloat64(val) == nil {
			return fmt.Errorf("invalid ratio %v", val)
		}
		r.rat = rat
		return nil
	default:
		return fmt.Errorf("invalid ratio type %T", v)
	}
}
