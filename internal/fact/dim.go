package fact

import (
	"fmt"
	"strconv"
)

// Dim is one axis of a shape fact. The implementations are Fixed, Symbol
// and Affine; the set is closed.
type Dim interface {
	fmt.Stringer
	// Eval returns the concrete extent under bindings, or false when a symbol
	// it depends on is unbound.
	Eval(bindings map[rune]int64) (int64, bool)
	isDim()
}

// Fixed is a known extent.
type Fixed int64

// Symbol is a named unknown extent, identified by a single character.
type Symbol rune

// Affine is Slope*Symbol + Intercept.
type Affine struct {
	Symbol    Symbol
	Slope     int64
	Intercept int64
}

func (Fixed) isDim()  {}
func (Symbol) isDim() {}
func (Affine) isDim() {}

func (d Fixed) String() string { return strconv.FormatInt(int64(d), 10) }

func (d Symbol) String() string { return string(rune(d)) }

func (d Affine) String() string {
	var s string
	switch d.Slope {
	case 0:
		return strconv.FormatInt(d.Intercept, 10)
	case 1:
		s = d.Symbol.String()
	case -1:
		s = "-" + d.Symbol.String()
	default:
		s = strconv.FormatInt(d.Slope, 10) + d.Symbol.String()
	}
	switch {
	case d.Intercept > 0:
		s += "+" + strconv.FormatInt(d.Intercept, 10)
	case d.Intercept < 0:
		s += strconv.FormatInt(d.Intercept, 10)
	}
	return s
}

func (d Fixed) Eval(map[rune]int64) (int64, bool) { return int64(d), true }

func (d Symbol) Eval(bindings map[rune]int64) (int64, bool) {
	v, ok := bindings[rune(d)]
	return v, ok
}

func (d Affine) Eval(bindings map[rune]int64) (int64, bool) {
	v, ok := bindings[rune(d.Symbol)]
	if !ok {
		return 0, false
	}
	return d.Slope*v + d.Intercept, true
}

// IsSymbolic reports whether d depends on a symbol.
func IsSymbolic(d Dim) bool {
	_, fixed := d.(Fixed)
	return !fixed
}

// Bind checks extent against d, recording the value of d's symbol in
// bindings when it is not yet known.
func Bind(d Dim, extent int64, bindings map[rune]int64) error {
	switch d := d.(type) {
	case Fixed:
		if int64(d) != extent {
			return fmt.Errorf("expected %d, got %d", int64(d), extent)
		}
		return nil
	case Symbol:
		return bindSymbol(rune(d), extent, bindings, d.String())
	case Affine:
		if d.Slope == 0 {
			if d.Intercept != extent {
				return fmt.Errorf("expected %d, got %d", d.Intercept, extent)
			}
			return nil
		}
		rest := extent - d.Intercept
		if rest%d.Slope != 0 {
			return fmt.Errorf("%d does not satisfy %s", extent, d)
		}
		return bindSymbol(rune(d.Symbol), rest/d.Slope, bindings, d.String())
	default:
		return fmt.Errorf("unknown dimension %T", d)
	}
}

func bindSymbol(sym rune, value int64, bindings map[rune]int64, expr string) error {
	if value < 0 {
		return fmt.Errorf("%s would bind %c to negative %d", expr, sym, value)
	}
	if prev, ok := bindings[sym]; ok {
		if prev != value {
			return fmt.Errorf("%s: %c already bound to %d, got %d", expr, sym, prev, value)
		}
		return nil
	}
	bindings[sym] = value
	return nil
}
