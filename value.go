package gst

import (
	"bytes"
	"cmp"
	"fmt"
	"math"
	"time"
)

// Field values are plain Go values. The accepted types are bool, int8..int64,
// uint8..uint64, float32, float64, string, Fraction, IntRange, Int64Range,
// DoubleRange, FractionRange, ValueList, ValueArray, Bitmask, Date, time.Time
// (datetime), *Buffer, *Sample, *Caps, CapsFeatures and *Structure. Untyped int and
// uint are stored as int32 and uint32.

// Fraction is a rational number kept in lowest terms with a positive denominator.
type Fraction struct {
	Num int32
	Den int32
}

// NewFraction returns num/den reduced.
func NewFraction(num, den int32) Fraction {
	if den == 0 {
		panic("gst: fraction with zero denominator")
	}
	if den < 0 {
		num, den = -num, -den
	}
	g := gcd(abs64(int64(num)), int64(den))
	if g > 1 {
		num /= int32(g)
		den /= int32(g)
	}
	return Fraction{Num: num, Den: den}
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	if a == 0 {
		return 1
	}
	return a
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// Float64 returns the fraction as a float.
func (f Fraction) Float64() float64 {
	if f.Den == 0 {
		return math.Inf(1)
	}
	return float64(f.Num) / float64(f.Den)
}

// Compare orders two fractions.
func (f Fraction) Compare(o Fraction) int {
	return cmp.Compare(int64(f.Num)*int64(o.Den), int64(o.Num)*int64(f.Den))
}

// Mul multiplies two fractions, reporting overflow.
func (f Fraction) Mul(o Fraction) (Fraction, bool) {
	n := int64(f.Num) * int64(o.Num)
	d := int64(f.Den) * int64(o.Den)
	g := gcd(abs64(n), abs64(d))
	n, d = n/g, d/g
	if n > math.MaxInt32 || n < math.MinInt32 || d > math.MaxInt32 || d == 0 {
		return Fraction{}, false
	}
	return NewFraction(int32(n), int32(d)), true
}

func (f Fraction) String() string { return fmt.Sprintf("%d/%d", f.Num, f.Den) }

// IntRange is the closed range [Min, Max] of int32 values.
type IntRange struct {
	Min int32
	Max int32
}

// Int64Range is the closed range [Min, Max] of int64 values.
type Int64Range struct {
	Min int64
	Max int64
}

// DoubleRange is the closed range [Min, Max] of float64 values.
type DoubleRange struct {
	Min float64
	Max float64
}

// FractionRange is the closed range [Min, Max] of fractions.
type FractionRange struct {
	Min Fraction
	Max Fraction
}

// ValueList is an unordered set of alternatives.
type ValueList []any

// ValueArray is an ordered sequence of values.
type ValueArray []any

// Bitmask is a set of flag bits.
type Bitmask uint64

// Date is a calendar date without time.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func (d Date) String() string { return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day) }

func (d Date) compare(o Date) int {
	if c := cmp.Compare(d.Year, o.Year); c != 0 {
		return c
	}
	if c := cmp.Compare(d.Month, o.Month); c != 0 {
		return c
	}
	return cmp.Compare(d.Day, o.Day)
}

// ValueOrder is the result of CompareValues.
type ValueOrder int

const (
	ValueLessThan    ValueOrder = -1
	ValueEqual       ValueOrder = 0
	ValueGreaterThan ValueOrder = 1
	ValueUnordered   ValueOrder = 2
)

func normalizeValue(v any) any {
	switch x := v.(type) {
	case int:
		return int32(x)
	case uint:
		return uint32(x)
	case []any:
		return ValueArray(x)
	case *Caps:
		if x == nil {
			return nil
		}
	case *Structure:
		if x == nil {
			return nil
		}
	}
	return v
}

// ValueTypeName returns the serialization type name of v.
func ValueTypeName(v any) string {
	switch v.(type) {
	case bool:
		return "boolean"
	case int8:
		return "schar"
	case uint8:
		return "uchar"
	case int16:
		return "short"
	case uint16:
		return "ushort"
	case int32:
		return "int"
	case uint32:
		return "uint"
	case int64:
		return "int64"
	case uint64:
		return "uint64"
	case float32:
		return "float"
	case float64:
		return "double"
	case string:
		return "string"
	case Fraction:
		return "fraction"
	case IntRange:
		return "int-range"
	case Int64Range:
		return "int64-range"
	case DoubleRange:
		return "double-range"
	case FractionRange:
		return "fraction-range"
	case ValueList:
		return "list"
	case ValueArray:
		return "array"
	case Bitmask:
		return "bitmask"
	case Date:
		return "date"
	case time.Time:
		return "datetime"
	case *Buffer:
		return "buffer"
	case *Sample:
		return "sample"
	case *TagList:
		return "taglist"
	case *Toc:
		return "toc"
	case *Message:
		return "message"
	case *Event:
		return "event"
	case *Context:
		return "context"
	case *Caps:
		return "caps"
	case CapsFeatures:
		return "caps-features"
	case *Structure:
		return "structure"
	case nil:
		return "none"
	}
	return fmt.Sprintf("%T", v)
}

func compareOrdered[T cmp.Ordered](x T, b any) ValueOrder {
	y, ok := b.(T)
	if !ok {
		return ValueUnordered
	}
	return ValueOrder(cmp.Compare(x, y))
}

func equalOrUnordered(eq bool) ValueOrder {
	if eq {
		return ValueEqual
	}
	return ValueUnordered
}

// CompareValues orders two field values. Values of different types, and values with no
// natural order that differ, are ValueUnordered.
func CompareValues(a, b any) ValueOrder {
	switch x := a.(type) {
	case bool:
		y, ok := b.(bool)
		return equalOrUnordered(ok && x == y)
	case int8:
		return compareOrdered(x, b)
	case uint8:
		return compareOrdered(x, b)
	case int16:
		return compareOrdered(x, b)
	case uint16:
		return compareOrdered(x, b)
	case int32:
		return compareOrdered(x, b)
	case uint32:
		return compareOrdered(x, b)
	case int64:
		return compareOrdered(x, b)
	case uint64:
		return compareOrdered(x, b)
	case float32:
		return compareOrdered(x, b)
	case float64:
		return compareOrdered(x, b)
	case string:
		return compareOrdered(x, b)
	case Fraction:
		y, ok := b.(Fraction)
		if !ok {
			return ValueUnordered
		}
		return ValueOrder(x.Compare(y))
	case Date:
		y, ok := b.(Date)
		if !ok {
			return ValueUnordered
		}
		return ValueOrder(x.compare(y))
	case time.Time:
		y, ok := b.(time.Time)
		if !ok {
			return ValueUnordered
		}
		return ValueOrder(x.Compare(y))
	case Bitmask:
		y, ok := b.(Bitmask)
		return equalOrUnordered(ok && x == y)
	case IntRange:
		y, ok := b.(IntRange)
		return equalOrUnordered(ok && x == y)
	case Int64Range:
		y, ok := b.(Int64Range)
		return equalOrUnordered(ok && x == y)
	case DoubleRange:
		y, ok := b.(DoubleRange)
		return equalOrUnordered(ok && x == y)
	case FractionRange:
		y, ok := b.(FractionRange)
		return equalOrUnordered(ok && x.Min.Compare(y.Min) == 0 && x.Max.Compare(y.Max) == 0)
	case ValueList:
		y, ok := b.(ValueList)
		return equalOrUnordered(ok && listContainsAll(x, y) && listContainsAll(y, x))
	case ValueArray:
		y, ok := b.(ValueArray)
		if !ok || len(x) != len(y) {
			return ValueUnordered
		}
		for i := range x {
			if CompareValues(x[i], y[i]) != ValueEqual {
				return ValueUnordered
			}
		}
		return ValueEqual
	case *Structure:
		y, ok := b.(*Structure)
		return equalOrUnordered(ok && x.IsEqual(y))
	case *Caps:
		y, ok := b.(*Caps)
		return equalOrUnordered(ok && x.IsEqual(y))
	case CapsFeatures:
		y, ok := b.(CapsFeatures)
		return equalOrUnordered(ok && x.IsEqual(y))
	case *Buffer:
		y, ok := b.(*Buffer)
		if !ok {
			return ValueUnordered
		}
		if x == y {
			return ValueEqual
		}
		return equalOrUnordered(bytes.Equal(x.Bytes(), y.Bytes()))
	case *Sample:
		y, ok := b.(*Sample)
		return equalOrUnordered(ok && x == y)
	}
	return ValueUnordered
}

func listContainsAll(haystack, needles ValueList) bool {
	for _, n := range needles {
		found := false
		for _, h := range haystack {
			if CompareValues(h, n) == ValueEqual {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// IsFixedValue reports whether v denotes exactly one value.
func IsFixedValue(v any) bool {
	switch x := v.(type) {
	case ValueList, IntRange, Int64Range, DoubleRange, FractionRange:
		return false
	case ValueArray:
		for _, e := range x {
			if !IsFixedValue(e) {
				return false
			}
		}
	case *Structure:
		return x.IsFixed()
	}
	return true
}

// FixateValue picks one concrete value: the first alternative of a list and the lower
// bound of a range.
func FixateValue(v any) any {
	switch x := v.(type) {
	case ValueList:
		if len(x) == 0 {
			return nil
		}
		return FixateValue(x[0])
	case IntRange:
		return x.Min
	case Int64Range:
		return x.Min
	case DoubleRange:
		return x.Min
	case FractionRange:
		return x.Min
	case ValueArray:
		out := make(ValueArray, len(x))
		for i, e := range x {
			out[i] = FixateValue(e)
		}
		return out
	case *Structure:
		if x.IsFixed() {
			return x
		}
		c := x.Copy()
		c.Fixate()
		return c
	}
	return v
}

func appendFlat(out []any, v any) []any {
	if l, ok := v.(ValueList); ok {
		for _, e := range l {
			out = appendFlat(out, e)
		}
		return out
	}
	for _, e := range out {
		if CompareValues(e, v) == ValueEqual {
			return out
		}
	}
	return append(out, v)
}

func listResult(vals []any) (any, bool) {
	switch len(vals) {
	case 0:
		return nil, false
	case 1:
		return vals[0], true
	}
	return ValueList(vals), true
}

type integer interface {
	~int32 | ~int64
}

func intersectIntRanges[T integer](aMin, aMax, bMin, bMax T, mk func(lo, hi T) any) (any, bool) {
	lo, hi := max(aMin, bMin), min(aMax, bMax)
	switch {
	case lo < hi:
		return mk(lo, hi), true
	case lo == hi:
		return lo, true
	}
	return nil, false
}

func intersectFractionRanges(a, b FractionRange) (any, bool) {
	lo, hi := a.Min, a.Max
	if b.Min.Compare(lo) > 0 {
		lo = b.Min
	}
	if b.Max.Compare(hi) < 0 {
		hi = b.Max
	}
	switch c := lo.Compare(hi); {
	case c < 0:
		return FractionRange{Min: lo, Max: hi}, true
	case c == 0:
		return lo, true
	}
	return nil, false
}

func fractionInRange(f Fraction, r FractionRange) bool {
	return f.Compare(r.Min) >= 0 && f.Compare(r.Max) <= 0
}

// IntersectValues returns the values contained in both a and b. The boolean is false
// when the intersection is empty.
func IntersectValues(a, b any) (any, bool) {
	if CompareValues(a, b) == ValueEqual {
		return a, true
	}
	if l, ok := a.(ValueList); ok {
		return intersectList(l, b)
	}
	if l, ok := b.(ValueList); ok {
		return intersectList(l, a)
	}
	switch x := a.(type) {
	case int32:
		if r, ok := b.(IntRange); ok && x >= r.Min && x <= r.Max {
			return x, true
		}
	case int64:
		if r, ok := b.(Int64Range); ok && x >= r.Min && x <= r.Max {
			return x, true
		}
	case float64:
		if r, ok := b.(DoubleRange); ok && x >= r.Min && x <= r.Max {
			return x, true
		}
	case Fraction:
		if r, ok := b.(FractionRange); ok && fractionInRange(x, r) {
			return x, true
		}
	case IntRange:
		switch y := b.(type) {
		case int32:
			return IntersectValues(y, x)
		case IntRange:
			return intersectIntRanges(x.Min, x.Max, y.Min, y.Max, func(lo, hi int32) any { return IntRange{lo, hi} })
		}
	case Int64Range:
		switch y := b.(type) {
		case int64:
			return IntersectValues(y, x)
		case Int64Range:
			return intersectIntRanges(x.Min, x.Max, y.Min, y.Max, func(lo, hi int64) any { return Int64Range{lo, hi} })
		}
	case DoubleRange:
		switch y := b.(type) {
		case float64:
			return IntersectValues(y, x)
		case DoubleRange:
			lo, hi := max(x.Min, y.Min), min(x.Max, y.Max)
			switch {
			case lo < hi:
				return DoubleRange{lo, hi}, true
			case lo == hi:
				return lo, true
			}
		}
	case FractionRange:
		switch y := b.(type) {
		case Fraction:
			return IntersectValues(y, x)
		case FractionRange:
			return intersectFractionRanges(x, y)
		}
	case ValueArray:
		y, ok := b.(ValueArray)
		if !ok || len(x) != len(y) {
			return nil, false
		}
		out := make(ValueArray, len(x))
		for i := range x {
			v, ok := IntersectValues(x[i], y[i])
			if !ok {
				return nil, false
			}
			out[i] = v
		}
		return out, true
	case Bitmask:
		if y, ok := b.(Bitmask); ok && x&y != 0 {
			return x & y, true
		}
	case *Structure:
		if y, ok := b.(*Structure); ok {
			return x.Intersect(y)
		}
	}
	return nil, false
}

func intersectList(l ValueList, other any) (any, bool) {
	var out []any
	for _, e := range l {
		if v, ok := IntersectValues(e, other); ok {
			out = appendFlat(out, v)
		}
	}
	return listResult(out)
}

func subtractIntRange[T integer](lo, hi, sLo, sHi T, mk func(lo, hi T) any) (any, bool) {
	if sHi < lo || sLo > hi {
		return mk(lo, hi), true
	}
	var out []any
	piece := func(a, b T) {
		switch {
		case a < b:
			out = append(out, mk(a, b))
		case a == b:
			out = append(out, a)
		}
	}
	if sLo > lo {
		piece(lo, sLo-1)
	}
	if sHi < hi {
		piece(sHi+1, hi)
	}
	return listResult(out)
}

func subtractDoubleRange(lo, hi, sLo, sHi float64) (any, bool) {
	if sHi < lo || sLo > hi {
		return DoubleRange{lo, hi}, true
	}
	var out []any
	if sLo > lo {
		out = append(out, DoubleRange{lo, sLo})
	}
	if sHi < hi {
		out = append(out, DoubleRange{sHi, hi})
	}
	return listResult(out)
}

func subtractFractionRange(r FractionRange, sLo, sHi Fraction) (any, bool) {
	if sHi.Compare(r.Min) < 0 || sLo.Compare(r.Max) > 0 {
		return r, true
	}
	var out []any
	if sLo.Compare(r.Min) > 0 {
		out = append(out, FractionRange{r.Min, sLo})
	}
	if sHi.Compare(r.Max) < 0 {
		out = append(out, FractionRange{sHi, r.Max})
	}
	return listResult(out)
}

// SubtractValues returns the values of minuend not contained in subtrahend. The
// boolean is false when nothing remains.
func SubtractValues(minuend, subtrahend any) (any, bool) {
	if l, ok := minuend.(ValueList); ok {
		var out []any
		for _, e := range l {
			if v, ok := SubtractValues(e, subtrahend); ok {
				out = appendFlat(out, v)
			}
		}
		return listResult(out)
	}
	if l, ok := subtrahend.(ValueList); ok {
		cur := minuend
		for _, e := range l {
			v, ok := SubtractValues(cur, e)
			if !ok {
				return nil, false
			}
			cur = v
		}
		return cur, true
	}
	switch x := minuend.(type) {
	case int32:
		if r, ok := subtrahend.(IntRange); ok {
			if x >= r.Min && x <= r.Max {
				return nil, false
			}
			return x, true
		}
	case int64:
		if r, ok := subtrahend.(Int64Range); ok {
			if x >= r.Min && x <= r.Max {
				return nil, false
			}
			return x, true
		}
	case float64:
		if r, ok := subtrahend.(DoubleRange); ok {
			if x >= r.Min && x <= r.Max {
				return nil, false
			}
			return x, true
		}
	case Fraction:
		if r, ok := subtrahend.(FractionRange); ok {
			if fractionInRange(x, r) {
				return nil, false
			}
			return x, true
		}
	case IntRange:
		mk := func(lo, hi int32) any { return IntRange{lo, hi} }
		switch y := subtrahend.(type) {
		case int32:
			return subtractIntRange(x.Min, x.Max, y, y, mk)
		case IntRange:
			return subtractIntRange(x.Min, x.Max, y.Min, y.Max, mk)
		}
	case Int64Range:
		mk := func(lo, hi int64) any { return Int64Range{lo, hi} }
		switch y := subtrahend.(type) {
		case int64:
			return subtractIntRange(x.Min, x.Max, y, y, mk)
		case Int64Range:
			return subtractIntRange(x.Min, x.Max, y.Min, y.Max, mk)
		}
	case DoubleRange:
		switch y := subtrahend.(type) {
		case float64:
			// a closed range cannot exclude a single point
			return x, true
		case DoubleRange:
			return subtractDoubleRange(x.Min, x.Max, y.Min, y.Max)
		}
	case FractionRange:
		switch y := subtrahend.(type) {
		case Fraction:
			return x, true
		case FractionRange:
			return subtractFractionRange(x, y.Min, y.Max)
		}
	}
	if CompareValues(minuend, subtrahend) == ValueEqual {
		return nil, false
	}
	return minuend, true
}

// IsSubsetValue reports whether every value of a is contained in b.
func IsSubsetValue(a, b any) bool {
	_, remains := SubtractValues(a, b)
	return !remains
}

// UnionValues returns a value covering both a and b.
func UnionValues(a, b any) any {
	if CompareValues(a, b) == ValueEqual {
		return a
	}
	switch x := a.(type) {
	case int32:
		switch y := b.(type) {
		case IntRange:
			if x >= y.Min-1 && x <= y.Max+1 {
				return IntRange{min(x, y.Min), max(x, y.Max)}
			}
		case int32:
			if x == y+1 || y == x+1 {
				return IntRange{min(x, y), max(x, y)}
			}
		}
	case IntRange:
		switch y := b.(type) {
		case int32:
			return UnionValues(y, x)
		case IntRange:
			if y.Min <= x.Max+1 && x.Min <= y.Max+1 {
				return IntRange{min(x.Min, y.Min), max(x.Max, y.Max)}
			}
		}
	case DoubleRange:
		if y, ok := b.(DoubleRange); ok && y.Min <= x.Max && x.Min <= y.Max {
			return DoubleRange{min(x.Min, y.Min), max(x.Max, y.Max)}
		}
	}
	out := appendFlat(nil, a)
	out = appendFlat(out, b)
	v, _ := listResult(out)
	return v
}

// copyValue returns a deep copy of containers and structures; refcounted values get a
// new reference.
func copyValue(v any) any {
	switch x := v.(type) {
	case ValueList:
		out := make(ValueList, len(x))
		for i, e := range x {
			out[i] = copyValue(e)
		}
		return out
	case ValueArray:
		out := make(ValueArray, len(x))
		for i, e := range x {
			out[i] = copyValue(e)
		}
		return out
	case *Structure:
		return x.Copy()
	case *Caps:
		return x.Ref()
	case *Buffer:
		return x.Ref()
	case *Sample:
		return x.Ref()
	case *TagList:
		return x.Ref()
	case *Toc:
		return x.Ref()
	case *Message:
		return x.Ref()
	case *Event:
		return x.Ref()
	case *Context:
		return x.Ref()
	case CapsFeatures:
		return x.Copy()
	}
	return v
}

// releaseValue drops references held by v.
func releaseValue(v any) {
	switch x := v.(type) {
	case ValueList:
		for _, e := range x {
			releaseValue(e)
		}
	case ValueArray:
		for _, e := range x {
			releaseValue(e)
		}
	case *Structure:
		x.release()
	case *Caps:
		x.Unref()
	case *Buffer:
		x.Unref()
	case *Sample:
		x.Unref()
	case *TagList:
		x.Unref()
	case *Toc:
		x.Unref()
	case *Message:
		x.Unref()
	case *Event:
		x.Unref()
	case *Context:
		x.Unref()
	}
}
