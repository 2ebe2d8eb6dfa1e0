package spreadsheet

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// Clock interface provides time functionality for testing
type Clock interface {
	Now() time.Time
}

// WallClock is the default implementation using system time
type WallClock struct{}

func (w *WallClock) Now() time.Time {
	return time.Now()
}

// Function describes one registered spreadsheet function. MaxArgs of -1
// means variadic. Lazy functions receive unevaluated argument nodes so
// they control which branches compute (IF never evaluates the untaken
// branch).
type Function struct {
	Name     string
	MinArgs  int
	MaxArgs  int
	Lazy     bool
	Volatile bool
	Eval     func(ctx *evalContext, args []Primitive) Primitive
	EvalLazy func(ctx *evalContext, args []Node) Primitive
}

// Registry holds built-in and registered functions keyed by upper-case
// name for constant-time dispatch.
type Registry struct {
	funcs map[string]*Function
	clock Clock
}

// NewRegistry creates a registry with every built-in registered and the
// given clock driving the date functions.
func NewRegistry(clock Clock) *Registry {
	r := &Registry{
		funcs: make(map[string]*Function),
		clock: clock,
	}
	r.registerBuiltins()
	return r
}

// Register adds or replaces a function definition.
func (r *Registry) Register(fn *Function) error {
	if fn == nil || fn.Name == "" {
		return NewApplicationError(InvalidArgument, "function needs a name")
	}
	if fn.Lazy && fn.EvalLazy == nil || !fn.Lazy && fn.Eval == nil {
		return NewApplicationError(InvalidArgument, fmt.Sprintf("function %s has no evaluator", fn.Name))
	}
	r.funcs[strings.ToUpper(fn.Name)] = fn
	return nil
}

// Lookup finds a function by name, case-insensitive.
func (r *Registry) Lookup(name string) (*Function, bool) {
	fn, ok := r.funcs[strings.ToUpper(name)]
	return fn, ok
}

// eachScalar feeds every scalar in args to fn, expanding range values
// in row-major order. the first error value encountered is returned and
// iteration stops; fn returning false also stops iteration.
func eachScalar(args []Primitive, fn func(Primitive) bool) *CellError {
	for _, arg := range args {
		if rv, ok := arg.(*RangeValue); ok {
			for v := range rv.Values() {
				if cellErr, ok := v.(*CellError); ok {
					return cellErr
				}
				if !fn(v) {
					return nil
				}
			}
			continue
		}
		if cellErr, ok := arg.(*CellError); ok {
			return cellErr
		}
		if !fn(arg) {
			return nil
		}
	}
	return nil
}

// collectNumbers gathers the numeric values from args. cells inside
// ranges contribute only strictly numeric values; direct scalar
// arguments coerce (so SUM("5", A1:A3) still counts the "5").
func collectNumbers(args []Primitive) ([]float64, *CellError) {
	out := make([]float64, 0, 16)
	for _, arg := range args {
		if rv, ok := arg.(*RangeValue); ok {
			for v := range rv.Values() {
				if cellErr, ok := v.(*CellError); ok {
					return nil, cellErr
				}
				if f, ok := strictNumber(v); ok {
					out = append(out, f)
				}
			}
			continue
		}
		if cellErr, ok := arg.(*CellError); ok {
			return nil, cellErr
		}
		if arg == nil {
			continue
		}
		out = append(out, coerceNumber(arg))
	}
	return out, nil
}

func (r *Registry) registerBuiltins() {
	register := func(fn *Function) {
		r.funcs[fn.Name] = fn
	}

	// aggregates

	register(&Function{Name: "SUM", MinArgs: 1, MaxArgs: -1, Eval: fnSum})
	register(&Function{Name: "AVERAGE", MinArgs: 1, MaxArgs: -1, Eval: fnAverage})
	register(&Function{Name: "COUNT", MinArgs: 1, MaxArgs: -1, Eval: fnCount})
	register(&Function{Name: "COUNTA", MinArgs: 1, MaxArgs: -1, Eval: fnCountA})
	register(&Function{Name: "MIN", MinArgs: 1, MaxArgs: -1, Eval: fnMin})
	register(&Function{Name: "MAX", MinArgs: 1, MaxArgs: -1, Eval: fnMax})
	register(&Function{Name: "MEDIAN", MinArgs: 1, MaxArgs: -1, Eval: fnMedian})
	register(&Function{Name: "STDEV", MinArgs: 1, MaxArgs: -1, Eval: fnStdev})

	// logical

	register(&Function{Name: "IF", MinArgs: 2, MaxArgs: 3, Lazy: true, EvalLazy: fnIf})
	register(&Function{Name: "AND", MinArgs: 1, MaxArgs: -1, Eval: fnAnd})
	register(&Function{Name: "OR", MinArgs: 1, MaxArgs: -1, Eval: fnOr})
	register(&Function{Name: "NOT", MinArgs: 1, MaxArgs: 1, Eval: fnNot})

	// text

	register(&Function{Name: "CONCATENATE", MinArgs: 1, MaxArgs: -1, Eval: fnConcatenate})
	register(&Function{Name: "LEFT", MinArgs: 1, MaxArgs: 2, Eval: fnLeft})
	register(&Function{Name: "RIGHT", MinArgs: 1, MaxArgs: 2, Eval: fnRight})
	register(&Function{Name: "MID", MinArgs: 3, MaxArgs: 3, Eval: fnMid})
	register(&Function{Name: "LEN", MinArgs: 1, MaxArgs: 1, Eval: fnLen})
	register(&Function{Name: "UPPER", MinArgs: 1, MaxArgs: 1, Eval: fnUpper})
	register(&Function{Name: "LOWER", MinArgs: 1, MaxArgs: 1, Eval: fnLower})
	register(&Function{Name: "TRIM", MinArgs: 1, MaxArgs: 1, Eval: fnTrim})

	// date and time

	register(&Function{Name: "TODAY", MinArgs: 0, MaxArgs: 0, Volatile: true, Eval: r.fnToday})
	register(&Function{Name: "NOW", MinArgs: 0, MaxArgs: 0, Volatile: true, Eval: r.fnNow})
	register(&Function{Name: "YEAR", MinArgs: 0, MaxArgs: 1, Eval: r.fnYear})
	register(&Function{Name: "MONTH", MinArgs: 0, MaxArgs: 1, Eval: r.fnMonth})
	register(&Function{Name: "DAY", MinArgs: 0, MaxArgs: 1, Eval: r.fnDay})

	// lookup

	register(&Function{Name: "VLOOKUP", MinArgs: 3, MaxArgs: 4, Eval: fnVlookup})
	register(&Function{Name: "HLOOKUP", MinArgs: 3, MaxArgs: 4, Eval: fnHlookup})
	register(&Function{Name: "INDEX", MinArgs: 2, MaxArgs: 3, Eval: fnIndex})
	register(&Function{Name: "MATCH", MinArgs: 2, MaxArgs: 3, Eval: fnMatch})

	// math

	register(&Function{Name: "ABS", MinArgs: 1, MaxArgs: 1, Eval: fnAbs})
	register(&Function{Name: "ROUND", MinArgs: 1, MaxArgs: 2, Eval: fnRound})
	register(&Function{Name: "MOD", MinArgs: 2, MaxArgs: 2, Eval: fnMod})
	register(&Function{Name: "SQRT", MinArgs: 1, MaxArgs: 1, Eval: fnSqrt})
	register(&Function{Name: "POWER", MinArgs: 2, MaxArgs: 2, Eval: fnPower})
	register(&Function{Name: "PI", MinArgs: 0, MaxArgs: 0, Eval: fnPi})
}

func fnSum(ctx *evalContext, args []Primitive) Primitive {
	nums, cellErr := collectNumbers(args)
	if cellErr != nil {
		return cellErr
	}
	sum := 0.0
	for _, f := range nums {
		sum += f
	}
	return sum
}

func fnAverage(ctx *evalContext, args []Primitive) Primitive {
	nums, cellErr := collectNumbers(args)
	if cellErr != nil {
		return cellErr
	}
	if len(nums) == 0 {
		return 0.0
	}
	sum := 0.0
	for _, f := range nums {
		sum += f
	}
	return sum / float64(len(nums))
}

func fnCount(ctx *evalContext, args []Primitive) Primitive {
	count := 0.0
	cellErr := eachScalar(args, func(v Primitive) bool {
		if _, ok := strictNumber(v); ok {
			count++
		}
		return true
	})
	if cellErr != nil {
		return cellErr
	}
	return count
}

func fnCountA(ctx *evalContext, args []Primitive) Primitive {
	count := 0.0
	cellErr := eachScalar(args, func(v Primitive) bool {
		if v != nil {
			count++
		}
		return true
	})
	if cellErr != nil {
		return cellErr
	}
	return count
}

func fnMin(ctx *evalContext, args []Primitive) Primitive {
	nums, cellErr := collectNumbers(args)
	if cellErr != nil {
		return cellErr
	}
	if len(nums) == 0 {
		return 0.0
	}
	min := nums[0]
	for _, f := range nums[1:] {
		if f < min {
			min = f
		}
	}
	return min
}

func fnMax(ctx *evalContext, args []Primitive) Primitive {
	nums, cellErr := collectNumbers(args)
	if cellErr != nil {
		return cellErr
	}
	if len(nums) == 0 {
		return 0.0
	}
	max := nums[0]
	for _, f := range nums[1:] {
		if f > max {
			max = f
		}
	}
	return max
}

func fnMedian(ctx *evalContext, args []Primitive) Primitive {
	nums, cellErr := collectNumbers(args)
	if cellErr != nil {
		return cellErr
	}
	if len(nums) == 0 {
		return 0.0
	}
	sort.Float64s(nums)
	mid := len(nums) / 2
	if len(nums)%2 == 1 {
		return nums[mid]
	}
	return (nums[mid-1] + nums[mid]) / 2
}

// fnStdev computes the sample standard deviation (n-1 divisor). fewer
// than two numeric inputs yield 0.
func fnStdev(ctx *evalContext, args []Primitive) Primitive {
	nums, cellErr := collectNumbers(args)
	if cellErr != nil {
		return cellErr
	}
	if len(nums) < 2 {
		return 0.0
	}
	mean := 0.0
	for _, f := range nums {
		mean += f
	}
	mean /= float64(len(nums))
	variance := 0.0
	for _, f := range nums {
		variance += (f - mean) * (f - mean)
	}
	variance /= float64(len(nums) - 1)
	return math.Sqrt(variance)
}

// fnIf evaluates the condition, then only the taken branch. an error in
// the untaken branch never surfaces.
func fnIf(ctx *evalContext, args []Node) Primitive {
	cond := args[0].eval(ctx)
	if cellErr, ok := cond.(*CellError); ok {
		return cellErr
	}
	if isTruthy(cond) {
		return args[1].eval(ctx)
	}
	if len(args) == 3 {
		return args[2].eval(ctx)
	}
	return false
}

func fnAnd(ctx *evalContext, args []Primitive) Primitive {
	// the full argument list is scanned even after the result is
	// decided, so an error anywhere in a range still surfaces
	result := true
	cellErr := eachScalar(args, func(v Primitive) bool {
		if !isTruthy(v) {
			result = false
		}
		return true
	})
	if cellErr != nil {
		return cellErr
	}
	return result
}

func fnOr(ctx *evalContext, args []Primitive) Primitive {
	result := false
	cellErr := eachScalar(args, func(v Primitive) bool {
		if isTruthy(v) {
			result = true
		}
		return true
	})
	if cellErr != nil {
		return cellErr
	}
	return result
}

func fnNot(ctx *evalContext, args []Primitive) Primitive {
	return !isTruthy(args[0])
}

func fnConcatenate(ctx *evalContext, args []Primitive) Primitive {
	var b strings.Builder
	cellErr := eachScalar(args, func(v Primitive) bool {
		b.WriteString(toText(v))
		return true
	})
	if cellErr != nil {
		return cellErr
	}
	return b.String()
}

func fnLeft(ctx *evalContext, args []Primitive) Primitive {
	text := []rune(toText(args[0]))
	n := 1
	if len(args) == 2 {
		n = int(coerceNumber(args[1]))
	}
	if n < 0 {
		return NewCellError(ErrorCodeGeneric, "LEFT: negative length")
	}
	if n > len(text) {
		n = len(text)
	}
	return string(text[:n])
}

func fnRight(ctx *evalContext, args []Primitive) Primitive {
	text := []rune(toText(args[0]))
	n := 1
	if len(args) == 2 {
		n = int(coerceNumber(args[1]))
	}
	if n < 0 {
		return NewCellError(ErrorCodeGeneric, "RIGHT: negative length")
	}
	if n > len(text) {
		n = len(text)
	}
	return string(text[len(text)-n:])
}

func fnMid(ctx *evalContext, args []Primitive) Primitive {
	text := []rune(toText(args[0]))
	start := int(coerceNumber(args[1]))
	length := int(coerceNumber(args[2]))
	if start < 1 || length < 0 {
		return NewCellError(ErrorCodeGeneric, "MID: invalid start or length")
	}
	if start > len(text) {
		return ""
	}
	end := start - 1 + length
	if end > len(text) {
		end = len(text)
	}
	return string(text[start-1 : end])
}

func fnLen(ctx *evalContext, args []Primitive) Primitive {
	return float64(len([]rune(toText(args[0]))))
}

func fnUpper(ctx *evalContext, args []Primitive) Primitive {
	return strings.ToUpper(toText(args[0]))
}

func fnLower(ctx *evalContext, args []Primitive) Primitive {
	return strings.ToLower(toText(args[0]))
}

func fnTrim(ctx *evalContext, args []Primitive) Primitive {
	return strings.TrimSpace(toText(args[0]))
}

// dateEpoch returns the serial zero point for the workbook's date
// system, in the given location.
func dateEpoch(dateSystem int, loc *time.Location) time.Time {
	if dateSystem == 1904 {
		return time.Date(1904, 1, 1, 0, 0, 0, 0, loc)
	}
	return time.Date(1899, 12, 31, 0, 0, 0, 0, loc)
}

func (r *Registry) serialNow(ctx *evalContext) float64 {
	now := r.clock.Now()
	epoch := dateEpoch(ctx.dateSystem(), now.Location())
	return now.Sub(epoch).Hours() / 24
}

func timeFromSerial(serial float64, dateSystem int) time.Time {
	epoch := dateEpoch(dateSystem, time.UTC)
	return epoch.Add(time.Duration(serial * 24 * float64(time.Hour)))
}

func (r *Registry) fnToday(ctx *evalContext, args []Primitive) Primitive {
	return math.Floor(r.serialNow(ctx))
}

func (r *Registry) fnNow(ctx *evalContext, args []Primitive) Primitive {
	return r.serialNow(ctx)
}

// datePart applies extract to the serial argument when given, otherwise
// to the current clock time.
func (r *Registry) datePart(ctx *evalContext, args []Primitive, extract func(time.Time) int) Primitive {
	if len(args) == 0 {
		return float64(extract(r.clock.Now()))
	}
	serial := coerceNumber(args[0])
	return float64(extract(timeFromSerial(serial, ctx.dateSystem())))
}

func (r *Registry) fnYear(ctx *evalContext, args []Primitive) Primitive {
	return r.datePart(ctx, args, func(t time.Time) int { return t.Year() })
}

func (r *Registry) fnMonth(ctx *evalContext, args []Primitive) Primitive {
	return r.datePart(ctx, args, func(t time.Time) int { return int(t.Month()) })
}

func (r *Registry) fnDay(ctx *evalContext, args []Primitive) Primitive {
	return r.datePart(ctx, args, func(t time.Time) int { return t.Day() })
}

// fnVlookup searches the first column of the range for the lookup value
// and returns the cell colIndex columns in. exact=false takes the last
// row whose key is <= the lookup value (ascending data assumed).
func fnVlookup(ctx *evalContext, args []Primitive) Primitive {
	rv, ok := args[1].(*RangeValue)
	if !ok {
		return NewCellError(ErrorCodeGeneric, "VLOOKUP: second argument must be a range")
	}
	colIndex := int(coerceNumber(args[2]))
	if colIndex < 1 {
		return NewCellError(ErrorCodeGeneric, "VLOOKUP: column index must be positive")
	}
	if colIndex > rv.Bounds.Width() {
		return NewCellError(ErrorCodeRef, "VLOOKUP: column index outside range")
	}
	exact := false
	if len(args) == 4 {
		exact = isTruthy(args[3])
	}
	row := lookupPosition(args[0], exact, rv.Bounds.Height(), func(i int) Primitive {
		v, _ := rv.ValueAt(i, 1)
		return v
	})
	if row == 0 {
		return NewCellError(ErrorCodeNA, "")
	}
	v, _ := rv.ValueAt(row, colIndex)
	return v
}

// fnHlookup mirrors VLOOKUP along the first row.
func fnHlookup(ctx *evalContext, args []Primitive) Primitive {
	rv, ok := args[1].(*RangeValue)
	if !ok {
		return NewCellError(ErrorCodeGeneric, "HLOOKUP: second argument must be a range")
	}
	rowIndex := int(coerceNumber(args[2]))
	if rowIndex < 1 {
		return NewCellError(ErrorCodeGeneric, "HLOOKUP: row index must be positive")
	}
	if rowIndex > rv.Bounds.Height() {
		return NewCellError(ErrorCodeRef, "HLOOKUP: row index outside range")
	}
	exact := false
	if len(args) == 4 {
		exact = isTruthy(args[3])
	}
	col := lookupPosition(args[0], exact, rv.Bounds.Width(), func(i int) Primitive {
		v, _ := rv.ValueAt(1, i)
		return v
	})
	if col == 0 {
		return NewCellError(ErrorCodeNA, "")
	}
	v, _ := rv.ValueAt(rowIndex, col)
	return v
}

// lookupPosition finds the 1-based position of the lookup key in a
// vector of n keys, or 0 when there is no match.
func lookupPosition(key Primitive, exact bool, n int, keyAt func(int) Primitive) int {
	if exact {
		for i := 1; i <= n; i++ {
			if equalLoose(keyAt(i), key) {
				return i
			}
		}
		return 0
	}
	best := 0
	for i := 1; i <= n; i++ {
		v := keyAt(i)
		if v == nil {
			continue
		}
		cmp, ok := compareValues(v, key)
		if !ok || cmp > 0 {
			continue
		}
		best = i
	}
	return best
}

func fnIndex(ctx *evalContext, args []Primitive) Primitive {
	rv, ok := args[0].(*RangeValue)
	if !ok {
		return NewCellError(ErrorCodeGeneric, "INDEX: first argument must be a range")
	}
	row := int(coerceNumber(args[1]))
	col := 1
	if len(args) == 3 {
		col = int(coerceNumber(args[2]))
	}
	v, ok := rv.ValueAt(row, col)
	if !ok {
		return NewCellError(ErrorCodeRef, "INDEX: position outside range")
	}
	return v
}

// fnMatch returns the 1-based position of the lookup value in the range
// read row-major. match type 0 is exact, 1 takes the largest value <=
// the key, -1 the smallest value >= the key.
func fnMatch(ctx *evalContext, args []Primitive) Primitive {
	rv, ok := args[1].(*RangeValue)
	if !ok {
		return NewCellError(ErrorCodeGeneric, "MATCH: second argument must be a range")
	}
	matchType := 1
	if len(args) == 3 {
		matchType = int(coerceNumber(args[2]))
	}
	key := args[0]
	pos := 0
	i := 0
	for v := range rv.Values() {
		i++
		if cellErr, ok := v.(*CellError); ok {
			return cellErr
		}
		switch matchType {
		case 0:
			if equalLoose(v, key) {
				return float64(i)
			}
		case 1:
			if v == nil {
				continue
			}
			if cmp, ok := compareValues(v, key); ok && cmp <= 0 {
				pos = i
			}
		default:
			if v == nil {
				continue
			}
			if cmp, ok := compareValues(v, key); ok && cmp >= 0 {
				pos = i
			}
		}
	}
	if pos == 0 {
		return NewCellError(ErrorCodeNA, "")
	}
	return float64(pos)
}

func fnAbs(ctx *evalContext, args []Primitive) Primitive {
	return math.Abs(coerceNumber(args[0]))
}

func fnRound(ctx *evalContext, args []Primitive) Primitive {
	digits := 0
	if len(args) == 2 {
		digits = int(coerceNumber(args[1]))
	}
	return roundTo(coerceNumber(args[0]), digits)
}

func roundTo(f float64, digits int) float64 {
	scale := math.Pow(10, float64(digits))
	return math.Round(f*scale) / scale
}

func fnMod(ctx *evalContext, args []Primitive) Primitive {
	a := coerceNumber(args[0])
	b := coerceNumber(args[1])
	if b == 0 {
		return NewCellError(ErrorCodeDiv0, "")
	}
	m := math.Mod(a, b)
	// result takes the sign of the divisor
	if m != 0 && (m < 0) != (b < 0) {
		m += b
	}
	return m
}

func fnSqrt(ctx *evalContext, args []Primitive) Primitive {
	f := coerceNumber(args[0])
	if f < 0 {
		return NewCellError(ErrorCodeGeneric, "SQRT: negative argument")
	}
	return math.Sqrt(f)
}

func fnPower(ctx *evalContext, args []Primitive) Primitive {
	return math.Pow(coerceNumber(args[0]), coerceNumber(args[1]))
}

func fnPi(ctx *evalContext, args []Primitive) Primitive {
	return math.Pi
}
