package spreadsheet

import (
	"fmt"
	"strconv"
	"strings"
)

// evalContext carries the state one formula evaluation needs: the sheet
// for reference resolution, the workbook for named ranges and the
// function registry, and the address of the formula being computed.
type evalContext struct {
	wb      *Workbook
	sheet   *Sheet
	current Address
}

// cellValue resolves a single-cell reference. out-of-capacity addresses
// produce #REF!; empty cells read as nil; formula cells read their
// cached result, which propagates any error the precedent computed.
func (ctx *evalContext) cellValue(a Address) Primitive {
	if !ctx.sheet.inBounds(a) {
		return NewCellError(ErrorCodeRef, "")
	}
	return ctx.sheet.ValueAt(a)
}

// dateSystem returns the workbook's date serial epoch year.
func (ctx *evalContext) dateSystem() int {
	if ctx.wb == nil {
		return DateSystem1900
	}
	return ctx.wb.settings.DateSystem
}

// resolveName looks up a workbook named range scoped to this sheet.
func (ctx *evalContext) resolveName(name string) (Range, bool) {
	if ctx.wb == nil {
		return Range{}, false
	}
	return ctx.wb.resolveName(ctx.sheet.ID, name)
}

// call dispatches a function invocation through the registry. unknown
// names and arity violations evaluate to #ERROR!; lazy functions
// receive the unevaluated argument nodes.
func (ctx *evalContext) call(name string, args []Node) Primitive {
	fn, ok := ctx.wb.registry.Lookup(name)
	if !ok {
		return NewCellError(ErrorCodeGeneric, fmt.Sprintf("unknown function %s", name))
	}
	if len(args) < fn.MinArgs || (fn.MaxArgs >= 0 && len(args) > fn.MaxArgs) {
		return NewCellError(ErrorCodeGeneric, fmt.Sprintf("%s: wrong number of arguments", name))
	}
	if fn.Lazy {
		return fn.EvalLazy(ctx, args)
	}
	values := make([]Primitive, len(args))
	for i, arg := range args {
		values[i] = arg.eval(ctx)
		if cellErr, ok := values[i].(*CellError); ok {
			return cellErr
		}
	}
	return fn.Eval(ctx, values)
}

// evalBinary applies a binary operator to two non-error operands.
func evalBinary(op BinaryOp, left, right Primitive) Primitive {
	switch op {
	case BinOpAdd, BinOpSubtract, BinOpMultiply, BinOpDivide:
		if isRange(left) || isRange(right) {
			return NewCellError(ErrorCodeGeneric, "range operand in scalar operation")
		}
		a := coerceNumber(left)
		b := coerceNumber(right)
		switch op {
		case BinOpAdd:
			return a + b
		case BinOpSubtract:
			return a - b
		case BinOpMultiply:
			return a * b
		default:
			if b == 0 {
				return NewCellError(ErrorCodeDiv0, "")
			}
			return a / b
		}
	case BinOpEqual:
		return equalLoose(left, right)
	case BinOpNotEqual:
		return !equalLoose(left, right)
	default:
		cmp, ok := compareValues(left, right)
		if !ok {
			return NewCellError(ErrorCodeGeneric, "values are not comparable")
		}
		switch op {
		case BinOpLess:
			return cmp < 0
		case BinOpLessEqual:
			return cmp <= 0
		case BinOpGreater:
			return cmp > 0
		default:
			return cmp >= 0
		}
	}
}

func isRange(v Primitive) bool {
	_, ok := v.(*RangeValue)
	return ok
}

// coerceNumber converts a value for arithmetic. blanks and non-numeric
// text coerce to 0; booleans to 1 and 0; numeric text parses.
func coerceNumber(v Primitive) float64 {
	switch value := v.(type) {
	case nil:
		return 0
	case float64:
		return value
	case bool:
		if value {
			return 1
		}
		return 0
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return f
		}
		return 0
	default:
		return 0
	}
}

// strictNumber reports the numeric value of strictly numeric input.
// aggregates use this so text and booleans are skipped, not coerced.
func strictNumber(v Primitive) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

// toText renders a value the way it displays in a cell.
func toText(v Primitive) string {
	switch value := v.(type) {
	case nil:
		return ""
	case float64:
		if value == float64(int64(value)) {
			return fmt.Sprintf("%d", int64(value))
		}
		return strconv.FormatFloat(value, 'g', -1, 64)
	case string:
		return value
	case bool:
		if value {
			return "TRUE"
		}
		return "FALSE"
	case *CellError:
		return value.Label()
	default:
		return fmt.Sprintf("%v", value)
	}
}

// isTruthy converts a value to a condition. numbers are true when
// non-zero; text must read as TRUE/FALSE or a number.
func isTruthy(v Primitive) bool {
	switch value := v.(type) {
	case nil:
		return false
	case bool:
		return value
	case float64:
		return value != 0
	case string:
		upper := strings.ToUpper(strings.TrimSpace(value))
		if upper == "TRUE" {
			return true
		}
		if upper == "FALSE" {
			return false
		}
		if f, err := strconv.ParseFloat(upper, 64); err == nil {
			return f != 0
		}
		return false
	default:
		return false
	}
}

// numericLike reports whether the value reads as a number for loose
// comparison purposes.
func numericLike(v Primitive) (float64, bool) {
	switch value := v.(type) {
	case float64:
		return value, true
	case bool:
		if value {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// equalLoose compares across types: numeric-looking values compare by
// value, text case-insensitively, and blank equals blank, "" and 0.
func equalLoose(a, b Primitive) bool {
	if a == nil && b == nil {
		return true
	}
	af, aNum := numericLike(a)
	bf, bNum := numericLike(b)
	if aNum && bNum {
		return af == bf
	}
	if a == nil {
		return bf == 0 && bNum || toText(b) == ""
	}
	if b == nil {
		return af == 0 && aNum || toText(a) == ""
	}
	return strings.EqualFold(toText(a), toText(b))
}

// compareValues orders two values for <, <=, >, >=. both numeric
// compares numerically; otherwise both render to text and compare
// case-insensitively.
func compareValues(a, b Primitive) (int, bool) {
	af, aNum := numericLike(a)
	bf, bNum := numericLike(b)
	if aNum && bNum {
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	as := strings.ToUpper(toText(a))
	bs := strings.ToUpper(toText(b))
	switch {
	case as < bs:
		return -1, true
	case as > bs:
		return 1, true
	default:
		return 0, true
	}
}
