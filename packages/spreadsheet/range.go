package spreadsheet

import (
	"fmt"
	"iter"
	"strings"
)

// Range is an inclusive rectangle of cells within a single sheet.
// a stored Range is always normalized: StartRow <= EndRow and
// StartCol <= EndCol.
type Range struct {
	StartRow int
	StartCol int
	EndRow   int
	EndCol   int
}

// NewRange builds a normalized range from two corner addresses. reversed
// corners are swapped per coordinate, so B2:A1 and A1:B2 are the same range.
func NewRange(a, b Address) Range {
	r := Range{StartRow: a.Row, StartCol: a.Col, EndRow: b.Row, EndCol: b.Col}
	if r.StartRow > r.EndRow {
		r.StartRow, r.EndRow = r.EndRow, r.StartRow
	}
	if r.StartCol > r.EndCol {
		r.StartCol, r.EndCol = r.EndCol, r.StartCol
	}
	return r
}

// ParseRange parses "A1:C10" or a bare "A1" (a single-cell range).
func ParseRange(text string) (Range, error) {
	first, second, found := strings.Cut(text, ":")
	start, err := DecodeAddress(first)
	if err != nil {
		return Range{}, NewApplicationError(InvalidArgument, fmt.Sprintf("invalid range %q", text))
	}
	if !found {
		return NewRange(start, start), nil
	}
	end, err := DecodeAddress(second)
	if err != nil {
		return Range{}, NewApplicationError(InvalidArgument, fmt.Sprintf("invalid range %q", text))
	}
	return NewRange(start, end), nil
}

// String renders "A1:C10", or "A1" for a single-cell range.
func (r Range) String() string {
	start := EncodeAddress(r.StartRow, r.StartCol)
	if r.SingleCell() {
		return start
	}
	return start + ":" + EncodeAddress(r.EndRow, r.EndCol)
}

// SingleCell reports whether the range covers exactly one cell.
func (r Range) SingleCell() bool {
	return r.StartRow == r.EndRow && r.StartCol == r.EndCol
}

// Width returns the number of columns covered.
func (r Range) Width() int {
	return r.EndCol - r.StartCol + 1
}

// Height returns the number of rows covered.
func (r Range) Height() int {
	return r.EndRow - r.StartRow + 1
}

// Size returns the total number of addresses covered.
func (r Range) Size() int {
	return r.Width() * r.Height()
}

// Contains reports whether the address falls inside the rectangle.
func (r Range) Contains(a Address) bool {
	return a.Row >= r.StartRow && a.Row <= r.EndRow &&
		a.Col >= r.StartCol && a.Col <= r.EndCol
}

// Addresses returns a lazy row-major iterator over every address in the
// range. expansion is on demand so aggregates over large ranges never
// materialize an address slice.
func (r Range) Addresses() iter.Seq[Address] {
	return func(yield func(Address) bool) {
		for row := r.StartRow; row <= r.EndRow; row++ {
			for col := r.StartCol; col <= r.EndCol; col++ {
				if !yield(Address{Row: row, Col: col}) {
					return
				}
			}
		}
	}
}

// RangeValue is the runtime value a range reference evaluates to. it
// carries the sheet so functions can stream cell values lazily.
type RangeValue struct {
	Bounds Range
	sheet  *Sheet
}

// Values returns a lazy row-major iterator over computed cell values.
// empty cells yield nil.
func (rv *RangeValue) Values() iter.Seq[Primitive] {
	return func(yield func(Primitive) bool) {
		if rv.sheet == nil {
			return
		}
		for addr := range rv.Bounds.Addresses() {
			if !yield(rv.sheet.ValueAt(addr)) {
				return
			}
		}
	}
}

// ValueAt returns the computed value at the given 1-based offsets within
// the range. offsets outside the bounds report false.
func (rv *RangeValue) ValueAt(row, col int) (Primitive, bool) {
	if row < 1 || col < 1 || row > rv.Bounds.Height() || col > rv.Bounds.Width() {
		return nil, false
	}
	addr := Address{Row: rv.Bounds.StartRow + row - 1, Col: rv.Bounds.StartCol + col - 1}
	return rv.sheet.ValueAt(addr), true
}
