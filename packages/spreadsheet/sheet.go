package spreadsheet

import (
	"sort"

	"github.com/google/uuid"
)

// default grid capacity for new sheets. capacity bounds the addresses
// operations may touch; the cell map itself is sparse.
const (
	DefaultRows = 1048576
	DefaultCols = 16384
)

// ChartMeta is opaque chart metadata anchored to a sheet. the engine
// stores and serializes it without interpreting the blob.
type ChartMeta struct {
	ID   string         `json:"id"`
	Spec map[string]any `json:"spec"`
}

// FilterSpec is an opaque filter definition over a target range.
type FilterSpec struct {
	Target     Range          `json:"target"`
	Predicates map[string]any `json:"predicates"`
}

// Sheet is a sparse grid of cells plus presentation metadata. only
// populated cells occupy memory; empty addresses read as nil.
type Sheet struct {
	ID   string
	Name string
	Rows int // row capacity
	Cols int // column capacity

	cells map[Address]*Cell

	RowHeights map[int]float64
	ColWidths  map[int]float64
	HiddenRows map[int]bool
	HiddenCols map[int]bool
	Merged     []Range
	Charts     []ChartMeta
	Filters    []FilterSpec
}

// NewSheet creates an empty sheet with default capacity.
func NewSheet(name string) *Sheet {
	return &Sheet{
		ID:         uuid.NewString(),
		Name:       name,
		Rows:       DefaultRows,
		Cols:       DefaultCols,
		cells:      make(map[Address]*Cell),
		RowHeights: make(map[int]float64),
		ColWidths:  make(map[int]float64),
		HiddenRows: make(map[int]bool),
		HiddenCols: make(map[int]bool),
	}
}

// inBounds reports whether the address fits the sheet capacity.
func (s *Sheet) inBounds(a Address) bool {
	return a.Valid() && a.Row <= s.Rows && a.Col <= s.Cols
}

// Cell returns the cell at the address, or nil when the address is empty.
func (s *Sheet) Cell(a Address) *Cell {
	return s.cells[a]
}

// cellOrCreate returns the cell at the address, allocating it if empty.
func (s *Sheet) cellOrCreate(a Address) *Cell {
	if c, ok := s.cells[a]; ok {
		return c
	}
	c := &Cell{Row: a.Row, Col: a.Col}
	s.cells[a] = c
	return c
}

// removeCell deletes the cell at the address if present.
func (s *Sheet) removeCell(a Address) {
	delete(s.cells, a)
}

// ValueAt returns the computed value at the address; nil for empty cells.
func (s *Sheet) ValueAt(a Address) Primitive {
	c, ok := s.cells[a]
	if !ok {
		return nil
	}
	return c.CurrentValue()
}

// CellCount returns the number of populated cells.
func (s *Sheet) CellCount() int {
	return len(s.cells)
}

// FormulaCells returns the addresses of all formula cells in
// deterministic row-major order.
func (s *Sheet) FormulaCells() []Address {
	out := make([]Address, 0)
	for a, c := range s.cells {
		if c.IsFormula() {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Row != out[j].Row {
			return out[i].Row < out[j].Row
		}
		return out[i].Col < out[j].Col
	})
	return out
}

// UsedRange returns the smallest range covering all populated cells and
// false when the sheet is empty.
func (s *Sheet) UsedRange() (Range, bool) {
	if len(s.cells) == 0 {
		return Range{}, false
	}
	first := true
	var r Range
	for a := range s.cells {
		if first {
			r = Range{StartRow: a.Row, StartCol: a.Col, EndRow: a.Row, EndCol: a.Col}
			first = false
			continue
		}
		if a.Row < r.StartRow {
			r.StartRow = a.Row
		}
		if a.Row > r.EndRow {
			r.EndRow = a.Row
		}
		if a.Col < r.StartCol {
			r.StartCol = a.Col
		}
		if a.Col > r.EndCol {
			r.EndCol = a.Col
		}
	}
	return r, true
}

// shiftRows moves every cell at or below row at down by count rows
// (insert) and rewrites per-row metadata. a fresh cell map is built and
// swapped in so a failure partway never leaves a torn grid.
func (s *Sheet) shiftRows(at, count int) {
	next := make(map[Address]*Cell, len(s.cells))
	for a, c := range s.cells {
		if a.Row >= at {
			a.Row += count
			c.Row = a.Row
		}
		next[a] = c
	}
	s.cells = next
	s.RowHeights = shiftIntKeys(s.RowHeights, at, count)
	s.HiddenRows = shiftBoolKeys(s.HiddenRows, at, count)
}

// shiftCols moves every cell at or right of column at right by count
// columns (insert) and rewrites per-column metadata.
func (s *Sheet) shiftCols(at, count int) {
	next := make(map[Address]*Cell, len(s.cells))
	for a, c := range s.cells {
		if a.Col >= at {
			a.Col += count
			c.Col = a.Col
		}
		next[a] = c
	}
	s.cells = next
	s.ColWidths = shiftIntKeys(s.ColWidths, at, count)
	s.HiddenCols = shiftBoolKeys(s.HiddenCols, at, count)
}

// dropRows removes the rows in [at, at+count) and shifts everything
// below up. returns the addresses of the removed cells (pre-shift
// coordinates).
func (s *Sheet) dropRows(at, count int) []Address {
	removed := make([]Address, 0)
	next := make(map[Address]*Cell, len(s.cells))
	for a, c := range s.cells {
		switch {
		case a.Row >= at && a.Row < at+count:
			removed = append(removed, a)
		case a.Row >= at+count:
			a.Row -= count
			c.Row = a.Row
			next[a] = c
		default:
			next[a] = c
		}
	}
	s.cells = next
	s.RowHeights = dropIntKeys(s.RowHeights, at, count)
	s.HiddenRows = dropBoolKeys(s.HiddenRows, at, count)
	return removed
}

// dropCols removes the columns in [at, at+count) and shifts everything
// to the right left. returns the addresses of the removed cells.
func (s *Sheet) dropCols(at, count int) []Address {
	removed := make([]Address, 0)
	next := make(map[Address]*Cell, len(s.cells))
	for a, c := range s.cells {
		switch {
		case a.Col >= at && a.Col < at+count:
			removed = append(removed, a)
		case a.Col >= at+count:
			a.Col -= count
			c.Col = a.Col
			next[a] = c
		default:
			next[a] = c
		}
	}
	s.cells = next
	s.ColWidths = dropIntKeys(s.ColWidths, at, count)
	s.HiddenCols = dropBoolKeys(s.HiddenCols, at, count)
	return removed
}

func shiftIntKeys(m map[int]float64, at, count int) map[int]float64 {
	next := make(map[int]float64, len(m))
	for k, v := range m {
		if k >= at {
			k += count
		}
		next[k] = v
	}
	return next
}

func shiftBoolKeys(m map[int]bool, at, count int) map[int]bool {
	next := make(map[int]bool, len(m))
	for k, v := range m {
		if k >= at {
			k += count
		}
		next[k] = v
	}
	return next
}

func dropIntKeys(m map[int]float64, at, count int) map[int]float64 {
	next := make(map[int]float64, len(m))
	for k, v := range m {
		if k >= at && k < at+count {
			continue
		}
		if k >= at+count {
			k -= count
		}
		next[k] = v
	}
	return next
}

func dropBoolKeys(m map[int]bool, at, count int) map[int]bool {
	next := make(map[int]bool, len(m))
	for k, v := range m {
		if k >= at && k < at+count {
			continue
		}
		if k >= at+count {
			k -= count
		}
		next[k] = v
	}
	return next
}

// clone produces an independent copy of the sheet. cells are copied
// structurally; opaque metadata blobs go through the deep copier.
func (s *Sheet) clone() *Sheet {
	out := &Sheet{
		ID:         s.ID,
		Name:       s.Name,
		Rows:       s.Rows,
		Cols:       s.Cols,
		cells:      make(map[Address]*Cell, len(s.cells)),
		RowHeights: make(map[int]float64, len(s.RowHeights)),
		ColWidths:  make(map[int]float64, len(s.ColWidths)),
		HiddenRows: make(map[int]bool, len(s.HiddenRows)),
		HiddenCols: make(map[int]bool, len(s.HiddenCols)),
	}
	for a, c := range s.cells {
		out.cells[a] = c.clone()
	}
	for k, v := range s.RowHeights {
		out.RowHeights[k] = v
	}
	for k, v := range s.ColWidths {
		out.ColWidths[k] = v
	}
	for k, v := range s.HiddenRows {
		out.HiddenRows[k] = v
	}
	for k, v := range s.HiddenCols {
		out.HiddenCols[k] = v
	}
	out.Merged = append([]Range(nil), s.Merged...)
	for _, ch := range s.Charts {
		out.Charts = append(out.Charts, ChartMeta{ID: ch.ID, Spec: cloneBlob(ch.Spec)})
	}
	for _, f := range s.Filters {
		out.Filters = append(out.Filters, FilterSpec{Target: f.Target, Predicates: cloneBlob(f.Predicates)})
	}
	return out
}
