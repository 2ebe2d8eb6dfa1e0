package spreadsheet

import (
	"fmt"
	"sort"
)

// SortSpec describes one sortRange invocation. Column is 1-based within
// the range. HasHeaders excludes the first row from reordering.
type SortSpec struct {
	Column     int
	Ascending  bool
	HasHeaders bool
}

// sortRow is one row of materialized values and formats.
type sortRow struct {
	values  []Primitive
	formats []map[string]any
}

// SortRange reorders the rows of a range by one column. computed values
// are materialized first and written back as literals, so formulas
// inside the range are flattened to their current results. blanks sort
// last in either direction; ties keep their original order.
func (wb *Workbook) SortRange(sheetID, rangeText string, spec SortSpec) error {
	r, err := ParseRange(rangeText)
	if err != nil {
		return err
	}
	if spec.Column < 1 || spec.Column > r.Width() {
		return NewApplicationError(InvalidArgument, fmt.Sprintf("sort column %d outside range %s", spec.Column, r))
	}
	wb.mu.Lock()
	defer wb.mu.Unlock()
	_, s, err := wb.sheetByID(sheetID)
	if err != nil {
		return err
	}

	startRow := r.StartRow
	if spec.HasHeaders {
		startRow++
	}
	if startRow > r.EndRow {
		return nil
	}

	rows := make([]sortRow, 0, r.EndRow-startRow+1)
	for rowIdx := startRow; rowIdx <= r.EndRow; rowIdx++ {
		row := sortRow{
			values:  make([]Primitive, r.Width()),
			formats: make([]map[string]any, r.Width()),
		}
		for j := 0; j < r.Width(); j++ {
			a := Address{Row: rowIdx, Col: r.StartCol + j}
			row.values[j] = s.ValueAt(a)
			if c := s.Cell(a); c != nil {
				row.formats[j] = c.Format
			}
		}
		rows = append(rows, row)
	}

	key := spec.Column - 1
	sort.SliceStable(rows, func(i, j int) bool {
		return sortLess(rows[i].values[key], rows[j].values[key], spec.Ascending)
	})

	dg := wb.graphs[s.ID]
	changed := make([]Address, 0, len(rows)*r.Width())
	for i, row := range rows {
		for j := 0; j < r.Width(); j++ {
			a := Address{Row: startRow + i, Col: r.StartCol + j}
			dg.Remove(a)
			if row.values[j] == nil && row.formats[j] == nil {
				s.removeCell(a)
			} else {
				c := s.cellOrCreate(a)
				c.Value = row.values[j]
				c.Formula = ""
				c.ast = nil
				c.Result = nil
				c.Format = row.formats[j]
			}
			changed = append(changed, a)
		}
	}
	wb.afterEdit(s, changed)
	return nil
}

// sortLess orders two cell values. numbers compare numerically, text
// case-insensitively; blanks always sink to the bottom.
func sortLess(a, b Primitive, ascending bool) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	cmp, ok := compareValues(a, b)
	if !ok {
		return false
	}
	if ascending {
		return cmp < 0
	}
	return cmp > 0
}
