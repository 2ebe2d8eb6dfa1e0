package spreadsheet

import (
	"fmt"

	"github.com/tiendc/go-deepcopy"
)

// cloneBlob deep-copies an opaque metadata blob (cell formats, chart
// specs, filter predicates) so clones never share mutable state.
func cloneBlob(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	var out map[string]any
	if err := deepcopy.Copy(&out, m); err != nil {
		// blobs are plain JSON-shaped maps; a copy failure means a
		// caller smuggled in something exotic, fall back to sharing
		return m
	}
	return out
}

// editAxis selects which coordinate a structural edit shifts.
type editAxis uint8

const (
	axisRow editAxis = iota
	axisCol
)

// shiftEdit describes one structural edit: insertion or deletion of
// count rows or columns starting at index at (1-based).
type shiftEdit struct {
	axis   editAxis
	at     int
	count  int
	remove bool
}

// shiftPos rebases a single coordinate. ok is false when the position
// falls inside a deleted band.
func (e shiftEdit) shiftPos(pos int) (int, bool) {
	if e.remove {
		switch {
		case pos >= e.at+e.count:
			return pos - e.count, true
		case pos >= e.at:
			return 0, false
		default:
			return pos, true
		}
	}
	if pos >= e.at {
		return pos + e.count, true
	}
	return pos, true
}

// shiftAddress rebases a cell address. ok is false when the referenced
// cell was deleted.
func (e shiftEdit) shiftAddress(a Address) (Address, bool) {
	pos := a.Row
	if e.axis == axisCol {
		pos = a.Col
	}
	next, ok := e.shiftPos(pos)
	if !ok {
		return a, false
	}
	if e.axis == axisCol {
		a.Col = next
	} else {
		a.Row = next
	}
	return a, true
}

// shiftRange rebases a range. ranges straddling an insertion grow;
// ranges overlapping a deletion shrink; ok is false when every covered
// row or column was deleted.
func (e shiftEdit) shiftRange(r Range) (Range, bool) {
	start, end := r.StartRow, r.EndRow
	if e.axis == axisCol {
		start, end = r.StartCol, r.EndCol
	}
	if e.remove {
		switch {
		case start >= e.at+e.count:
			start -= e.count
		case start >= e.at:
			start = e.at
		}
		switch {
		case end >= e.at+e.count:
			end -= e.count
		case end >= e.at:
			end = e.at - 1
		}
		if end < start {
			return r, false
		}
	} else {
		if start >= e.at {
			start += e.count
		}
		if end >= e.at {
			end += e.count
		}
	}
	if e.axis == axisCol {
		r.StartCol, r.EndCol = start, end
	} else {
		r.StartRow, r.EndRow = start, end
	}
	return r, true
}

// rebaseNode returns the AST with every reference rebased for the edit.
// unchanged subtrees are shared; changed paths get fresh nodes, so the
// original tree stays intact. deleted references become #REF! error
// nodes, which keeps the breakage permanent through the formula text.
func rebaseNode(n Node, e shiftEdit) (Node, bool) {
	switch node := n.(type) {
	case *CellRefNode:
		next, ok := e.shiftAddress(node.Addr)
		if !ok {
			return &ErrorNode{Code: ErrorCodeRef}, true
		}
		if next != node.Addr {
			return &CellRefNode{Addr: next}, true
		}
		return node, false
	case *RangeRefNode:
		next, ok := e.shiftRange(node.Bounds)
		if !ok {
			return &ErrorNode{Code: ErrorCodeRef}, true
		}
		if next != node.Bounds {
			return &RangeRefNode{Bounds: next}, true
		}
		return node, false
	case *UnaryNode:
		inner, changed := rebaseNode(node.Operand, e)
		if changed {
			return &UnaryNode{Operand: inner}, true
		}
		return node, false
	case *GroupNode:
		inner, changed := rebaseNode(node.Inner, e)
		if changed {
			return &GroupNode{Inner: inner}, true
		}
		return node, false
	case *BinaryNode:
		left, lchanged := rebaseNode(node.Left, e)
		right, rchanged := rebaseNode(node.Right, e)
		if lchanged || rchanged {
			return &BinaryNode{Op: node.Op, Left: left, Right: right}, true
		}
		return node, false
	case *FunctionCallNode:
		changed := false
		args := make([]Node, len(node.Args))
		for i, arg := range node.Args {
			next, c := rebaseNode(arg, e)
			args[i] = next
			changed = changed || c
		}
		if changed {
			return &FunctionCallNode{Name: node.Name, Args: args}, true
		}
		return node, false
	default:
		return n, false
	}
}

// InsertRows inserts count blank rows starting at row at. every
// reference on the sheet is rebased atomically with the shift.
func (wb *Workbook) InsertRows(sheetID string, at, count int) error {
	return wb.structuralEdit(sheetID, shiftEdit{axis: axisRow, at: at, count: count})
}

// InsertColumns inserts count blank columns starting at column at.
func (wb *Workbook) InsertColumns(sheetID string, at, count int) error {
	return wb.structuralEdit(sheetID, shiftEdit{axis: axisCol, at: at, count: count})
}

// DeleteRows removes rows [at, at+count). references into the deleted
// band become permanent #REF! errors.
func (wb *Workbook) DeleteRows(sheetID string, at, count int) error {
	return wb.structuralEdit(sheetID, shiftEdit{axis: axisRow, at: at, count: count, remove: true})
}

// DeleteColumns removes columns [at, at+count).
func (wb *Workbook) DeleteColumns(sheetID string, at, count int) error {
	return wb.structuralEdit(sheetID, shiftEdit{axis: axisCol, at: at, count: count, remove: true})
}

// structuralEdit applies a shift to a clone of the sheet, rebases every
// formula and named range, then swaps the clone in and rebuilds the
// dependency graph. a failure at any point before the swap leaves the
// workbook exactly as it was.
func (wb *Workbook) structuralEdit(sheetID string, e shiftEdit) error {
	wb.mu.Lock()
	defer wb.mu.Unlock()

	idx, s, err := wb.sheetByID(sheetID)
	if err != nil {
		return err
	}
	if e.at < 1 || e.count < 1 {
		return NewApplicationError(InvalidArgument, fmt.Sprintf("invalid edit position %d count %d", e.at, e.count))
	}
	limit := s.Rows
	if e.axis == axisCol {
		limit = s.Cols
	}
	if e.at > limit || e.remove && e.at+e.count-1 > limit {
		return NewApplicationError(OutOfRange, "edit exceeds sheet capacity")
	}

	clone := s.clone()
	switch {
	case e.axis == axisRow && !e.remove:
		clone.shiftRows(e.at, e.count)
	case e.axis == axisRow:
		clone.dropRows(e.at, e.count)
	case !e.remove:
		clone.shiftCols(e.at, e.count)
	default:
		clone.dropCols(e.at, e.count)
	}

	// capacity tracks the edit so shifted cells stay addressable
	delta := e.count
	if e.remove {
		delta = -e.count
	}
	if e.axis == axisRow {
		clone.Rows += delta
	} else {
		clone.Cols += delta
	}

	// rebase surviving formulas; broken references render as #REF! in
	// the regenerated formula text
	for _, a := range clone.FormulaCells() {
		c := clone.Cell(a)
		if c.ast == nil {
			continue
		}
		if next, changed := rebaseNode(c.ast, e); changed {
			c.ast = next
			c.Formula = "=" + next.String()
		}
	}

	// rebase merged regions and filter targets; fully deleted ones drop
	merged := clone.Merged[:0]
	for _, m := range clone.Merged {
		if next, ok := e.shiftRange(m); ok {
			merged = append(merged, next)
		}
	}
	clone.Merged = merged
	filters := clone.Filters[:0]
	for _, f := range clone.Filters {
		if next, ok := e.shiftRange(f.Target); ok {
			f.Target = next
			filters = append(filters, f)
		}
	}
	clone.Filters = filters

	// rebase named ranges scoped to this sheet
	names := make(map[string]NamedRange, len(wb.names))
	for name, nr := range wb.names {
		if nr.SheetID == sheetID && !nr.Broken {
			if next, ok := e.shiftRange(nr.Target); ok {
				nr.Target = next
			} else {
				nr.Broken = true
			}
		}
		names[name] = nr
	}

	// swap, rebuild edges, recompute everything in dependency order
	wb.sheets[idx] = clone
	wb.names = names
	wb.rebuildGraph(clone)
	wb.recalculate(clone, clone.FormulaCells())
	return nil
}

// rebuildGraph re-extracts precedents for every formula cell on the
// sheet from scratch.
func (wb *Workbook) rebuildGraph(s *Sheet) {
	dg := NewDependencyGraph()
	wb.graphs[s.ID] = dg
	for _, a := range s.FormulaCells() {
		c := s.Cell(a)
		if c.ast == nil {
			continue
		}
		wb.linkFormula(dg, s, a, c.ast)
	}
}
