package spreadsheet

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertRowsShiftsCellsAndRebasesRange(t *testing.T) {
	tc := newWorkbookTestCase(t, "insert-rows").
		Set("A1", 1.0).
		Set("A2", 2.0).
		Set("A3", 3.0).
		Set("D1", "=SUM(A1:A3)").
		ExpectValue("D1", 6.0)

	require.NoError(t, tc.wb.InsertRows(tc.sheet, 2, 1))

	// the range straddles the insertion point and grows
	tc.ExpectFormula("D1", "=SUM(A1:A4)").
		ExpectValue("D1", 6.0).
		ExpectValue("A2", nil).
		ExpectValue("A3", 2.0).
		ExpectValue("A4", 3.0)

	// the new blank row participates once filled
	tc.Set("A2", 10.0).
		ExpectValue("D1", 16.0)
}

func TestInsertRowsAboveShiftsCellRefs(t *testing.T) {
	tc := newWorkbookTestCase(t, "insert-above").
		Set("A5", 42.0).
		Set("B1", "=A5")
	require.NoError(t, tc.wb.InsertRows(tc.sheet, 3, 2))
	tc.ExpectFormula("B1", "=A7").
		ExpectValue("B1", 42.0)
}

func TestInsertRowsBelowLeavesRefsAlone(t *testing.T) {
	tc := newWorkbookTestCase(t, "insert-below").
		Set("A1", 42.0).
		Set("B1", "=A1")
	require.NoError(t, tc.wb.InsertRows(tc.sheet, 5, 3))
	tc.ExpectFormula("B1", "=A1").
		ExpectValue("B1", 42.0)
}

func TestInsertColumnsRebasesReferences(t *testing.T) {
	tc := newWorkbookTestCase(t, "insert-cols").
		Set("A1", 1.0).
		Set("B1", 2.0).
		Set("C1", "=SUM(A1:B1)")
	require.NoError(t, tc.wb.InsertColumns(tc.sheet, 2, 1))
	tc.ExpectFormula("D1", "=SUM(A1:C1)").
		ExpectValue("D1", 3.0)
}

func TestDeleteRowsShrinksStraddlingRange(t *testing.T) {
	tc := newWorkbookTestCase(t, "delete-shrink").
		Set("A1", 1.0).
		Set("A2", 2.0).
		Set("A3", 3.0).
		Set("A4", 4.0).
		Set("D1", "=SUM(A1:A4)").
		ExpectValue("D1", 10.0)
	require.NoError(t, tc.wb.DeleteRows(tc.sheet, 2, 2))
	tc.ExpectFormula("D1", "=SUM(A1:A2)").
		ExpectValue("D1", 5.0). // 1 + 4
		ExpectValue("A2", 4.0)
}

func TestDeleteRowBreaksDirectReferencePermanently(t *testing.T) {
	tc := newWorkbookTestCase(t, "delete-ref").
		Set("A2", 42.0).
		Set("B1", "=A2").
		ExpectValue("B1", 42.0)

	require.NoError(t, tc.wb.DeleteRows(tc.sheet, 2, 1))
	tc.ExpectFormula("B1", "=#REF!").
		ExpectError("B1", ErrorCodeRef)

	// writing new data where the target used to be never heals it
	tc.Set("A2", 99.0).
		ExpectError("B1", ErrorCodeRef)
}

func TestDeleteRowsCoveringWholeRangeBreaksIt(t *testing.T) {
	tc := newWorkbookTestCase(t, "delete-whole-range").
		Set("A2", 1.0).
		Set("A3", 2.0).
		Set("B1", "=SUM(A2:A3)")
	require.NoError(t, tc.wb.DeleteRows(tc.sheet, 2, 2))
	tc.ExpectFormula("B1", "=SUM(#REF!)").
		ExpectError("B1", ErrorCodeRef)
}

func TestDeleteColumnsRebasesReferences(t *testing.T) {
	tc := newWorkbookTestCase(t, "delete-cols").
		Set("A1", 1.0).
		Set("B1", 2.0).
		Set("C1", 3.0).
		Set("E1", "=C1")
	require.NoError(t, tc.wb.DeleteColumns(tc.sheet, 2, 1))
	tc.ExpectFormula("D1", "=B1").
		ExpectValue("D1", 3.0)
}

func TestDeletedFormulaCellDisappears(t *testing.T) {
	tc := newWorkbookTestCase(t, "delete-formula-cell").
		Set("A1", 1.0).
		Set("B2", "=A1+1")
	require.NoError(t, tc.wb.DeleteRows(tc.sheet, 2, 1))
	tc.ExpectValue("B2", nil)
	// the deleted formula no longer reacts to its old precedent
	tc.Set("A1", 50.0).
		ExpectValue("B2", nil)
}

func TestStructuralEditRebasesNamedRanges(t *testing.T) {
	tc := newWorkbookTestCase(t, "names-rebase").
		Set("A1", 1.0).
		Set("A2", 2.0)
	require.NoError(t, tc.wb.DefineName("Data", tc.sheet, "A1:A2"))
	tc.Set("B1", "=SUM(Data)").
		ExpectValue("B1", 3.0)

	require.NoError(t, tc.wb.InsertRows(tc.sheet, 2, 1))
	tc.ExpectValue("B1", 3.0)
	tc.Set("A2", 10.0).
		ExpectValue("B1", 13.0)
}

func TestStructuralEditValidation(t *testing.T) {
	wb := NewWorkbook()
	sheet := wb.ActiveSheet()

	err := wb.InsertRows(sheet, 0, 1)
	require.Error(t, err)
	assert.Equal(t, InvalidArgument, err.(*AppError).Code)

	err = wb.DeleteRows(sheet, 1, 0)
	require.Error(t, err)
	assert.Equal(t, InvalidArgument, err.(*AppError).Code)

	err = wb.InsertRows("no-such-sheet", 1, 1)
	require.Error(t, err)
	assert.Equal(t, NotFound, err.(*AppError).Code)
}

func TestFailedEditLeavesWorkbookUntouched(t *testing.T) {
	tc := newWorkbookTestCase(t, "atomic").
		Set("A1", 1.0).
		Set("B1", "=A1*2")
	err := tc.wb.DeleteRows(tc.sheet, DefaultRows, 10)
	require.Error(t, err)
	tc.ExpectValue("A1", 1.0).
		ExpectValue("B1", 2.0).
		ExpectFormula("B1", "=A1*2")
}

func TestRebaseNodeSharesUnchangedSubtrees(t *testing.T) {
	node, err := ParseFormula("A1+B5")
	require.NoError(t, err)
	rebased, changed := rebaseNode(node, shiftEdit{axis: axisRow, at: 3, count: 1})
	require.True(t, changed)
	assert.Equal(t, "A1+B6", rebased.String())
	// the original tree is untouched
	assert.Equal(t, "A1+B5", node.String())
}

func TestInsertRowsGrowsCapacity(t *testing.T) {
	wb := NewWorkbook()
	sheet := wb.ActiveSheet()
	last := fmt.Sprintf("A%d", DefaultRows)
	require.NoError(t, wb.SetCell(sheet, last, CellInput{Value: 5.0}))

	require.NoError(t, wb.InsertRows(sheet, 1, 2))

	// the shifted cell stays readable, referenceable, and writable
	shifted := fmt.Sprintf("A%d", DefaultRows+2)
	v, err := wb.GetValue(sheet, shifted)
	require.NoError(t, err)
	assert.Equal(t, 5.0, v)

	require.NoError(t, wb.SetCell(sheet, "B1", CellInput{Formula: "=" + shifted}))
	v, err = wb.GetValue(sheet, "B1")
	require.NoError(t, err)
	assert.Equal(t, 5.0, v)

	require.NoError(t, wb.SetCell(sheet, shifted, CellInput{Value: 6.0}))
	v, err = wb.GetValue(sheet, "B1")
	require.NoError(t, err)
	assert.Equal(t, 6.0, v)
}

func TestDeleteRowsShrinksCapacity(t *testing.T) {
	wb := NewWorkbook()
	sheet := wb.ActiveSheet()
	require.NoError(t, wb.InsertRows(sheet, 1, 1))
	require.NoError(t, wb.DeleteRows(sheet, 1, 1))

	err := wb.SetCell(sheet, fmt.Sprintf("A%d", DefaultRows+1), CellInput{Value: 1.0})
	require.Error(t, err)
	assert.Equal(t, OutOfRange, err.(*AppError).Code)
	require.NoError(t, wb.SetCell(sheet, fmt.Sprintf("A%d", DefaultRows), CellInput{Value: 1.0}))
}

func TestInsertColumnsGrowsCapacity(t *testing.T) {
	wb := NewWorkbook()
	sheet := wb.ActiveSheet()
	last := EncodeAddress(1, DefaultCols)
	require.NoError(t, wb.SetCell(sheet, last, CellInput{Value: 3.0}))

	require.NoError(t, wb.InsertColumns(sheet, 1, 1))

	shifted := EncodeAddress(1, DefaultCols+1)
	v, err := wb.GetValue(sheet, shifted)
	require.NoError(t, err)
	assert.Equal(t, 3.0, v)
	require.NoError(t, wb.SetCell(sheet, shifted, CellInput{Value: 4.0}))
}
