package spreadsheet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSortRangeAscending(t *testing.T) {
	tc := newWorkbookTestCase(t, "sort-asc").
		Set("A1", 3.0).Set("B1", "c").
		Set("A2", 1.0).Set("B2", "a").
		Set("A3", 2.0).Set("B3", "b")
	require.NoError(t, tc.wb.SortRange(tc.sheet, "A1:B3", SortSpec{Column: 1, Ascending: true}))
	tc.ExpectValue("A1", 1.0).ExpectValue("B1", "a").
		ExpectValue("A2", 2.0).ExpectValue("B2", "b").
		ExpectValue("A3", 3.0).ExpectValue("B3", "c")
}

func TestSortRangeDescending(t *testing.T) {
	tc := newWorkbookTestCase(t, "sort-desc").
		Set("A1", 1.0).
		Set("A2", 3.0).
		Set("A3", 2.0)
	require.NoError(t, tc.wb.SortRange(tc.sheet, "A1:A3", SortSpec{Column: 1}))
	tc.ExpectValue("A1", 3.0).
		ExpectValue("A2", 2.0).
		ExpectValue("A3", 1.0)
}

func TestSortRangeWithHeaders(t *testing.T) {
	tc := newWorkbookTestCase(t, "sort-headers").
		Set("A1", "amount").
		Set("A2", 5.0).
		Set("A3", 1.0).
		Set("A4", 3.0)
	require.NoError(t, tc.wb.SortRange(tc.sheet, "A1:A4", SortSpec{Column: 1, Ascending: true, HasHeaders: true}))
	tc.ExpectValue("A1", "amount").
		ExpectValue("A2", 1.0).
		ExpectValue("A3", 3.0).
		ExpectValue("A4", 5.0)
}

func TestSortRangeFlattensFormulas(t *testing.T) {
	tc := newWorkbookTestCase(t, "sort-flatten").
		Set("A1", 10.0).
		Set("A2", "=A1/2"). // computes 5
		Set("A3", 1.0)
	require.NoError(t, tc.wb.SortRange(tc.sheet, "A1:A3", SortSpec{Column: 1, Ascending: true}))
	tc.ExpectValue("A1", 1.0).
		ExpectValue("A2", 5.0).
		ExpectValue("A3", 10.0).
		// the formula is gone, only its value remains
		ExpectFormula("A2", "")

	// the flattened cell no longer tracks its old precedent
	tc.Set("A3", 100.0).
		ExpectValue("A2", 5.0)
}

func TestSortRangeBlanksSinkEitherDirection(t *testing.T) {
	tc := newWorkbookTestCase(t, "sort-blanks").
		Set("A1", 2.0).
		Set("A3", 1.0)
	require.NoError(t, tc.wb.SortRange(tc.sheet, "A1:A3", SortSpec{Column: 1, Ascending: true}))
	tc.ExpectValue("A1", 1.0).
		ExpectValue("A2", 2.0).
		ExpectValue("A3", nil)
}

func TestSortRangeStableOnTies(t *testing.T) {
	tc := newWorkbookTestCase(t, "sort-stable").
		Set("A1", 1.0).Set("B1", "first").
		Set("A2", 1.0).Set("B2", "second").
		Set("A3", 0.0).Set("B3", "zero")
	require.NoError(t, tc.wb.SortRange(tc.sheet, "A1:B3", SortSpec{Column: 1, Ascending: true}))
	tc.ExpectValue("B1", "zero").
		ExpectValue("B2", "first").
		ExpectValue("B3", "second")
}

func TestSortRangeDependentsOutsideRangeRecompute(t *testing.T) {
	tc := newWorkbookTestCase(t, "sort-dependents").
		Set("A1", 3.0).
		Set("A2", 1.0).
		Set("D1", "=A1*10").
		ExpectValue("D1", 30.0)
	require.NoError(t, tc.wb.SortRange(tc.sheet, "A1:A2", SortSpec{Column: 1, Ascending: true}))
	tc.ExpectValue("D1", 10.0)
}

func TestSortRangeColumnValidation(t *testing.T) {
	wb := NewWorkbook()
	err := wb.SortRange(wb.ActiveSheet(), "A1:B3", SortSpec{Column: 3})
	require.Error(t, err)
	assert.Equal(t, InvalidArgument, err.(*AppError).Code)
}
