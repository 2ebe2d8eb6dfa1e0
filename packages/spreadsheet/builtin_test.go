package spreadsheet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func numbersColumn(tc *WorkbookTestCase) *WorkbookTestCase {
	return tc.
		Set("A1", 10.0).
		Set("A2", 20.0).
		Set("A3", "text").
		Set("A4", 30.0).
		Set("A5", true)
}

func TestAggregates(t *testing.T) {
	numbersColumn(newWorkbookTestCase(t, "aggregates")).
		Set("C1", "=SUM(A1:A5)").
		Set("C2", "=COUNT(A1:A5)").
		Set("C3", "=COUNTA(A1:A5)").
		Set("C4", "=AVERAGE(A1:A5)").
		Set("C5", "=MIN(A1:A5)").
		Set("C6", "=MAX(A1:A5)").
		ExpectValue("C1", 60.0). // text and booleans are not numeric
		ExpectValue("C2", 3.0).
		ExpectValue("C3", 5.0).
		ExpectValue("C4", 20.0).
		ExpectValue("C5", 10.0).
		ExpectValue("C6", 30.0)
}

func TestEmptyRangeAggregatesAreZero(t *testing.T) {
	newWorkbookTestCase(t, "empty-aggregates").
		Set("C1", "=SUM(A1:A10)").
		Set("C2", "=COUNT(A1:A10)").
		Set("C3", "=AVERAGE(A1:A10)").
		Set("C4", "=MIN(A1:A10)").
		Set("C5", "=MAX(A1:A10)").
		Set("C6", "=MEDIAN(A1:A10)").
		Set("C7", "=STDEV(A1:A10)").
		ExpectValue("C1", 0.0).
		ExpectValue("C2", 0.0).
		ExpectValue("C3", 0.0).
		ExpectValue("C4", 0.0).
		ExpectValue("C5", 0.0).
		ExpectValue("C6", 0.0).
		ExpectValue("C7", 0.0)
}

func TestMedian(t *testing.T) {
	newWorkbookTestCase(t, "median").
		Set("A1", 7.0).
		Set("A2", 1.0).
		Set("A3", 5.0).
		Set("B1", "=MEDIAN(A1:A3)").
		Set("A4", 3.0).
		Set("B2", "=MEDIAN(A1:A4)").
		ExpectValue("B1", 5.0).
		ExpectValue("B2", 4.0)
}

func TestStdevSample(t *testing.T) {
	tc := newWorkbookTestCase(t, "stdev").
		Set("A1", 2.0).
		Set("A2", 4.0).
		Set("A3", 4.0).
		Set("A4", 4.0).
		Set("A5", 5.0).
		Set("A6", 5.0).
		Set("A7", 7.0).
		Set("A8", 9.0).
		Set("B1", "=STDEV(A1:A8)").
		Set("B2", "=STDEV(A1:A1)")
	// sample stdev of the classic 2,4,4,4,5,5,7,9 set
	tc.ExpectValue("B1", 2.1380899352993947)
	// fewer than two numerics yields 0
	tc.ExpectValue("B2", 0.0)
}

func TestIfIsLazy(t *testing.T) {
	newWorkbookTestCase(t, "if-lazy").
		Set("A1", "=IF(TRUE, 1, 1/0)").
		Set("A2", "=IF(FALSE, 1/0, 2)").
		ExpectValue("A1", 1.0).
		ExpectValue("A2", 2.0)
}

func TestIfWithoutElse(t *testing.T) {
	newWorkbookTestCase(t, "if-no-else").
		Set("A1", "=IF(1>2, 5)").
		ExpectValue("A1", false)
}

func TestIfConditionErrorPropagates(t *testing.T) {
	newWorkbookTestCase(t, "if-cond-error").
		Set("A1", "=IF(1/0, 1, 2)").
		ExpectError("A1", ErrorCodeDiv0)
}

func TestLogicalFunctions(t *testing.T) {
	newWorkbookTestCase(t, "logical").
		Set("A1", "=AND(TRUE, 1, \"TRUE\")").
		Set("A2", "=AND(TRUE, 0)").
		Set("A3", "=OR(FALSE, 0, 3)").
		Set("A4", "=OR(FALSE, 0)").
		Set("A5", "=NOT(TRUE)").
		ExpectValue("A1", true).
		ExpectValue("A2", false).
		ExpectValue("A3", true).
		ExpectValue("A4", false).
		ExpectValue("A5", false)
}

func TestLogicalFunctionsPropagateRangeErrors(t *testing.T) {
	// an error later in the range wins even when an earlier value
	// already decided the result
	newWorkbookTestCase(t, "logical-range-error").
		Set("A1", false).
		Set("A2", "=1/0").
		Set("A3", "=AND(A1:A2)").
		Set("B1", true).
		Set("B2", "=1/0").
		Set("B3", "=OR(B1:B2)").
		ExpectError("A3", ErrorCodeDiv0).
		ExpectError("B3", ErrorCodeDiv0)
}

func TestTextFunctions(t *testing.T) {
	newWorkbookTestCase(t, "text").
		Set("A1", "Hello").
		Set("A2", "World").
		Set("B1", "=CONCATENATE(A1, \" \", A2)").
		Set("B2", "=LEFT(A1, 3)").
		Set("B3", "=RIGHT(A1, 2)").
		Set("B4", "=MID(A1, 2, 3)").
		Set("B5", "=LEN(A1)").
		Set("B6", "=UPPER(A1)").
		Set("B7", "=LOWER(A1)").
		Set("B8", "=TRIM(\"  pad  \")").
		Set("B9", "=LEFT(A1)").
		ExpectValue("B1", "Hello World").
		ExpectValue("B2", "Hel").
		ExpectValue("B3", "lo").
		ExpectValue("B4", "ell").
		ExpectValue("B5", 5.0).
		ExpectValue("B6", "HELLO").
		ExpectValue("B7", "hello").
		ExpectValue("B8", "pad").
		ExpectValue("B9", "H")
}

func TestConcatenateCoercesNumbers(t *testing.T) {
	newWorkbookTestCase(t, "concat-coerce").
		Set("A1", 42.0).
		Set("B1", "=CONCATENATE(\"n=\", A1)").
		ExpectValue("B1", "n=42")
}

func TestDateFunctions(t *testing.T) {
	// clock pinned to 2026-08-29 10:30 UTC
	newWorkbookTestCase(t, "dates").
		Set("A1", "=YEAR()").
		Set("A2", "=MONTH()").
		Set("A3", "=DAY()").
		Set("A4", "=YEAR(TODAY())").
		Set("A5", "=MONTH(TODAY())").
		Set("A6", "=DAY(TODAY())").
		ExpectValue("A1", 2026.0).
		ExpectValue("A2", 8.0).
		ExpectValue("A3", 29.0).
		ExpectValue("A4", 2026.0).
		ExpectValue("A5", 8.0).
		ExpectValue("A6", 29.0)
}

func TestNowIncludesTimeOfDay(t *testing.T) {
	tc := newWorkbookTestCase(t, "now").
		Set("A1", "=NOW()").
		Set("A2", "=TODAY()")
	now, _ := tc.wb.GetValue(tc.sheet, "A1")
	today, _ := tc.wb.GetValue(tc.sheet, "A2")
	require.IsType(t, 0.0, now)
	require.IsType(t, 0.0, today)
	assert.Greater(t, now.(float64), today.(float64))
	assert.Less(t, now.(float64)-today.(float64), 1.0)
}

func lookupTable(tc *WorkbookTestCase) *WorkbookTestCase {
	return tc.
		Set("A1", 1.0).Set("B1", "one").
		Set("A2", 2.0).Set("B2", "two").
		Set("A3", 3.0).Set("B3", "three")
}

func TestVlookupExactHitAndMiss(t *testing.T) {
	lookupTable(newWorkbookTestCase(t, "vlookup")).
		Set("D1", "=VLOOKUP(2, A1:B3, 2, TRUE)").
		Set("D2", "=VLOOKUP(9, A1:B3, 2, TRUE)").
		ExpectValue("D1", "two").
		ExpectError("D2", ErrorCodeNA)
}

func TestVlookupApproximate(t *testing.T) {
	lookupTable(newWorkbookTestCase(t, "vlookup-approx")).
		Set("D1", "=VLOOKUP(2.5, A1:B3, 2)").
		Set("D2", "=VLOOKUP(0.5, A1:B3, 2)").
		ExpectValue("D1", "two"). // largest key <= 2.5
		ExpectError("D2", ErrorCodeNA)
}

func TestVlookupStringKeys(t *testing.T) {
	newWorkbookTestCase(t, "vlookup-strings").
		Set("A1", "x").Set("B1", 1.0).
		Set("A2", "y").Set("B2", 2.0).
		Set("A3", "z").Set("B3", 3.0).
		Set("D1", "=VLOOKUP(\"y\", A1:B3, 2, FALSE)").
		Set("D2", "=VLOOKUP(\"w\", A1:B3, 2, FALSE)").
		ExpectValue("D1", 2.0).
		ExpectError("D2", ErrorCodeNA)
}

func TestVlookupColumnIndexOutsideRange(t *testing.T) {
	lookupTable(newWorkbookTestCase(t, "vlookup-ref")).
		Set("D1", "=VLOOKUP(1, A1:B3, 3, TRUE)").
		ExpectError("D1", ErrorCodeRef)
}

func TestHlookup(t *testing.T) {
	newWorkbookTestCase(t, "hlookup").
		Set("A1", 1.0).Set("B1", 2.0).Set("C1", 3.0).
		Set("A2", "jan").Set("B2", "feb").Set("C2", "mar").
		Set("E1", "=HLOOKUP(2, A1:C2, 2, TRUE)").
		Set("E2", "=HLOOKUP(9, A1:C2, 2, TRUE)").
		ExpectValue("E1", "feb").
		ExpectError("E2", ErrorCodeNA)
}

func TestIndex(t *testing.T) {
	lookupTable(newWorkbookTestCase(t, "index")).
		Set("D1", "=INDEX(A1:B3, 2, 2)").
		Set("D2", "=INDEX(A1:A3, 2)").
		Set("D3", "=INDEX(A1:B3, 4, 1)").
		ExpectValue("D1", "two").
		ExpectValue("D2", 2.0).
		ExpectError("D3", ErrorCodeRef)
}

func TestMatch(t *testing.T) {
	lookupTable(newWorkbookTestCase(t, "match")).
		Set("D1", "=MATCH(2, A1:A3, 0)").
		Set("D2", "=MATCH(2.5, A1:A3, 1)").
		Set("D3", "=MATCH(9, A1:A3, 0)").
		ExpectValue("D1", 2.0).
		ExpectValue("D2", 2.0).
		ExpectError("D3", ErrorCodeNA)
}

func TestMathFunctions(t *testing.T) {
	newWorkbookTestCase(t, "math").
		Set("A1", "=ABS(-5)").
		Set("A2", "=ROUND(2.567, 2)").
		Set("A3", "=ROUND(2.5)").
		Set("A4", "=MOD(7, 3)").
		Set("A5", "=MOD(-7, 3)").
		Set("A6", "=MOD(7, 0)").
		Set("A7", "=SQRT(16)").
		Set("A8", "=SQRT(0-4)").
		Set("A9", "=POWER(2, 10)").
		Set("A10", "=PI()").
		ExpectValue("A1", 5.0).
		ExpectValue("A2", 2.57).
		ExpectValue("A3", 3.0).
		ExpectValue("A4", 1.0).
		ExpectValue("A5", 2.0). // sign follows the divisor
		ExpectError("A6", ErrorCodeDiv0).
		ExpectValue("A7", 4.0).
		ExpectError("A8", ErrorCodeGeneric).
		ExpectValue("A9", 1024.0).
		ExpectValue("A10", 3.141592653589793)
}

func TestArithmeticCoercions(t *testing.T) {
	newWorkbookTestCase(t, "coercions").
		Set("A1", "text").
		Set("A2", "5").
		Set("B1", "=A1+1"). // non-numeric coerces to 0
		Set("B2", "=A2*2"). // numeric text parses
		Set("B3", "=A9+7"). // blank coerces to 0
		ExpectValue("B1", 1.0).
		ExpectValue("B2", 10.0).
		ExpectValue("B3", 7.0)
}

func TestComparisonSemantics(t *testing.T) {
	newWorkbookTestCase(t, "comparisons").
		Set("A1", "Apple").
		Set("A2", "apple").
		Set("B1", "=A1=A2"). // string comparison is case-insensitive
		Set("B2", "=1=\"1\"").
		Set("B3", "=2>1").
		Set("B4", "=\"a\"<\"B\"").
		Set("B5", "=3<>3").
		ExpectValue("B1", true).
		ExpectValue("B2", true).
		ExpectValue("B3", true).
		ExpectValue("B4", true).
		ExpectValue("B5", false)
}

func TestWrongArgumentCount(t *testing.T) {
	newWorkbookTestCase(t, "arity").
		Set("A1", "=NOT()").
		Set("A2", "=MID(\"abc\", 1)").
		ExpectError("A1", ErrorCodeGeneric).
		ExpectError("A2", ErrorCodeGeneric)
}

func TestRegistryRejectsInvalidRegistration(t *testing.T) {
	reg := NewRegistry(&WallClock{})
	err := reg.Register(&Function{Name: ""})
	require.Error(t, err)
	err = reg.Register(&Function{Name: "BROKEN"})
	require.Error(t, err)
}
