package spreadsheet

// Primitive represents basic spreadsheet value types.
// types:
//   - float64: numeric values (integers are converted to float64)
//   - string: text values
//   - bool: boolean values (TRUE/FALSE)
//   - nil: empty/null cells
//   - *CellError: error values (#DIV/0!, #REF!, etc.)
type Primitive any

// CellType represents numeric constants for cell value
// types (external API)
type CellType uint8

const (
	CellValueTypeEmpty   CellType = 0
	CellValueTypeNumber  CellType = 1
	CellValueTypeString  CellType = 2
	CellValueTypeBoolean CellType = 3
	CellValueTypeError   CellType = 4
)

// TypeOf classifies a primitive for the external API.
func TypeOf(v Primitive) CellType {
	switch v.(type) {
	case nil:
		return CellValueTypeEmpty
	case float64:
		return CellValueTypeNumber
	case string:
		return CellValueTypeString
	case bool:
		return CellValueTypeBoolean
	case *CellError:
		return CellValueTypeError
	default:
		return CellValueTypeError
	}
}

// Cell represents a spreadsheet cell with its data and metadata.
// a cell holds either a literal value or a formula, never both: setting
// one clears the other.
type Cell struct {
	Row     int            // 1-based row index
	Col     int            // 1-based column index
	Value   Primitive      // literal value; nil for formula cells
	Formula string         // formula text including leading "="; empty for literal cells
	Result  Primitive      // cached computed value for formula cells
	Format  map[string]any // opaque style blob, not interpreted by the engine

	// ast is the cached parse of Formula. nil when the formula failed to
	// parse (Result then holds #ERROR!).
	ast Node
}

// Address returns the cell's position.
func (c *Cell) Address() Address {
	return Address{Row: c.Row, Col: c.Col}
}

// IsFormula reports whether the cell holds a formula.
func (c *Cell) IsFormula() bool {
	return c.Formula != ""
}

// CurrentValue returns the computed value for formula cells and the
// literal for everything else.
func (c *Cell) CurrentValue() Primitive {
	if c.IsFormula() {
		return c.Result
	}
	return c.Value
}

// clone copies the cell. the format blob is copied deeply so mutations
// of the copy never leak into the original; the ast pointer is shared
// (nodes are immutable except during rebasing, which always operates on
// a cloned sheet).
func (c *Cell) clone() *Cell {
	out := &Cell{
		Row:     c.Row,
		Col:     c.Col,
		Value:   c.Value,
		Formula: c.Formula,
		Result:  c.Result,
		ast:     c.ast,
	}
	if c.Format != nil {
		out.Format = cloneBlob(c.Format)
	}
	return out
}
