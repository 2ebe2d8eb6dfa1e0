package spreadsheet

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// CalculationMode controls when formula propagation runs.
type CalculationMode string

const (
	// CalculationAuto propagates synchronously after every edit.
	CalculationAuto CalculationMode = "auto"
	// CalculationManual defers propagation until RecalculateAll.
	CalculationManual CalculationMode = "manual"
)

// date serial epoch systems.
const (
	DateSystem1900 = 1900
	DateSystem1904 = 1904
)

// Settings are workbook-level calculation options.
type Settings struct {
	CalculationMode CalculationMode `json:"calculationMode"`
	Precision       int             `json:"precision"` // decimal places; 0 disables rounding
	DateSystem      int             `json:"dateSystem"`
}

// NamedRange binds a name to a range on one sheet. a structural delete
// that removes the whole target marks the name broken; broken names
// evaluate to #REF!.
type NamedRange struct {
	SheetID string `json:"sheetId"`
	Target  Range  `json:"target"`
	Broken  bool   `json:"broken,omitempty"`
}

// CellInput is the write shape for a single cell. Value and Formula are
// mutually exclusive; Format is an opaque style blob stored alongside.
type CellInput struct {
	Value   Primitive
	Formula string
	Format  map[string]any
}

// CellValue is the read shape for a single cell.
type CellValue struct {
	Type    CellType
	Value   Primitive
	Formula string
}

// Workbook is an ordered collection of sheets plus calculation
// settings, named ranges, and per-sheet dependency graphs. a single
// RWMutex gives single-writer semantics: concurrent reads are safe and
// observe either pre- or post-mutation state, never a torn one.
type Workbook struct {
	mu sync.RWMutex

	sheets   []*Sheet
	active   string
	names    map[string]NamedRange
	settings Settings

	graphs        map[string]*DependencyGraph
	registry      *Registry
	lastPassEvals int
}

// NewWorkbook creates a workbook with one empty sheet named Sheet1 and
// the wall clock driving date functions.
func NewWorkbook() *Workbook {
	return NewWorkbookWithClock(&WallClock{})
}

// NewWorkbookWithClock creates a workbook with an injected clock so
// date functions are deterministic under test.
func NewWorkbookWithClock(clock Clock) *Workbook {
	wb := &Workbook{
		names:    make(map[string]NamedRange),
		graphs:   make(map[string]*DependencyGraph),
		registry: NewRegistry(clock),
		settings: Settings{
			CalculationMode: CalculationAuto,
			DateSystem:      DateSystem1900,
		},
	}
	s := NewSheet("Sheet1")
	wb.sheets = append(wb.sheets, s)
	wb.graphs[s.ID] = NewDependencyGraph()
	wb.active = s.ID
	return wb
}

// Registry exposes the function registry for custom registrations.
func (wb *Workbook) Registry() *Registry {
	return wb.registry
}

// Settings returns the current calculation settings.
func (wb *Workbook) Settings() Settings {
	wb.mu.RLock()
	defer wb.mu.RUnlock()
	return wb.settings
}

// SetCalculationMode switches between auto and manual propagation.
func (wb *Workbook) SetCalculationMode(mode CalculationMode) error {
	if mode != CalculationAuto && mode != CalculationManual {
		return NewApplicationError(InvalidArgument, fmt.Sprintf("unknown calculation mode %q", mode))
	}
	wb.mu.Lock()
	wb.settings.CalculationMode = mode
	wb.mu.Unlock()
	if mode == CalculationAuto {
		// entering auto mode flushes anything deferred
		return wb.RecalculateAll()
	}
	return nil
}

// SetPrecision sets result rounding to n decimal places (0 disables)
// and recomputes stored results.
func (wb *Workbook) SetPrecision(n int) error {
	if n < 0 {
		return NewApplicationError(InvalidArgument, "precision must be >= 0")
	}
	wb.mu.Lock()
	wb.settings.Precision = n
	wb.mu.Unlock()
	return wb.RecalculateAll()
}

// SetDateSystem selects the 1900 or 1904 date serial epoch.
func (wb *Workbook) SetDateSystem(system int) error {
	if system != DateSystem1900 && system != DateSystem1904 {
		return NewApplicationError(InvalidArgument, fmt.Sprintf("unknown date system %d", system))
	}
	wb.mu.Lock()
	wb.settings.DateSystem = system
	wb.mu.Unlock()
	return wb.RecalculateAll()
}

// finishValue applies precision rounding to a numeric result.
func (wb *Workbook) finishValue(v Primitive) Primitive {
	if wb.settings.Precision <= 0 {
		return v
	}
	if f, ok := v.(float64); ok {
		return roundTo(f, wb.settings.Precision)
	}
	return v
}

// LastPassEvaluations reports how many formula evaluations the most
// recent propagation pass performed.
func (wb *Workbook) LastPassEvaluations() int {
	wb.mu.RLock()
	defer wb.mu.RUnlock()
	return wb.lastPassEvals
}

// sheetByID finds a sheet and its position. callers hold the lock.
func (wb *Workbook) sheetByID(id string) (int, *Sheet, error) {
	for i, s := range wb.sheets {
		if s.ID == id {
			return i, s, nil
		}
	}
	return 0, nil, NewApplicationError(NotFound, fmt.Sprintf("sheet %s not found", id))
}

// CreateSheet adds an empty sheet and returns its id. names must be
// unique within the workbook.
func (wb *Workbook) CreateSheet(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", NewApplicationError(InvalidArgument, "sheet name must not be empty")
	}
	wb.mu.Lock()
	defer wb.mu.Unlock()
	for _, s := range wb.sheets {
		if strings.EqualFold(s.Name, name) {
			return "", NewApplicationError(AlreadyExists, fmt.Sprintf("sheet %q already exists", name))
		}
	}
	s := NewSheet(name)
	wb.sheets = append(wb.sheets, s)
	wb.graphs[s.ID] = NewDependencyGraph()
	return s.ID, nil
}

// DeleteSheet removes a sheet. the last remaining sheet cannot be
// deleted; a workbook always holds at least one.
func (wb *Workbook) DeleteSheet(id string) error {
	wb.mu.Lock()
	defer wb.mu.Unlock()
	if len(wb.sheets) == 1 {
		return NewApplicationError(FailedPrecondition, "cannot delete the last sheet")
	}
	idx, _, err := wb.sheetByID(id)
	if err != nil {
		return err
	}
	wb.sheets = append(wb.sheets[:idx], wb.sheets[idx+1:]...)
	delete(wb.graphs, id)
	for name, nr := range wb.names {
		if nr.SheetID == id {
			delete(wb.names, name)
		}
	}
	if wb.active == id {
		wb.active = wb.sheets[0].ID
	}
	return nil
}

// RenameSheet changes a sheet's display name.
func (wb *Workbook) RenameSheet(id, name string) error {
	if strings.TrimSpace(name) == "" {
		return NewApplicationError(InvalidArgument, "sheet name must not be empty")
	}
	wb.mu.Lock()
	defer wb.mu.Unlock()
	for _, s := range wb.sheets {
		if strings.EqualFold(s.Name, name) && s.ID != id {
			return NewApplicationError(AlreadyExists, fmt.Sprintf("sheet %q already exists", name))
		}
	}
	_, s, err := wb.sheetByID(id)
	if err != nil {
		return err
	}
	s.Name = name
	return nil
}

// SheetIDs returns sheet ids in workbook order.
func (wb *Workbook) SheetIDs() []string {
	wb.mu.RLock()
	defer wb.mu.RUnlock()
	out := make([]string, len(wb.sheets))
	for i, s := range wb.sheets {
		out[i] = s.ID
	}
	return out
}

// SheetName returns the display name for a sheet id.
func (wb *Workbook) SheetName(id string) (string, error) {
	wb.mu.RLock()
	defer wb.mu.RUnlock()
	_, s, err := wb.sheetByID(id)
	if err != nil {
		return "", err
	}
	return s.Name, nil
}

// SheetIDByName resolves a display name to a sheet id.
func (wb *Workbook) SheetIDByName(name string) (string, error) {
	wb.mu.RLock()
	defer wb.mu.RUnlock()
	for _, s := range wb.sheets {
		if strings.EqualFold(s.Name, name) {
			return s.ID, nil
		}
	}
	return "", NewApplicationError(NotFound, fmt.Sprintf("sheet %q not found", name))
}

// SetActiveSheet records which sheet is active.
func (wb *Workbook) SetActiveSheet(id string) error {
	wb.mu.Lock()
	defer wb.mu.Unlock()
	if _, _, err := wb.sheetByID(id); err != nil {
		return err
	}
	wb.active = id
	return nil
}

// ActiveSheet returns the active sheet id.
func (wb *Workbook) ActiveSheet() string {
	wb.mu.RLock()
	defer wb.mu.RUnlock()
	return wb.active
}

// SetCell writes one cell. a cell holds a literal value or a formula,
// never both; supplying both is rejected. in auto mode the change
// propagates to every transitive dependent before returning.
func (wb *Workbook) SetCell(sheetID, ref string, in CellInput) error {
	if in.Formula != "" && in.Value != nil {
		return NewApplicationError(InvalidArgument, "cell takes a value or a formula, not both")
	}
	a, err := DecodeAddress(ref)
	if err != nil {
		return err
	}
	wb.mu.Lock()
	defer wb.mu.Unlock()
	_, s, err := wb.sheetByID(sheetID)
	if err != nil {
		return err
	}
	if !s.inBounds(a) {
		return NewApplicationError(OutOfRange, fmt.Sprintf("address %s exceeds sheet capacity", ref))
	}
	if err := wb.setCellLocked(s, a, in); err != nil {
		return err
	}
	wb.afterEdit(s, []Address{a})
	return nil
}

// setCellLocked applies one cell write. callers hold the write lock.
func (wb *Workbook) setCellLocked(s *Sheet, a Address, in CellInput) error {
	dg := wb.graphs[s.ID]
	c := s.cellOrCreate(a)
	if in.Format != nil {
		c.Format = in.Format
	}
	if in.Formula != "" {
		text := strings.TrimPrefix(in.Formula, "=")
		c.Value = nil
		c.Formula = "=" + text
		ast, err := ParseFormula(text)
		if err != nil {
			// formula text is preserved, the cell displays #ERROR!
			c.ast = nil
			c.Result = NewCellError(ErrorCodeGeneric, err.Error())
			dg.Remove(a)
			return nil
		}
		c.ast = ast
		c.Result = nil
		wb.linkFormula(dg, s, a, ast)
		return nil
	}
	value, err := normalizeLiteral(in.Value)
	if err != nil {
		return err
	}
	c.Value = value
	c.Formula = ""
	c.ast = nil
	c.Result = nil
	dg.Remove(a)
	return nil
}

// normalizeLiteral converts supported literal inputs to the canonical
// primitive set; integers widen to float64.
func normalizeLiteral(v Primitive) (Primitive, error) {
	switch value := v.(type) {
	case nil, float64, string, bool, *CellError:
		return v, nil
	case int:
		return float64(value), nil
	case int32:
		return float64(value), nil
	case int64:
		return float64(value), nil
	case float32:
		return float64(value), nil
	default:
		return nil, NewApplicationError(InvalidArgument, fmt.Sprintf("unsupported value type %T", v))
	}
}

// linkFormula extracts references from an AST and records them as
// precedent edges. named references also register their current target
// range so edits inside the target propagate.
func (wb *Workbook) linkFormula(dg *DependencyGraph, s *Sheet, a Address, ast Node) {
	var cells []Address
	var ranges []Range
	var names []string
	collectRefs(ast, &cells, &ranges, &names)
	for _, name := range names {
		if r, ok := wb.resolveName(s.ID, name); ok {
			ranges = append(ranges, r)
		}
	}
	dg.SetPrecedents(a, cells, ranges, names, isVolatile(ast, wb.registry))
}

// afterEdit propagates a batch of changed addresses according to the
// calculation mode. callers hold the write lock.
func (wb *Workbook) afterEdit(s *Sheet, changed []Address) {
	dg := wb.graphs[s.ID]
	if wb.settings.CalculationMode == CalculationManual {
		for _, a := range changed {
			dg.MarkDirty(a)
		}
		return
	}
	wb.recalculate(s, changed)
}

// GetValue returns the computed value at the reference; nil for empty
// cells, the cached result for formula cells.
func (wb *Workbook) GetValue(sheetID, ref string) (Primitive, error) {
	a, err := DecodeAddress(ref)
	if err != nil {
		return nil, err
	}
	wb.mu.RLock()
	defer wb.mu.RUnlock()
	_, s, err := wb.sheetByID(sheetID)
	if err != nil {
		return nil, err
	}
	return s.ValueAt(a), nil
}

// GetCell returns the cell's computed value plus its formula text.
func (wb *Workbook) GetCell(sheetID, ref string) (CellValue, error) {
	a, err := DecodeAddress(ref)
	if err != nil {
		return CellValue{}, err
	}
	wb.mu.RLock()
	defer wb.mu.RUnlock()
	_, s, err := wb.sheetByID(sheetID)
	if err != nil {
		return CellValue{}, err
	}
	c := s.Cell(a)
	if c == nil {
		return CellValue{Type: CellValueTypeEmpty}, nil
	}
	v := c.CurrentValue()
	return CellValue{Type: TypeOf(v), Value: v, Formula: c.Formula}, nil
}

// SetRange writes a grid of inputs anchored at the range's top-left
// corner. string values with a leading "=" are treated as formulas.
// propagation runs once for the whole batch.
func (wb *Workbook) SetRange(sheetID, rangeText string, values [][]Primitive) error {
	r, err := ParseRange(rangeText)
	if err != nil {
		return err
	}
	wb.mu.Lock()
	defer wb.mu.Unlock()
	_, s, err := wb.sheetByID(sheetID)
	if err != nil {
		return err
	}
	changed := make([]Address, 0, len(values)*4)
	for i, rowValues := range values {
		row := r.StartRow + i
		if row > r.EndRow {
			break
		}
		for j, v := range rowValues {
			col := r.StartCol + j
			if col > r.EndCol {
				break
			}
			a := Address{Row: row, Col: col}
			if !s.inBounds(a) {
				return NewApplicationError(OutOfRange, fmt.Sprintf("address %s exceeds sheet capacity", a))
			}
			in := CellInput{Value: v}
			if text, ok := v.(string); ok && strings.HasPrefix(text, "=") {
				in = CellInput{Formula: text}
			}
			if err := wb.setCellLocked(s, a, in); err != nil {
				return err
			}
			changed = append(changed, a)
		}
	}
	wb.afterEdit(s, changed)
	return nil
}

// ClearRange empties every cell in the range. dependents of the cleared
// cells see blanks and recompute.
func (wb *Workbook) ClearRange(sheetID, rangeText string) error {
	r, err := ParseRange(rangeText)
	if err != nil {
		return err
	}
	wb.mu.Lock()
	defer wb.mu.Unlock()
	_, s, err := wb.sheetByID(sheetID)
	if err != nil {
		return err
	}
	dg := wb.graphs[s.ID]
	cleared := make([]Address, 0)
	for a := range r.Addresses() {
		if s.Cell(a) == nil {
			continue
		}
		s.removeCell(a)
		dg.Remove(a)
		cleared = append(cleared, a)
	}
	wb.afterEdit(s, cleared)
	return nil
}

// DefineName binds a name to a range on a sheet. names share the
// identifier grammar with functions, so a cell-reference shaped name is
// rejected.
func (wb *Workbook) DefineName(name, sheetID, rangeText string) error {
	upper := strings.ToUpper(strings.TrimSpace(name))
	if upper == "" || isCellRef(upper) || !validName(upper) {
		return NewApplicationError(InvalidArgument, fmt.Sprintf("invalid range name %q", name))
	}
	r, err := ParseRange(rangeText)
	if err != nil {
		return err
	}
	wb.mu.Lock()
	defer wb.mu.Unlock()
	_, s, err := wb.sheetByID(sheetID)
	if err != nil {
		return err
	}
	wb.names[upper] = NamedRange{SheetID: sheetID, Target: r}
	// re-link and recompute everything that reads this name
	dg := wb.graphs[s.ID]
	dependents := dg.NameDependents(upper)
	for _, a := range dependents {
		if c := s.Cell(a); c != nil && c.ast != nil {
			wb.linkFormula(dg, s, a, c.ast)
		}
	}
	if len(dependents) > 0 {
		wb.afterEdit(s, dependents)
	}
	return nil
}

// DeleteName removes a named range definition. readers of the name are
// relinked and recomputed so they settle on an error value instead of
// serving a stale cached result.
func (wb *Workbook) DeleteName(name string) error {
	upper := strings.ToUpper(strings.TrimSpace(name))
	wb.mu.Lock()
	defer wb.mu.Unlock()
	if _, ok := wb.names[upper]; !ok {
		return NewApplicationError(NotFound, fmt.Sprintf("name %q not defined", name))
	}
	delete(wb.names, upper)
	for _, s := range wb.sheets {
		dg := wb.graphs[s.ID]
		dependents := dg.NameDependents(upper)
		for _, a := range dependents {
			if c := s.Cell(a); c != nil && c.ast != nil {
				wb.linkFormula(dg, s, a, c.ast)
			}
		}
		if len(dependents) > 0 {
			wb.afterEdit(s, dependents)
		}
	}
	return nil
}

// resolveName returns the target of a defined, unbroken name scoped to
// the sheet. callers hold at least the read lock.
func (wb *Workbook) resolveName(sheetID, name string) (Range, bool) {
	nr, ok := wb.names[strings.ToUpper(name)]
	if !ok || nr.Broken || nr.SheetID != sheetID {
		return Range{}, false
	}
	return nr.Target, true
}

// validName checks the identifier grammar for named ranges.
func validName(name string) bool {
	for i, ch := range name {
		if ch >= 'A' && ch <= 'Z' || ch == '_' {
			continue
		}
		if i > 0 && (ch >= '0' && ch <= '9' || ch == '.') {
			continue
		}
		return false
	}
	return true
}

// CreateChart stores opaque chart metadata on a sheet and returns the
// chart id. the engine never interprets the definition.
func (wb *Workbook) CreateChart(sheetID string, spec map[string]any) (string, error) {
	wb.mu.Lock()
	defer wb.mu.Unlock()
	_, s, err := wb.sheetByID(sheetID)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	s.Charts = append(s.Charts, ChartMeta{ID: id, Spec: spec})
	return id, nil
}

// ApplyFilter stores a filter definition over a range. predicates are
// opaque to the engine.
func (wb *Workbook) ApplyFilter(sheetID, rangeText string, predicates map[string]any) error {
	r, err := ParseRange(rangeText)
	if err != nil {
		return err
	}
	wb.mu.Lock()
	defer wb.mu.Unlock()
	_, s, err := wb.sheetByID(sheetID)
	if err != nil {
		return err
	}
	s.Filters = append(s.Filters, FilterSpec{Target: r, Predicates: predicates})
	return nil
}

// MergeCells records a merged region on a sheet.
func (wb *Workbook) MergeCells(sheetID, rangeText string) error {
	r, err := ParseRange(rangeText)
	if err != nil {
		return err
	}
	wb.mu.Lock()
	defer wb.mu.Unlock()
	_, s, err := wb.sheetByID(sheetID)
	if err != nil {
		return err
	}
	s.Merged = append(s.Merged, r)
	return nil
}

// Recalculate recomputes every formula on one sheet in dependency order.
func (wb *Workbook) Recalculate(sheetID string) error {
	wb.mu.Lock()
	defer wb.mu.Unlock()
	_, s, err := wb.sheetByID(sheetID)
	if err != nil {
		return err
	}
	wb.graphs[s.ID].TakeDirty()
	wb.recalculate(s, s.FormulaCells())
	return nil
}

// RecalculateAll recomputes every formula on every sheet, draining any
// edits deferred by manual mode.
func (wb *Workbook) RecalculateAll() error {
	wb.mu.Lock()
	defer wb.mu.Unlock()
	total := 0
	for _, s := range wb.sheets {
		wb.graphs[s.ID].TakeDirty()
		total += wb.recalculate(s, s.FormulaCells())
	}
	wb.lastPassEvals = total
	return nil
}
