package spreadsheet

import (
	"encoding/json"
	"fmt"
)

// cell wire shape: {value, formula?, format?}. formula cells serialize
// their text and drop the cached result, which is recomputed on load.
type cellJSON struct {
	Value   any            `json:"value"`
	Formula string         `json:"formula,omitempty"`
	Format  map[string]any `json:"format,omitempty"`
}

type chartJSON struct {
	ID   string         `json:"id"`
	Spec map[string]any `json:"spec"`
}

type filterJSON struct {
	Target     string         `json:"target"`
	Predicates map[string]any `json:"predicates"`
}

type sheetJSON struct {
	ID         string              `json:"id"`
	Name       string              `json:"name"`
	Rows       int                 `json:"rows"`
	Cols       int                 `json:"cols"`
	Cells      map[string]cellJSON `json:"cells"`
	RowHeights map[int]float64     `json:"rowHeights,omitempty"`
	ColWidths  map[int]float64     `json:"colWidths,omitempty"`
	HiddenRows map[int]bool        `json:"hiddenRows,omitempty"`
	HiddenCols map[int]bool        `json:"hiddenCols,omitempty"`
	Merged     []string            `json:"merged,omitempty"`
	Charts     []chartJSON         `json:"charts,omitempty"`
	Filters    []filterJSON        `json:"filters,omitempty"`
}

type namedRangeJSON struct {
	SheetID string `json:"sheetId"`
	Target  string `json:"target"`
	Broken  bool   `json:"broken,omitempty"`
}

type workbookJSON struct {
	Settings Settings                  `json:"settings"`
	Active   string                    `json:"active"`
	Names    map[string]namedRangeJSON `json:"names,omitempty"`
	Sheets   []sheetJSON               `json:"sheets"`
}

// Snapshot serializes the workbook to JSON.
func (wb *Workbook) Snapshot() ([]byte, error) {
	wb.mu.RLock()
	defer wb.mu.RUnlock()

	doc := workbookJSON{
		Settings: wb.settings,
		Active:   wb.active,
		Names:    make(map[string]namedRangeJSON, len(wb.names)),
	}
	for name, nr := range wb.names {
		doc.Names[name] = namedRangeJSON{SheetID: nr.SheetID, Target: nr.Target.String(), Broken: nr.Broken}
	}
	for _, s := range wb.sheets {
		sj := sheetJSON{
			ID:    s.ID,
			Name:  s.Name,
			Rows:  s.Rows,
			Cols:  s.Cols,
			Cells: make(map[string]cellJSON, len(s.cells)),
		}
		for a, c := range s.cells {
			cj := cellJSON{Formula: c.Formula, Format: c.Format}
			if !c.IsFormula() {
				cj.Value = encodeValue(c.Value)
			}
			sj.Cells[a.String()] = cj
		}
		if len(s.RowHeights) > 0 {
			sj.RowHeights = s.RowHeights
		}
		if len(s.ColWidths) > 0 {
			sj.ColWidths = s.ColWidths
		}
		if len(s.HiddenRows) > 0 {
			sj.HiddenRows = s.HiddenRows
		}
		if len(s.HiddenCols) > 0 {
			sj.HiddenCols = s.HiddenCols
		}
		for _, m := range s.Merged {
			sj.Merged = append(sj.Merged, m.String())
		}
		for _, ch := range s.Charts {
			sj.Charts = append(sj.Charts, chartJSON{ID: ch.ID, Spec: ch.Spec})
		}
		for _, f := range s.Filters {
			sj.Filters = append(sj.Filters, filterJSON{Target: f.Target.String(), Predicates: f.Predicates})
		}
		doc.Sheets = append(doc.Sheets, sj)
	}
	return json.Marshal(doc)
}

// encodeValue maps a literal primitive to its wire form. error values
// serialize as their display label.
func encodeValue(v Primitive) any {
	if cellErr, ok := v.(*CellError); ok {
		return cellErr.Label()
	}
	return v
}

// decodeValue maps a wire value back to a primitive. error labels
// decode back into error values.
func decodeValue(v any) Primitive {
	if text, ok := v.(string); ok {
		if code, ok := errorLabels[text]; ok {
			return NewCellError(code, "")
		}
	}
	return v
}

// LoadWorkbook rebuilds a workbook from a Snapshot. literal cells load
// first, formulas after, then one full recalculation restores every
// cached result.
func LoadWorkbook(data []byte) (*Workbook, error) {
	return LoadWorkbookWithClock(data, &WallClock{})
}

// LoadWorkbookWithClock is LoadWorkbook with an injected clock.
func LoadWorkbookWithClock(data []byte, clock Clock) (*Workbook, error) {
	var doc workbookJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, NewApplicationError(InvalidArgument, fmt.Sprintf("malformed workbook document: %v", err))
	}
	if len(doc.Sheets) == 0 {
		return nil, NewApplicationError(InvalidArgument, "workbook document has no sheets")
	}

	wb := &Workbook{
		names:    make(map[string]NamedRange),
		graphs:   make(map[string]*DependencyGraph),
		registry: NewRegistry(clock),
		settings: doc.Settings,
	}
	if wb.settings.CalculationMode == "" {
		wb.settings.CalculationMode = CalculationAuto
	}
	if wb.settings.DateSystem == 0 {
		wb.settings.DateSystem = DateSystem1900
	}

	for name, nj := range doc.Names {
		target, err := ParseRange(nj.Target)
		if err != nil {
			return nil, err
		}
		wb.names[name] = NamedRange{SheetID: nj.SheetID, Target: target, Broken: nj.Broken}
	}

	type pendingFormula struct {
		sheet *Sheet
		addr  Address
		input CellInput
	}
	var formulas []pendingFormula

	for _, sj := range doc.Sheets {
		s := NewSheet(sj.Name)
		if sj.ID != "" {
			s.ID = sj.ID
		}
		if sj.Rows > 0 {
			s.Rows = sj.Rows
		}
		if sj.Cols > 0 {
			s.Cols = sj.Cols
		}
		for k, v := range sj.RowHeights {
			s.RowHeights[k] = v
		}
		for k, v := range sj.ColWidths {
			s.ColWidths[k] = v
		}
		for k, v := range sj.HiddenRows {
			s.HiddenRows[k] = v
		}
		for k, v := range sj.HiddenCols {
			s.HiddenCols[k] = v
		}
		for _, m := range sj.Merged {
			r, err := ParseRange(m)
			if err != nil {
				return nil, err
			}
			s.Merged = append(s.Merged, r)
		}
		for _, ch := range sj.Charts {
			s.Charts = append(s.Charts, ChartMeta{ID: ch.ID, Spec: ch.Spec})
		}
		for _, f := range sj.Filters {
			r, err := ParseRange(f.Target)
			if err != nil {
				return nil, err
			}
			s.Filters = append(s.Filters, FilterSpec{Target: r, Predicates: f.Predicates})
		}
		wb.sheets = append(wb.sheets, s)
		wb.graphs[s.ID] = NewDependencyGraph()

		for ref, cj := range sj.Cells {
			a, err := DecodeAddress(ref)
			if err != nil {
				return nil, err
			}
			if cj.Formula != "" {
				formulas = append(formulas, pendingFormula{
					sheet: s,
					addr:  a,
					input: CellInput{Formula: cj.Formula, Format: cj.Format},
				})
				continue
			}
			if err := wb.setCellLocked(s, a, CellInput{Value: decodeValue(cj.Value), Format: cj.Format}); err != nil {
				return nil, err
			}
		}
	}

	for _, pf := range formulas {
		if err := wb.setCellLocked(pf.sheet, pf.addr, pf.input); err != nil {
			return nil, err
		}
	}

	wb.active = doc.Active
	if _, _, err := wb.sheetByID(wb.active); err != nil {
		wb.active = wb.sheets[0].ID
	}

	for _, s := range wb.sheets {
		wb.recalculate(s, s.FormulaCells())
	}
	return wb, nil
}
