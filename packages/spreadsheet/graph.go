package spreadsheet

import "sort"

// dependencyNode tracks the edges of one formula cell. nodes only exist
// for cells holding formulas.
type dependencyNode struct {
	cellPrecedents  map[Address]struct{} // cells this cell reads
	cellDependents  map[Address]struct{} // formula cells reading this cell
	rangePrecedents map[Range]struct{}   // ranges this cell reads
	namePrecedents  map[string]struct{}  // named ranges this cell reads
}

func newDependencyNode() *dependencyNode {
	return &dependencyNode{
		cellPrecedents:  make(map[Address]struct{}),
		cellDependents:  make(map[Address]struct{}),
		rangePrecedents: make(map[Range]struct{}),
		namePrecedents:  make(map[string]struct{}),
	}
}

// DependencyGraph manages precedent/dependent edges for one sheet. range
// precedents are tracked through an observer index instead of being
// expanded to cell edges, so =SUM(A1:A100000) costs one entry.
type DependencyGraph struct {
	nodes          map[Address]*dependencyNode
	rangeObservers map[Range]map[Address]struct{}
	dirtySet       map[Address]struct{} // cells awaiting recalculation (manual mode)
	volatileCells  map[Address]struct{} // cells that recompute every pass
}

// NewDependencyGraph creates an empty dependency graph
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		nodes:          make(map[Address]*dependencyNode),
		rangeObservers: make(map[Range]map[Address]struct{}),
		dirtySet:       make(map[Address]struct{}),
		volatileCells:  make(map[Address]struct{}),
	}
}

func (dg *DependencyGraph) nodeOrCreate(a Address) *dependencyNode {
	if node, ok := dg.nodes[a]; ok {
		return node
	}
	node := newDependencyNode()
	dg.nodes[a] = node
	return node
}

// SetPrecedents replaces the precedent set of a formula cell with the
// references extracted from its AST. the old edges are fully unlinked
// first so stale dependencies never linger.
func (dg *DependencyGraph) SetPrecedents(a Address, cells []Address, ranges []Range, names []string, volatile bool) {
	dg.clearPrecedents(a)
	node := dg.nodeOrCreate(a)
	for _, p := range cells {
		node.cellPrecedents[p] = struct{}{}
		dg.nodeOrCreate(p).cellDependents[a] = struct{}{}
	}
	for _, r := range ranges {
		node.rangePrecedents[r] = struct{}{}
		if dg.rangeObservers[r] == nil {
			dg.rangeObservers[r] = make(map[Address]struct{})
		}
		dg.rangeObservers[r][a] = struct{}{}
	}
	for _, n := range names {
		node.namePrecedents[n] = struct{}{}
	}
	if volatile {
		dg.volatileCells[a] = struct{}{}
	} else {
		delete(dg.volatileCells, a)
	}
}

// clearPrecedents unlinks all outgoing edges of a cell.
func (dg *DependencyGraph) clearPrecedents(a Address) {
	node, ok := dg.nodes[a]
	if !ok {
		return
	}
	for p := range node.cellPrecedents {
		if pn, ok := dg.nodes[p]; ok {
			delete(pn.cellDependents, a)
			dg.pruneNode(p)
		}
	}
	node.cellPrecedents = make(map[Address]struct{})
	for r := range node.rangePrecedents {
		if obs, ok := dg.rangeObservers[r]; ok {
			delete(obs, a)
			if len(obs) == 0 {
				delete(dg.rangeObservers, r)
			}
		}
	}
	node.rangePrecedents = make(map[Range]struct{})
	node.namePrecedents = make(map[string]struct{})
}

// Remove deletes a cell from the graph entirely (the cell no longer
// holds a formula, or was removed by a structural edit).
func (dg *DependencyGraph) Remove(a Address) {
	dg.clearPrecedents(a)
	delete(dg.volatileCells, a)
	delete(dg.dirtySet, a)
	dg.pruneNode(a)
}

// pruneNode drops a node that carries no edges at all.
func (dg *DependencyGraph) pruneNode(a Address) {
	node, ok := dg.nodes[a]
	if !ok {
		return
	}
	if len(node.cellPrecedents) == 0 && len(node.cellDependents) == 0 &&
		len(node.rangePrecedents) == 0 && len(node.namePrecedents) == 0 {
		delete(dg.nodes, a)
	}
}

// PrecedentsOf returns the outgoing references of a formula cell.
func (dg *DependencyGraph) PrecedentsOf(a Address) (cells []Address, ranges []Range) {
	node, ok := dg.nodes[a]
	if !ok {
		return nil, nil
	}
	for p := range node.cellPrecedents {
		cells = append(cells, p)
	}
	for r := range node.rangePrecedents {
		ranges = append(ranges, r)
	}
	return cells, ranges
}

// DirectDependents returns every formula cell that reads the given
// address, through a direct edge or through a range containing it.
func (dg *DependencyGraph) DirectDependents(a Address) []Address {
	seen := make(map[Address]struct{})
	if node, ok := dg.nodes[a]; ok {
		for d := range node.cellDependents {
			seen[d] = struct{}{}
		}
	}
	for r, observers := range dg.rangeObservers {
		if !r.Contains(a) {
			continue
		}
		for d := range observers {
			seen[d] = struct{}{}
		}
	}
	return sortedAddresses(seen)
}

// NameDependents returns every formula cell reading the given named range.
func (dg *DependencyGraph) NameDependents(name string) []Address {
	seen := make(map[Address]struct{})
	for a, node := range dg.nodes {
		if _, ok := node.namePrecedents[name]; ok {
			seen[a] = struct{}{}
		}
	}
	return sortedAddresses(seen)
}

// MarkDirty records a cell for the next manual recalculation.
func (dg *DependencyGraph) MarkDirty(a Address) {
	dg.dirtySet[a] = struct{}{}
}

// TakeDirty drains and returns the dirty set.
func (dg *DependencyGraph) TakeDirty() []Address {
	out := sortedAddresses(dg.dirtySet)
	dg.dirtySet = make(map[Address]struct{})
	return out
}

// VolatileCells returns the cells that must recompute on every pass.
func (dg *DependencyGraph) VolatileCells() []Address {
	return sortedAddresses(dg.volatileCells)
}

// sortedAddresses returns the set in deterministic row-major order.
func sortedAddresses(set map[Address]struct{}) []Address {
	out := make([]Address, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Row != out[j].Row {
			return out[i].Row < out[j].Row
		}
		return out[i].Col < out[j].Col
	})
	return out
}

// pass state for the tri-state cycle detection walk. zero value means
// the cell has not been visited this pass.
type passState uint8

const (
	stateClean passState = iota
	stateEvaluating
	stateDone
	stateCircular
)

// recalculate runs one propagation pass over the seeds plus their
// transitive dependents (volatile cells join every pass). dependencies
// are visited depth-first so each affected formula evaluates exactly
// once, even through diamond topologies. returns the number of formula
// evaluations performed.
func (wb *Workbook) recalculate(s *Sheet, seeds []Address) int {
	dg := wb.graphs[s.ID]

	affected := make(map[Address]struct{})
	var grow func(a Address)
	grow = func(a Address) {
		if _, ok := affected[a]; ok {
			return
		}
		affected[a] = struct{}{}
		for _, d := range dg.DirectDependents(a) {
			grow(d)
		}
	}
	for _, a := range seeds {
		grow(a)
	}
	for _, a := range dg.VolatileCells() {
		grow(a)
	}

	ctx := &evalContext{wb: wb, sheet: s}
	state := make(map[Address]passState, len(affected))
	stack := make([]Address, 0, 16)
	evals := 0

	var visit func(a Address)
	visit = func(a Address) {
		switch state[a] {
		case stateDone, stateCircular:
			return
		case stateEvaluating:
			// re-entered while on the stack: everything from the
			// re-entry point up is one cycle, all of it collapses
			// to #CIRC!
			for i := len(stack) - 1; i >= 0; i-- {
				member := stack[i]
				state[member] = stateCircular
				if c := s.Cell(member); c != nil && c.IsFormula() {
					c.Result = NewCellError(ErrorCodeCirc, "")
				}
				if member == a {
					break
				}
			}
			return
		}
		c := s.Cell(a)
		if c == nil || !c.IsFormula() {
			state[a] = stateDone
			return
		}
		state[a] = stateEvaluating
		stack = append(stack, a)
		cells, ranges := dg.PrecedentsOf(a)
		for _, p := range cells {
			if _, ok := affected[p]; ok {
				visit(p)
			}
		}
		for _, r := range ranges {
			for p := range affected {
				if r.Contains(p) {
					visit(p)
				}
			}
		}
		stack = stack[:len(stack)-1]
		if state[a] == stateCircular {
			return
		}
		state[a] = stateDone
		ctx.current = a
		if c.ast == nil {
			c.Result = NewCellError(ErrorCodeGeneric, "")
		} else {
			c.Result = wb.finishValue(c.ast.eval(ctx))
		}
		evals++
	}

	for _, a := range sortedAddresses(affected) {
		visit(a)
	}
	wb.lastPassEvals = evals
	return evals
}
