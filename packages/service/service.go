// Package service coordinates workbook documents across persistence,
// caching, and change notification.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Cube-Core-Pro/sheet-engine/packages/bus"
	"github.com/Cube-Core-Pro/sheet-engine/packages/cache"
	"github.com/Cube-Core-Pro/sheet-engine/packages/docstore"
	"github.com/Cube-Core-Pro/sheet-engine/packages/spreadsheet"
)

const defaultCacheTTL = 5 * time.Minute

// Options configures a DocumentService. Store is required, the rest
// default to in-process implementations.
type Options struct {
	Store    docstore.Store
	Cache    cache.Cache
	Bus      bus.Bus
	Logger   *slog.Logger
	CacheTTL time.Duration
}

// document pairs a live workbook with its own lock so edits to
// different documents never contend.
type document struct {
	mu sync.Mutex
	wb *spreadsheet.Workbook
}

// DocumentService owns the live workbooks. every mutation runs in the
// document's critical section, is persisted to the store, and then
// fanned out to the cache and the event bus.
type DocumentService struct {
	store    docstore.Store
	cache    cache.Cache
	bus      bus.Bus
	logger   *slog.Logger
	cacheTTL time.Duration

	mu   sync.Mutex
	docs map[string]*document
}

// NewDocumentService creates a service over the given collaborators.
func NewDocumentService(opts Options) (*DocumentService, error) {
	if opts.Store == nil {
		return nil, spreadsheet.NewApplicationError(spreadsheet.InvalidArgument, "a document store is required")
	}
	if opts.Cache == nil {
		opts.Cache = cache.NewMemoryCache()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Bus == nil {
		opts.Bus = bus.NewMemoryBus(opts.Logger)
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	return &DocumentService{
		store:    opts.Store,
		cache:    opts.Cache,
		bus:      opts.Bus,
		logger:   opts.Logger,
		cacheTTL: opts.CacheTTL,
		docs:     make(map[string]*document),
	}, nil
}

// Create registers a fresh workbook under id and persists it.
func (s *DocumentService) Create(ctx context.Context, id string) error {
	if id == "" {
		return spreadsheet.NewApplicationError(spreadsheet.InvalidArgument, "document id is required")
	}
	s.mu.Lock()
	if _, ok := s.docs[id]; ok {
		s.mu.Unlock()
		return spreadsheet.NewApplicationError(spreadsheet.AlreadyExists, "document "+id+" already exists")
	}
	doc := &document{wb: spreadsheet.NewWorkbook()}
	s.docs[id] = doc
	s.mu.Unlock()

	doc.mu.Lock()
	defer doc.mu.Unlock()
	return s.persist(ctx, id, doc, "", "", nil)
}

// Open returns the live document, loading it from cache or store when
// it is not resident yet. the service lock guards only the document
// map; a slow load of one document never blocks work on the others.
func (s *DocumentService) Open(ctx context.Context, id string) error {
	s.mu.Lock()
	_, resident := s.docs[id]
	s.mu.Unlock()
	if resident {
		return nil
	}
	content, ok := s.cache.Get(id)
	if !ok {
		var err error
		content, err = s.store.Load(ctx, id)
		if err != nil {
			return err
		}
	}
	wb, err := spreadsheet.LoadWorkbook(content)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// a racing open may have won while we loaded; keep its workbook
	if _, ok := s.docs[id]; ok {
		return nil
	}
	s.docs[id] = &document{wb: wb}
	s.logger.Info("document opened", "document", id)
	return nil
}

// Close evicts the document from memory without deleting it.
func (s *DocumentService) Close(id string) {
	s.mu.Lock()
	delete(s.docs, id)
	s.mu.Unlock()
}

// Delete removes the document from memory, cache, and store.
func (s *DocumentService) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.docs, id)
	s.mu.Unlock()
	s.cache.Invalidate(id)
	return s.store.Delete(ctx, id)
}

func (s *DocumentService) resident(id string) (*document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, spreadsheet.NewApplicationError(spreadsheet.FailedPrecondition, "document "+id+" is not open")
	}
	return doc, nil
}

// persist snapshots the workbook and writes it through. the store write
// is authoritative and its error is returned; the cache refresh and the
// change event fan out concurrently afterwards.
func (s *DocumentService) persist(ctx context.Context, id string, doc *document, sheetID, ref string, newValue any) error {
	content, err := doc.wb.Snapshot()
	if err != nil {
		return err
	}
	if err := s.store.Save(ctx, id, content); err != nil {
		s.logger.Error("persisting document failed", "document", id, "error", err)
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.cache.SetWithTTL(id, content, s.cacheTTL)
		return nil
	})
	g.Go(func() error {
		return s.bus.Publish(gctx, bus.Event{
			DocumentID: id,
			SheetID:    sheetID,
			Ref:        ref,
			NewValue:   newValue,
		})
	})
	if err := g.Wait(); err != nil {
		s.logger.Warn("publishing change event failed", "document", id, "error", err)
	}
	return nil
}

// mutate runs fn in the document's critical section and persists the
// result. the in-memory workbook is not rolled back when persistence
// fails; the caller sees the error and the next successful edit writes
// the full current state.
func (s *DocumentService) mutate(ctx context.Context, id, sheetID, ref string, newValue any, fn func(*spreadsheet.Workbook) error) error {
	doc, err := s.resident(id)
	if err != nil {
		return err
	}
	doc.mu.Lock()
	defer doc.mu.Unlock()
	if err := fn(doc.wb); err != nil {
		return err
	}
	return s.persist(ctx, id, doc, sheetID, ref, newValue)
}

// read runs fn against the live workbook without persisting.
func (s *DocumentService) read(id string, fn func(*spreadsheet.Workbook) error) error {
	doc, err := s.resident(id)
	if err != nil {
		return err
	}
	doc.mu.Lock()
	defer doc.mu.Unlock()
	return fn(doc.wb)
}

func (s *DocumentService) SetCell(ctx context.Context, id, sheetID, ref string, in spreadsheet.CellInput) error {
	var published any = in.Value
	if in.Formula != "" {
		published = in.Formula
	}
	return s.mutate(ctx, id, sheetID, ref, published, func(wb *spreadsheet.Workbook) error {
		return wb.SetCell(sheetID, ref, in)
	})
}

func (s *DocumentService) SetRange(ctx context.Context, id, sheetID, rangeText string, values [][]spreadsheet.Primitive) error {
	return s.mutate(ctx, id, sheetID, rangeText, nil, func(wb *spreadsheet.Workbook) error {
		return wb.SetRange(sheetID, rangeText, values)
	})
}

func (s *DocumentService) ClearRange(ctx context.Context, id, sheetID, rangeText string) error {
	return s.mutate(ctx, id, sheetID, rangeText, nil, func(wb *spreadsheet.Workbook) error {
		return wb.ClearRange(sheetID, rangeText)
	})
}

func (s *DocumentService) InsertRows(ctx context.Context, id, sheetID string, at, count int) error {
	return s.mutate(ctx, id, sheetID, "", nil, func(wb *spreadsheet.Workbook) error {
		return wb.InsertRows(sheetID, at, count)
	})
}

func (s *DocumentService) InsertColumns(ctx context.Context, id, sheetID string, at, count int) error {
	return s.mutate(ctx, id, sheetID, "", nil, func(wb *spreadsheet.Workbook) error {
		return wb.InsertColumns(sheetID, at, count)
	})
}

func (s *DocumentService) DeleteRows(ctx context.Context, id, sheetID string, at, count int) error {
	return s.mutate(ctx, id, sheetID, "", nil, func(wb *spreadsheet.Workbook) error {
		return wb.DeleteRows(sheetID, at, count)
	})
}

func (s *DocumentService) DeleteColumns(ctx context.Context, id, sheetID string, at, count int) error {
	return s.mutate(ctx, id, sheetID, "", nil, func(wb *spreadsheet.Workbook) error {
		return wb.DeleteColumns(sheetID, at, count)
	})
}

func (s *DocumentService) SortRange(ctx context.Context, id, sheetID, rangeText string, spec spreadsheet.SortSpec) error {
	return s.mutate(ctx, id, sheetID, rangeText, nil, func(wb *spreadsheet.Workbook) error {
		return wb.SortRange(sheetID, rangeText, spec)
	})
}

func (s *DocumentService) CreateSheet(ctx context.Context, id, name string) (string, error) {
	var sheetID string
	err := s.mutate(ctx, id, "", "", nil, func(wb *spreadsheet.Workbook) error {
		var err error
		sheetID, err = wb.CreateSheet(name)
		return err
	})
	return sheetID, err
}

func (s *DocumentService) DeleteSheet(ctx context.Context, id, sheetID string) error {
	return s.mutate(ctx, id, sheetID, "", nil, func(wb *spreadsheet.Workbook) error {
		return wb.DeleteSheet(sheetID)
	})
}

func (s *DocumentService) RenameSheet(ctx context.Context, id, sheetID, name string) error {
	return s.mutate(ctx, id, sheetID, "", name, func(wb *spreadsheet.Workbook) error {
		return wb.RenameSheet(sheetID, name)
	})
}

func (s *DocumentService) DefineName(ctx context.Context, id, name, sheetID, rangeText string) error {
	return s.mutate(ctx, id, sheetID, rangeText, name, func(wb *spreadsheet.Workbook) error {
		return wb.DefineName(name, sheetID, rangeText)
	})
}

func (s *DocumentService) DeleteName(ctx context.Context, id, name string) error {
	return s.mutate(ctx, id, "", "", name, func(wb *spreadsheet.Workbook) error {
		return wb.DeleteName(name)
	})
}

func (s *DocumentService) Recalculate(ctx context.Context, id, sheetID string) error {
	return s.mutate(ctx, id, sheetID, "", nil, func(wb *spreadsheet.Workbook) error {
		return wb.Recalculate(sheetID)
	})
}

func (s *DocumentService) GetValue(id, sheetID, ref string) (spreadsheet.Primitive, error) {
	var value spreadsheet.Primitive
	err := s.read(id, func(wb *spreadsheet.Workbook) error {
		var err error
		value, err = wb.GetValue(sheetID, ref)
		return err
	})
	return value, err
}

func (s *DocumentService) GetCell(id, sheetID, ref string) (spreadsheet.CellValue, error) {
	var cv spreadsheet.CellValue
	err := s.read(id, func(wb *spreadsheet.Workbook) error {
		var err error
		cv, err = wb.GetCell(sheetID, ref)
		return err
	})
	return cv, err
}

func (s *DocumentService) SheetIDs(id string) ([]string, error) {
	var ids []string
	err := s.read(id, func(wb *spreadsheet.Workbook) error {
		ids = wb.SheetIDs()
		return nil
	})
	return ids, err
}

func (s *DocumentService) SheetIDByName(id, name string) (string, error) {
	var sheetID string
	err := s.read(id, func(wb *spreadsheet.Workbook) error {
		var err error
		sheetID, err = wb.SheetIDByName(name)
		return err
	})
	return sheetID, err
}

// Snapshot returns the serialized form of the live document.
func (s *DocumentService) Snapshot(id string) ([]byte, error) {
	var content []byte
	err := s.read(id, func(wb *spreadsheet.Workbook) error {
		var err error
		content, err = wb.Snapshot()
		return err
	})
	return content, err
}
