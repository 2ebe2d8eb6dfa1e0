package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cube-Core-Pro/sheet-engine/packages/bus"
	"github.com/Cube-Core-Pro/sheet-engine/packages/cache"
	"github.com/Cube-Core-Pro/sheet-engine/packages/docstore"
	"github.com/Cube-Core-Pro/sheet-engine/packages/spreadsheet"
)

func newTestService(t *testing.T) (*DocumentService, *bus.MemoryBus, docstore.Store) {
	t.Helper()
	store := docstore.NewMemoryStore()
	b := bus.NewMemoryBus(nil)
	svc, err := NewDocumentService(Options{Store: store, Bus: b, CacheTTL: time.Minute})
	require.NoError(t, err)
	return svc, b, store
}

func TestServiceRequiresStore(t *testing.T) {
	_, err := NewDocumentService(Options{})
	require.Error(t, err)
	assert.Equal(t, spreadsheet.InvalidArgument, err.(*spreadsheet.AppError).Code)
}

func TestCreateAndEdit(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.Create(ctx, "doc-1"))

	sheets, err := svc.SheetIDs("doc-1")
	require.NoError(t, err)
	require.Len(t, sheets, 1)
	sheet := sheets[0]

	require.NoError(t, svc.SetCell(ctx, "doc-1", sheet, "A1", spreadsheet.CellInput{Value: 2.0}))
	require.NoError(t, svc.SetCell(ctx, "doc-1", sheet, "B1", spreadsheet.CellInput{Formula: "=A1*10"}))

	v, err := svc.GetValue("doc-1", sheet, "B1")
	require.NoError(t, err)
	assert.Equal(t, 20.0, v)
}

func TestCreateDuplicate(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.Create(ctx, "doc-1"))
	err := svc.Create(ctx, "doc-1")
	require.Error(t, err)
	assert.Equal(t, spreadsheet.AlreadyExists, err.(*spreadsheet.AppError).Code)
}

func TestEditRequiresOpenDocument(t *testing.T) {
	svc, _, _ := newTestService(t)
	err := svc.SetCell(context.Background(), "ghost", "s", "A1", spreadsheet.CellInput{Value: 1.0})
	require.Error(t, err)
	assert.Equal(t, spreadsheet.FailedPrecondition, err.(*spreadsheet.AppError).Code)
}

func TestReopenFromStore(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.Create(ctx, "doc-1"))
	sheets, _ := svc.SheetIDs("doc-1")
	sheet := sheets[0]
	require.NoError(t, svc.SetCell(ctx, "doc-1", sheet, "A1", spreadsheet.CellInput{Value: 2.0}))
	require.NoError(t, svc.SetCell(ctx, "doc-1", sheet, "B1", spreadsheet.CellInput{Formula: "=A1+1"}))

	svc.Close("doc-1")
	_, err := svc.GetValue("doc-1", sheet, "B1")
	require.Error(t, err)

	require.NoError(t, svc.Open(ctx, "doc-1"))
	v, err := svc.GetValue("doc-1", sheet, "B1")
	require.NoError(t, err)
	assert.Equal(t, 3.0, v)
}

func TestOpenMissingDocument(t *testing.T) {
	svc, _, _ := newTestService(t)
	err := svc.Open(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, spreadsheet.NotFound, err.(*spreadsheet.AppError).Code)
}

func TestEditPublishesEvent(t *testing.T) {
	svc, b, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.Create(ctx, "doc-1"))
	sheets, _ := svc.SheetIDs("doc-1")
	sheet := sheets[0]

	events, cancel := b.Subscribe()
	defer cancel()

	require.NoError(t, svc.SetCell(ctx, "doc-1", sheet, "A1", spreadsheet.CellInput{Value: 7.0}))
	event := <-events
	assert.Equal(t, "doc-1", event.DocumentID)
	assert.Equal(t, sheet, event.SheetID)
	assert.Equal(t, "A1", event.Ref)
	assert.Equal(t, 7.0, event.NewValue)
}

type failingStore struct {
	*docstore.MemoryStore
	fail bool
}

func (f *failingStore) Save(ctx context.Context, id string, content []byte) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.MemoryStore.Save(ctx, id, content)
}

func TestPersistFailureKeepsMemoryState(t *testing.T) {
	store := &failingStore{MemoryStore: docstore.NewMemoryStore()}
	svc, err := NewDocumentService(Options{Store: store})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, svc.Create(ctx, "doc-1"))
	sheets, _ := svc.SheetIDs("doc-1")
	sheet := sheets[0]

	store.fail = true
	err = svc.SetCell(ctx, "doc-1", sheet, "A1", spreadsheet.CellInput{Value: 5.0})
	require.Error(t, err)

	// the live workbook kept the edit
	v, err := svc.GetValue("doc-1", sheet, "A1")
	require.NoError(t, err)
	assert.Equal(t, 5.0, v)

	// the next successful edit persists the full current state
	store.fail = false
	require.NoError(t, svc.SetCell(ctx, "doc-1", sheet, "B1", spreadsheet.CellInput{Value: 6.0}))
	svc.Close("doc-1")
	require.NoError(t, svc.Open(ctx, "doc-1"))
	v, err = svc.GetValue("doc-1", sheet, "A1")
	require.NoError(t, err)
	assert.Equal(t, 5.0, v)
}

func TestStructuralEditsThroughService(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.Create(ctx, "doc-1"))
	sheets, _ := svc.SheetIDs("doc-1")
	sheet := sheets[0]

	require.NoError(t, svc.SetRange(ctx, "doc-1", sheet, "A1:A3", [][]spreadsheet.Primitive{{1.0}, {2.0}, {3.0}}))
	require.NoError(t, svc.SetCell(ctx, "doc-1", sheet, "B1", spreadsheet.CellInput{Formula: "=SUM(A1:A3)"}))
	require.NoError(t, svc.InsertRows(ctx, "doc-1", sheet, 2, 1))

	cv, err := svc.GetCell("doc-1", sheet, "B1")
	require.NoError(t, err)
	assert.Equal(t, "=SUM(A1:A4)", cv.Formula)
	v, err := svc.GetValue("doc-1", sheet, "B1")
	require.NoError(t, err)
	assert.Equal(t, 6.0, v)
}

type gatedStore struct {
	*docstore.MemoryStore
	slowID  string
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) Load(ctx context.Context, id string) ([]byte, error) {
	if id == g.slowID {
		close(g.entered)
		<-g.release
	}
	return g.MemoryStore.Load(ctx, id)
}

func TestSlowOpenDoesNotBlockOtherDocuments(t *testing.T) {
	store := &gatedStore{
		MemoryStore: docstore.NewMemoryStore(),
		slowID:      "slow",
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	c := cache.NewMemoryCache()
	svc, err := NewDocumentService(Options{Store: store, Cache: c})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, svc.Create(ctx, "slow"))
	require.NoError(t, svc.Create(ctx, "fast"))
	fastSheets, _ := svc.SheetIDs("fast")
	require.NoError(t, svc.SetCell(ctx, "fast", fastSheets[0], "A1", spreadsheet.CellInput{Value: 1.0}))
	svc.Close("slow")
	svc.Close("fast")
	// force the slow document through the store, not the cache
	c.Invalidate("slow")

	opened := make(chan error, 1)
	go func() { opened <- svc.Open(ctx, "slow") }()
	<-store.entered

	// the slow load is in flight; the other document opens and serves
	// reads and writes without waiting on it
	require.NoError(t, svc.Open(ctx, "fast"))
	require.NoError(t, svc.SetCell(ctx, "fast", fastSheets[0], "A2", spreadsheet.CellInput{Value: 2.0}))
	v, err := svc.GetValue("fast", fastSheets[0], "A1")
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)

	close(store.release)
	require.NoError(t, <-opened)
	_, err = svc.SheetIDs("slow")
	require.NoError(t, err)
}

func TestDeleteDocument(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.Create(ctx, "doc-1"))
	require.NoError(t, svc.Delete(ctx, "doc-1"))
	err := svc.Open(ctx, "doc-1")
	require.Error(t, err)
	assert.Equal(t, spreadsheet.NotFound, err.(*spreadsheet.AppError).Code)
}
