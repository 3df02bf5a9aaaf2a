package cart

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mostafaomar7/tadawi-checkout/internal/cache"
	"github.com/mostafaomar7/tadawi-checkout/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockBackend struct {
	m         sync.Mutex
	lines     []domain.CartLine
	err       error
	removeErr error
	getCalls  atomic.Int32
	removed   []int64
	delay     time.Duration
}

func (b *mockBackend) GetCart(context.Context) ([]domain.CartLine, error) {
	b.getCalls.Add(1)
	if b.delay > 0 {
		time.Sleep(b.delay)
	}
	b.m.Lock()
	defer b.m.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	return append([]domain.CartLine(nil), b.lines...), nil
}

func (b *mockBackend) AddToCart(_ context.Context, pharmacyID, medicineID int64, quantity int) error {
	b.m.Lock()
	defer b.m.Unlock()
	return b.err
}

func (b *mockBackend) RemoveFromCart(_ context.Context, _, medicineID int64) error {
	b.m.Lock()
	defer b.m.Unlock()
	if b.removeErr != nil {
		return b.removeErr
	}
	b.removed = append(b.removed, medicineID)
	return nil
}

func newTestService(backend Backend, c cache.SnapshotCache) *Service {
	return NewService("patient-1", NewStore(), backend, c, zap.NewNop())
}

func TestService_Refresh_ReplacesStore(t *testing.T) {
	backend := &mockBackend{lines: []domain.CartLine{line(1, 10, 50, 2), line(2, 20, 100, 1)}}
	c := cache.NewMemoryCache()
	svc := newTestService(backend, c)

	require.NoError(t, svc.Refresh(context.Background()))
	assert.Len(t, svc.Store().Snapshot(), 2)

	cached, err := c.Get(context.Background(), "patient-1")
	require.NoError(t, err)
	assert.Len(t, cached, 2)
}

func TestService_Refresh_FailureKeepsPreviousSnapshot(t *testing.T) {
	backend := &mockBackend{lines: []domain.CartLine{line(1, 10, 50, 2)}}
	svc := newTestService(backend, cache.NewMemoryCache())
	require.NoError(t, svc.Refresh(context.Background()))

	backend.err = errors.New("connection reset")
	err := svc.Refresh(context.Background())
	require.Error(t, err)

	snap := svc.Store().Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, 2, snap[0].Quantity)
}

func TestService_Refresh_ColdStoreFallsBackToCache(t *testing.T) {
	c := cache.NewMemoryCache()
	require.NoError(t, c.Set(context.Background(), "patient-1", []domain.CartLine{line(3, 30, 12.5, 4)}))
	backend := &mockBackend{err: errors.New("backend down")}
	svc := newTestService(backend, c)

	err := svc.Refresh(context.Background())
	require.Error(t, err)

	snap := svc.Store().Snapshot()
	require.Len(t, snap, 1)
	assert.InDelta(t, 50.0, svc.View().GrandTotal, 1e-9)
}

func TestService_Refresh_Singleflight(t *testing.T) {
	backend := &mockBackend{lines: []domain.CartLine{line(1, 10, 50, 2)}, delay: 50 * time.Millisecond}
	svc := newTestService(backend, cache.NewMemoryCache())

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = svc.Refresh(context.Background())
		}()
	}
	wg.Wait()
	assert.Less(t, backend.getCalls.Load(), int32(5))
}

func TestService_AddItem(t *testing.T) {
	backend := &mockBackend{}
	svc := newTestService(backend, cache.NewMemoryCache())

	got, err := svc.AddItem(context.Background(), line(1, 10, 50, 2))
	require.NoError(t, err)
	assert.Equal(t, "1:10", got.ID)

	backend.err = errors.New("out of stock")
	_, err = svc.AddItem(context.Background(), line(1, 11, 20, 1))
	require.Error(t, err)
	assert.Len(t, svc.Store().Snapshot(), 1, "failed backend add does not touch the store")

	_, err = svc.AddItem(context.Background(), line(1, 11, 20, 0))
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
}

func TestService_RemoveItem(t *testing.T) {
	backend := &mockBackend{}
	svc := newTestService(backend, cache.NewMemoryCache())
	l, err := svc.AddItem(context.Background(), line(1, 10, 50, 2))
	require.NoError(t, err)

	require.NoError(t, svc.RemoveItem(context.Background(), l.ID))
	assert.Empty(t, svc.Store().Snapshot())
	assert.Equal(t, []int64{10}, backend.removed)

	assert.ErrorIs(t, svc.RemoveItem(context.Background(), l.ID), ErrLineNotFound)
}

func TestService_ClearPharmacy(t *testing.T) {
	backend := &mockBackend{}
	svc := newTestService(backend, cache.NewMemoryCache())
	ctx := context.Background()
	_, _ = svc.AddItem(ctx, line(1, 10, 50, 2))
	_, _ = svc.AddItem(ctx, line(2, 20, 100, 1))
	_, _ = svc.AddItem(ctx, line(1, 11, 30, 1))

	require.NoError(t, svc.ClearPharmacy(ctx, 1))
	view := svc.View()
	require.Len(t, view.Groups, 1)
	assert.Equal(t, int64(2), view.Groups[0].PharmacyID)
	assert.ElementsMatch(t, []int64{10, 11}, backend.removed)
}

func TestService_ClearPharmacy_PartialFailureKeepsRefusedLines(t *testing.T) {
	backend := &mockBackend{}
	svc := newTestService(backend, cache.NewMemoryCache())
	ctx := context.Background()
	_, _ = svc.AddItem(ctx, line(1, 10, 50, 2))

	backend.removeErr = errors.New("backend down")
	require.Error(t, svc.ClearPharmacy(ctx, 1))
	assert.Len(t, svc.Store().Snapshot(), 1)
}

func TestService_ForgetPharmacy(t *testing.T) {
	backend := &mockBackend{}
	c := cache.NewMemoryCache()
	svc := newTestService(backend, c)
	ctx := context.Background()
	_, _ = svc.AddItem(ctx, line(1, 10, 50, 2))
	_, _ = svc.AddItem(ctx, line(2, 20, 100, 1))

	svc.ForgetPharmacy(ctx, 1)
	assert.Empty(t, backend.removed, "the backend already turned these lines into an order")
	cached, err := c.Get(ctx, "patient-1")
	require.NoError(t, err)
	require.Len(t, cached, 1)
	assert.Equal(t, int64(2), cached[0].PharmacyID)
}
