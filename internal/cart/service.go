package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mostafaomar7/tadawi-checkout/internal/cache"
	"github.com/mostafaomar7/tadawi-checkout/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Backend is the server-side cart. Consumers define this interface, not the HTTP client.
type Backend interface {
	GetCart(ctx context.Context) ([]domain.CartLine, error)
	AddToCart(ctx context.Context, pharmacyID, medicineID int64, quantity int) error
	RemoveFromCart(ctx context.Context, pharmacyID, medicineID int64) error
}

// Service keeps one patient's Store in sync with the cart backend and the snapshot cache.
type Service struct {
	ownerID string
	store   *Store
	backend Backend
	cache   cache.SnapshotCache
	logger  *zap.Logger
	sfg     singleflight.Group // collapses concurrent refreshes
}

func NewService(ownerID string, store *Store, backend Backend, c cache.SnapshotCache, logger *zap.Logger) *Service {
	return &Service{
		ownerID: ownerID,
		store:   store,
		backend: backend,
		cache:   c,
		logger:  logger.With(zap.String("component", "cart"), zap.String("owner_id", ownerID)),
	}
}

func (s *Service) Store() *Store {
	return s.store
}

func (s *Service) View() domain.CartView {
	return Aggregate(s.store.Snapshot())
}

// Refresh reloads the cart from the backend. A failed refresh keeps the current
// snapshot; a store that was never loaded falls back to the cached snapshot.
func (s *Service) Refresh(ctx context.Context) error {
	_, err, _ := s.sfg.Do("refresh", func() (interface{}, error) {
		lines, err := s.backend.GetCart(ctx)
		if err != nil {
			if !s.store.Loaded() {
				s.restoreFromCache(ctx)
			}
			return nil, fmt.Errorf("failed to refresh cart: %w", err)
		}
		s.store.Replace(lines)
		s.remember(ctx)
		return nil, nil
	})
	return err
}

func (s *Service) AddItem(ctx context.Context, line domain.CartLine) (domain.CartLine, error) {
	if err := line.Validate(); err != nil {
		return domain.CartLine{}, err
	}
	if err := s.backend.AddToCart(ctx, line.PharmacyID, line.MedicineID, line.Quantity); err != nil {
		s.logger.Warn("backend add item failed", zap.Error(err))
		return domain.CartLine{}, err
	}
	merged, err := s.store.AddLine(line)
	if err != nil {
		return domain.CartLine{}, err
	}
	s.remember(ctx)
	return merged, nil
}

func (s *Service) RemoveItem(ctx context.Context, lineID string) error {
	line, ok := s.store.Line(lineID)
	if !ok {
		return ErrLineNotFound
	}
	if err := s.backend.RemoveFromCart(ctx, line.PharmacyID, line.MedicineID); err != nil {
		s.logger.Warn("backend remove item failed", zap.Error(err))
		return err
	}
	if err := s.store.RemoveLine(lineID); err != nil && !errors.Is(err, ErrLineNotFound) {
		return err
	}
	s.remember(ctx)
	return nil
}

// ClearPharmacy is the explicit "clear" action: every line of the pharmacy is removed
// server side, then locally. Lines the backend refused stay in the store.
func (s *Service) ClearPharmacy(ctx context.Context, pharmacyID int64) error {
	var errs []error
	for _, l := range s.store.Snapshot() {
		if l.PharmacyID != pharmacyID {
			continue
		}
		if err := s.backend.RemoveFromCart(ctx, l.PharmacyID, l.MedicineID); err != nil {
			errs = append(errs, err)
			continue
		}
		_ = s.store.RemoveLine(l.ID)
	}
	s.remember(ctx)
	return errors.Join(errs...)
}

// ForgetPharmacy clears the pharmacy locally after the backend turned its lines into
// an order.
func (s *Service) ForgetPharmacy(ctx context.Context, pharmacyID int64) {
	removed := s.store.ClearPharmacy(pharmacyID)
	s.logger.Info("pharmacy cleared after order", zap.Int64("pharmacy_id", pharmacyID), zap.Int("lines", removed))
	s.remember(ctx)
}

func (s *Service) restoreFromCache(ctx context.Context) {
	lines, err := s.cache.Get(ctx, s.ownerID)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn("cache get error", zap.Error(err))
		}
		return
	}
	s.store.Replace(lines)
	s.logger.Info("cart restored from cache", zap.Int("lines", len(lines)))
}

func (s *Service) remember(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := s.cache.Set(ctx, s.ownerID, s.store.Snapshot()); err != nil {
		s.logger.Warn("cache set error", zap.Error(err))
	}
}
