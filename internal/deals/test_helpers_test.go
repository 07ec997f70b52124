package deals

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/dealwatch/backend/internal/catalog"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type stubCatalog struct {
	deals         []catalog.RawDeal
	dealsByStore  map[string][]catalog.RawDeal
	stores        []catalog.RawStore
	balancedErr   error
	balancedCalls int
	globalCalls   int
}

func (s *stubCatalog) FetchDeals(_ context.Context, filter catalog.DealFilter) []catalog.RawDeal {
	if filter.StoreID != "" {
		return s.dealsByStore[filter.StoreID]
	}
	s.globalCalls++
	return s.deals
}

func (s *stubCatalog) FetchStores(context.Context) []catalog.RawStore {
	return s.stores
}

func (s *stubCatalog) FetchDealsBalanced(_ context.Context, storeIDs []string, _, totalTarget int) ([]catalog.RawDeal, error) {
	s.balancedCalls++
	if s.balancedErr != nil {
		return nil, s.balancedErr
	}
	combined := make([]catalog.RawDeal, 0, totalTarget)
	for _, storeID := range storeIDs {
		for _, record := range s.dealsByStore[storeID] {
			combined = append(combined, record)
			if len(combined) >= totalTarget {
				return combined, nil
			}
		}
	}
	return combined, nil
}

type staticIDGenerator struct {
	next int
}

func (g *staticIDGenerator) NewID() (string, error) {
	g.next++
	return fmt.Sprintf("sync-log-%d", g.next), nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:dealwatch_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Deal{}, &Store{}, &SyncLog{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T, upstream *stubCatalog) (*Service, *gorm.DB) {
	t.Helper()

	db := newTestDB(t)
	clock := func() time.Time { return time.Unix(1700000600, 0).UTC() }

	service, err := NewService(ServiceConfig{
		Database:          db,
		Catalog:           upstream,
		Clock:             clock,
		IDProvider:        &staticIDGenerator{},
		AllowedStoreIDs:   []string{"1", "7", "25"},
		StoreImageBaseURL: "https://cdn.example.com",
		PerStoreQuota:     5,
		TotalTarget:       16,
		ListingPageSize:   20,
	})
	if err != nil {
		t.Fatalf("failed to construct deals service: %v", err)
	}
	return service, db
}

func rawDeal(dealID, title, storeID, salePrice, normalPrice string) catalog.RawDeal {
	return catalog.RawDeal{
		DealID:      dealID,
		Title:       title,
		Thumb:       "https://cdn.example.com/thumb.png",
		SalePrice:   salePrice,
		NormalPrice: normalPrice,
		DealRating:  "8.5",
		StoreID:     storeID,
		Savings:     "50.0",
	}
}
