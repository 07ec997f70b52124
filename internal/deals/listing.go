package deals

import (
	"context"
	"fmt"
	"math/rand"
	"strings"

	"github.com/dealwatch/backend/internal/catalog"
)

const anonymousStoreLimit = 3

// ListFilter narrows and orders an authenticated deal listing. Pointer fields
// distinguish "unset" from zero values.
type ListFilter struct {
	StoreName         string
	StoreNameContains string
	GameName          string
	GameNameContains  string
	SalePrice         *float64
	SalePriceMin      *float64
	SalePriceMax      *float64
	Rating            *float64
	RatingMin         *float64
	RatingMax         *float64
	OrderBy           string
	Descending        bool
	Page              int
}

// ListPage is one fixed-size page of an authenticated listing.
type ListPage struct {
	Deals    []Deal `json:"deals"`
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`
	Total    int64  `json:"total"`
}

var orderColumns = map[string]string{
	"price":   "sale_price",
	"rating":  "deal_rating",
	"name":    "game_name",
	"saving":  "saving",
	"savings": "saving",
}

// ListDeals returns a filtered, ordered, fixed-size page of mirrored deals
// for authenticated callers.
func (s *Service) ListDeals(ctx context.Context, filter ListFilter) (ListPage, error) {
	query := s.db.WithContext(ctx).Model(&Deal{}).
		Joins("LEFT JOIN stores ON stores.store_id = deals.store_id")

	if filter.StoreName != "" {
		query = query.Where("stores.store_name = ?", filter.StoreName)
	}
	if filter.StoreNameContains != "" {
		query = query.Where("stores.store_name LIKE ?", "%"+filter.StoreNameContains+"%")
	}
	if filter.GameName != "" {
		query = query.Where("deals.game_name = ?", filter.GameName)
	}
	if filter.GameNameContains != "" {
		query = query.Where("deals.game_name LIKE ?", "%"+filter.GameNameContains+"%")
	}
	if filter.SalePrice != nil {
		query = query.Where("deals.sale_price = ?", *filter.SalePrice)
	}
	if filter.SalePriceMin != nil {
		query = query.Where("deals.sale_price >= ?", *filter.SalePriceMin)
	}
	if filter.SalePriceMax != nil {
		query = query.Where("deals.sale_price <= ?", *filter.SalePriceMax)
	}
	if filter.Rating != nil {
		query = query.Where("deals.deal_rating = ?", *filter.Rating)
	}
	if filter.RatingMin != nil {
		query = query.Where("deals.deal_rating >= ?", *filter.RatingMin)
	}
	if filter.RatingMax != nil {
		query = query.Where("deals.deal_rating <= ?", *filter.RatingMax)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		s.logError(opListDeals, "count_failed", err)
		return ListPage{}, newServiceError(opListDeals, "count_failed", err)
	}

	query = query.Select("deals.*")

	if column, ok := orderColumns[strings.ToLower(filter.OrderBy)]; ok {
		direction := "ASC"
		if filter.Descending {
			direction = "DESC"
		}
		query = query.Order(fmt.Sprintf("deals.%s %s", column, direction))
	} else {
		query = query.Order("deals.id ASC")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}

	var rows []Deal
	if err := query.Limit(s.pageSize).Offset((page - 1) * s.pageSize).Find(&rows).Error; err != nil {
		s.logError(opListDeals, "query_failed", err)
		return ListPage{}, newServiceError(opListDeals, "query_failed", err)
	}

	return ListPage{Deals: rows, Page: page, PageSize: s.pageSize, Total: total}, nil
}

// SampleDeals returns the anonymous teaser: one randomly chosen deal from
// each of at most three randomly chosen stores. The selection is reseeded per
// call; anonymous callers are deliberately not given a stable or paginated
// view.
func (s *Service) SampleDeals(ctx context.Context, seed int64) ([]Deal, error) {
	var storeIDs []string
	if err := s.db.WithContext(ctx).Model(&Deal{}).
		Where("store_id IS NOT NULL").
		Distinct("store_id").
		Pluck("store_id", &storeIDs).Error; err != nil {
		s.logError(opSampleDeals, "store_query_failed", err)
		return nil, newServiceError(opSampleDeals, "store_query_failed", err)
	}
	if len(storeIDs) == 0 {
		return nil, nil
	}

	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(storeIDs), func(i, j int) {
		storeIDs[i], storeIDs[j] = storeIDs[j], storeIDs[i]
	})
	if len(storeIDs) > anonymousStoreLimit {
		storeIDs = storeIDs[:anonymousStoreLimit]
	}

	sample := make([]Deal, 0, len(storeIDs))
	for _, storeID := range storeIDs {
		var candidates []Deal
		if err := s.db.WithContext(ctx).
			Where("store_id = ?", storeID).
			Find(&candidates).Error; err != nil {
			s.logError(opSampleDeals, "deal_query_failed", err)
			return nil, newServiceError(opSampleDeals, "deal_query_failed", err)
		}
		if len(candidates) == 0 {
			continue
		}
		sample = append(sample, candidates[rng.Intn(len(candidates))])
	}
	return sample, nil
}

// LiveDeal is a formatted catalog record that was never persisted.
type LiveDeal struct {
	ExternalID  string  `json:"external_id"`
	GameName    string  `json:"game_name"`
	ImageURL    string  `json:"image_url"`
	SalePrice   float64 `json:"sale_price"`
	NormalPrice float64 `json:"normal_price"`
	DealRating  float64 `json:"deal_rating"`
}

// FetchLive formats the current upstream listing without writing anything
// locally. An empty upstream surfaces ErrUpstreamUnavailable.
func (s *Service) FetchLive(ctx context.Context) ([]LiveDeal, error) {
	records := s.catalog.FetchDeals(ctx, catalog.DealFilter{})
	if len(records) == 0 {
		return nil, newServiceError(opListDeals, "upstream_empty", ErrUpstreamUnavailable)
	}

	formatted := make([]LiveDeal, 0, len(records))
	for index, record := range records {
		candidate, ok := s.normalizeDeal(index, record)
		if !ok {
			continue
		}
		formatted = append(formatted, LiveDeal{
			ExternalID:  candidate.ExternalID,
			GameName:    candidate.GameName,
			ImageURL:    candidate.ImageURL,
			SalePrice:   candidate.SalePrice,
			NormalPrice: candidate.NormalPrice,
			DealRating:  candidate.DealRating,
		})
	}
	return formatted, nil
}

// ListStores returns every persisted store.
func (s *Service) ListStores(ctx context.Context) ([]Store, error) {
	var stores []Store
	if err := s.db.WithContext(ctx).Order("store_id ASC").Find(&stores).Error; err != nil {
		s.logError(opListStores, "query_failed", err)
		return nil, newServiceError(opListStores, "query_failed", err)
	}
	return stores, nil
}

// ListSyncLogs returns the audit trail, newest first.
func (s *Service) ListSyncLogs(ctx context.Context, limit int) ([]SyncLog, error) {
	if limit <= 0 {
		limit = 50
	}
	var logs []SyncLog
	if err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&logs).Error; err != nil {
		s.logError(opListSyncLogs, "query_failed", err)
		return nil, newServiceError(opListSyncLogs, "query_failed", err)
	}
	return logs, nil
}

// ClearDeals bulk-deletes every mirrored deal and reports the removed count.
// Stores are kept so a following sync preserves relations.
func (s *Service) ClearDeals(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).Where("1 = 1").Delete(&Deal{})
	if result.Error != nil {
		s.logError(opClearDeals, "delete_failed", result.Error)
		return 0, newServiceError(opClearDeals, "delete_failed", result.Error)
	}
	return result.RowsAffected, nil
}
