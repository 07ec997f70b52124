package deals

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dealwatch/backend/internal/catalog"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ReconcileResult aggregates the outcome of one reconciliation batch.
type ReconcileResult struct {
	Created   int
	Updated   int
	Skipped   int
	Processed int
}

// ReconcileDeals upserts the provided raw deal records by external id inside
// one transaction. Records failing individually are logged and skipped; the
// batch continues. Records missing both id and name are skipped without
// touching the counters' created/updated split.
func (s *Service) ReconcileDeals(ctx context.Context, records []catalog.RawDeal) (ReconcileResult, error) {
	result := ReconcileResult{}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for index, record := range records {
			candidate, ok := s.normalizeDeal(index, record)
			if !ok {
				result.Skipped++
				continue
			}

			created, err := s.upsertDeal(tx, candidate)
			if err != nil {
				s.logError(opReconcileDeals, "record_upsert_failed", err,
					zap.Int("record_index", index),
					zap.String("external_id", candidate.ExternalID),
					zap.String("raw_title", record.Title))
				result.Skipped++
				continue
			}

			if created {
				result.Created++
			} else {
				result.Updated++
			}
			result.Processed++
		}
		return nil
	})
	if txErr != nil {
		s.logError(opReconcileDeals, "transaction_failed", txErr)
		return ReconcileResult{}, newServiceError(opReconcileDeals, "transaction_failed", txErr)
	}

	return result, nil
}

// normalizeDeal maps a raw upstream record onto a Deal row, applying the
// lenient parsing rules. The boolean reports whether the record is usable.
func (s *Service) normalizeDeal(index int, record catalog.RawDeal) (Deal, bool) {
	externalID := strings.TrimSpace(record.DealID)
	gameName := strings.TrimSpace(record.Title)
	if externalID == "" && gameName == "" {
		s.loggerOrDefault().Warn("skipping deal record without id or name",
			zap.Int("record_index", index))
		return Deal{}, false
	}
	if externalID == "" {
		externalID = fmt.Sprintf("deal_%d", index)
	}
	if gameName == "" {
		gameName = fmt.Sprintf("Game %d", index)
	}
	gameName = truncateGameName(gameName)

	salePrice := s.safeFloat(record.SalePrice)
	normalPrice := s.safeFloat(record.NormalPrice)
	// Upstream sometimes omits the original price; a discounted price with no
	// list price is stored at parity rather than as a negative saving.
	if normalPrice <= 0 && salePrice > 0 {
		normalPrice = salePrice
	}

	deal := Deal{
		ExternalID:  externalID,
		GameName:    gameName,
		ImageURL:    strings.TrimSpace(record.Thumb),
		SalePrice:   salePrice,
		NormalPrice: normalPrice,
		DealRating:  s.safeFloat(record.DealRating),
		Saving:      s.safeFloat(record.Savings),
	}
	if storeID := strings.TrimSpace(record.StoreID); storeID != "" {
		deal.StoreID = &storeID
	}
	return deal, true
}

// upsertDeal creates or updates a row keyed by external id, resolving the
// owning store first. The existing row is updated in place so local relations
// survive re-syncs.
func (s *Service) upsertDeal(tx *gorm.DB, candidate Deal) (bool, error) {
	if candidate.StoreID != nil {
		if err := s.ensureStoreExists(tx, *candidate.StoreID); err != nil {
			return false, fmt.Errorf("resolve store %s: %w", *candidate.StoreID, err)
		}
	}

	var existing Deal
	err := tx.Where("external_id = ?", candidate.ExternalID).Take(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if err := tx.Create(&candidate).Error; err != nil {
			return false, err
		}
		return true, nil
	}
	if err != nil {
		return false, err
	}

	updates := map[string]any{
		"game_name":    candidate.GameName,
		"image_url":    candidate.ImageURL,
		"sale_price":   candidate.SalePrice,
		"normal_price": candidate.NormalPrice,
		"deal_rating":  candidate.DealRating,
		"saving":       candidate.Saving,
		"store_id":     candidate.StoreID,
	}
	if err := tx.Model(&Deal{}).Where("external_id = ?", candidate.ExternalID).Updates(updates).Error; err != nil {
		return false, err
	}
	return false, nil
}

// ensureStoreExists lazily creates a placeholder store when a deal references
// a store id the store sync has not persisted yet.
func (s *Service) ensureStoreExists(tx *gorm.DB, storeID string) error {
	var store Store
	err := tx.Where("store_id = ?", storeID).Take(&store).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	placeholder := Store{
		StoreID:   storeID,
		StoreName: "Store " + storeID,
	}
	if err := tx.Create(&placeholder).Error; err != nil {
		return err
	}
	s.loggerOrDefault().Info("created placeholder store for unknown id",
		zap.String("store_id", storeID))
	return nil
}

// safeFloat parses a numeric field with a fallback to zero. Empty, null, and
// non-numeric inputs are degraded data, not batch failures.
func (s *Service) safeFloat(raw string) float64 {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.EqualFold(trimmed, "null") {
		return 0
	}
	value, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		s.loggerOrDefault().Warn("unparseable numeric field, using default",
			zap.String("raw_value", raw))
		return 0
	}
	return value
}

// truncateGameName caps a title at maxGameNameLength characters. Limits are
// counted in runes so multi-byte titles are never cut mid-character.
func truncateGameName(name string) string {
	runes := []rune(name)
	if len(runes) <= maxGameNameLength {
		return name
	}
	return string(runes[:maxGameNameLength-len(truncationSuffix)]) + truncationSuffix
}
