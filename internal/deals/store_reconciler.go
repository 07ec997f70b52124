package deals

import (
	"context"
	"errors"
	"strings"

	"github.com/dealwatch/backend/internal/catalog"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ReconcileStores upserts allow-listed store records by store id. The whole
// batch runs in a single transaction: a mid-batch persistence error aborts
// the reconciliation with no partial commit, unlike the row-tolerant deal
// path.
func (s *Service) ReconcileStores(ctx context.Context, records []catalog.RawStore) (ReconcileResult, error) {
	result := ReconcileResult{}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for index, record := range records {
			storeID := strings.TrimSpace(record.StoreID)
			if storeID == "" {
				result.Skipped++
				continue
			}
			if _, allowed := s.allowedStores[storeID]; !allowed {
				result.Skipped++
				continue
			}

			candidate := Store{
				StoreID:   storeID,
				StoreName: strings.TrimSpace(record.StoreName),
				LogoURL:   s.storeImageURL(record.Images.Logo),
				BannerURL: s.storeImageURL(record.Images.Banner),
				IconURL:   s.storeImageURL(record.Images.Icon),
			}

			var existing Store
			err := tx.Where("store_id = ?", storeID).Take(&existing).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				if err := tx.Create(&candidate).Error; err != nil {
					s.logError(opReconcileStores, "store_create_failed", err,
						zap.Int("record_index", index),
						zap.String("store_id", storeID))
					return err
				}
				result.Created++
			} else if err != nil {
				s.logError(opReconcileStores, "store_select_failed", err,
					zap.Int("record_index", index),
					zap.String("store_id", storeID))
				return err
			} else {
				updates := map[string]any{
					"store_name": candidate.StoreName,
					"logo_url":   candidate.LogoURL,
					"banner_url": candidate.BannerURL,
					"icon_url":   candidate.IconURL,
				}
				if err := tx.Model(&Store{}).Where("store_id = ?", storeID).Updates(updates).Error; err != nil {
					s.logError(opReconcileStores, "store_update_failed", err,
						zap.Int("record_index", index),
						zap.String("store_id", storeID))
					return err
				}
				result.Updated++
			}
			result.Processed++
		}
		return nil
	})
	if txErr != nil {
		return ReconcileResult{}, newServiceError(opReconcileStores, "transaction_failed", txErr)
	}

	return result, nil
}

// storeImageURL joins the fixed base with an upstream relative path. An
// absent path yields a base-only URL, kept as degraded data.
func (s *Service) storeImageURL(relativePath string) string {
	return s.imageBaseURL + strings.TrimSpace(relativePath)
}

// SyncStores fetches the upstream store directory and reconciles it. An empty
// upstream response surfaces ErrUpstreamUnavailable without touching any row.
func (s *Service) SyncStores(ctx context.Context) (ReconcileResult, error) {
	records := s.catalog.FetchStores(ctx)
	if len(records) == 0 {
		s.logError(opReconcileStores, "upstream_empty", ErrUpstreamUnavailable)
		return ReconcileResult{}, newServiceError(opReconcileStores, "upstream_empty", ErrUpstreamUnavailable)
	}
	return s.ReconcileStores(ctx, records)
}
