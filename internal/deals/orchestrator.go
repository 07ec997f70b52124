package deals

import (
	"context"
	"time"

	"github.com/dealwatch/backend/internal/catalog"
	"go.uber.org/zap"
)

// syncPhase tracks progress through one orchestrated run.
type syncPhase string

const (
	phaseSyncingStores syncPhase = "syncing-stores"
	phaseSyncingDeals  syncPhase = "syncing-deals"
	phaseDone          syncPhase = "done"
	phaseFailed        syncPhase = "failed"
)

// SyncOptions overrides the configured sync policy for one run. Zero values
// fall back to the service configuration.
type SyncOptions struct {
	Type          SyncType
	StoreIDs      []string
	PerStoreQuota int
	TotalTarget   int
}

// SyncReport summarizes one orchestrated run.
type SyncReport struct {
	Created      int            `json:"created"`
	Updated      int            `json:"updated"`
	Processed    int            `json:"processed"`
	Distribution map[string]int `json:"per_store_distribution"`
}

// RunSync sequences store reconciliation before deal reconciliation and
// records the outcome to the sync log. Runs are serialized by a mutex so
// concurrent triggers queue instead of racing on upserts.
//
// A store-sync failure aborts the run before any deal is fetched. A failing
// balanced fetch falls back to an unfiltered fetch redistributed locally by
// store id, round-robin, capped at the configured total target.
func (s *Service) RunSync(ctx context.Context, opts SyncOptions) (SyncReport, error) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	syncType := opts.Type
	if syncType == "" {
		syncType = SyncTypeManual
	}
	storeIDs := opts.StoreIDs
	if len(storeIDs) == 0 {
		storeIDs = s.storeOrder
	}
	perStoreQuota := opts.PerStoreQuota
	if perStoreQuota <= 0 {
		perStoreQuota = s.perStoreQuota
	}
	totalTarget := opts.TotalTarget
	if totalTarget <= 0 {
		totalTarget = s.totalTarget
	}

	logger := s.loggerOrDefault()

	phase := phaseSyncingStores
	if _, err := s.SyncStores(ctx); err != nil {
		phase = phaseFailed
		s.recordSyncLog(ctx, syncType, SyncStatusFailed, 0, 0, err.Error())
		logger.Error("sync aborted during store phase",
			zap.String("phase", string(phase)), zap.Error(err))
		return SyncReport{}, newServiceError(opRunSync, "store_sync_failed", err)
	}

	phase = phaseSyncingDeals
	records := s.selectDealRecords(ctx, storeIDs, perStoreQuota, totalTarget)
	if len(records) == 0 {
		phase = phaseFailed
		s.recordSyncLog(ctx, syncType, SyncStatusFailed, 0, 0, ErrUpstreamUnavailable.Error())
		logger.Error("sync aborted: no deal records available",
			zap.String("phase", string(phase)))
		return SyncReport{}, newServiceError(opRunSync, "upstream_empty", ErrUpstreamUnavailable)
	}

	result, err := s.ReconcileDeals(ctx, records)
	if err != nil {
		phase = phaseFailed
		s.recordSyncLog(ctx, syncType, SyncStatusFailed, 0, 0, err.Error())
		logger.Error("sync aborted during deal phase",
			zap.String("phase", string(phase)), zap.Error(err))
		return SyncReport{}, newServiceError(opRunSync, "deal_sync_failed", err)
	}

	phase = phaseDone
	s.recordSyncLog(ctx, syncType, SyncStatusSuccess, result.Created, result.Updated, "")

	report := SyncReport{
		Created:      result.Created,
		Updated:      result.Updated,
		Processed:    result.Processed,
		Distribution: distributionByStore(records),
	}
	logger.Info("sync completed",
		zap.String("phase", string(phase)),
		zap.Int("created", report.Created),
		zap.Int("updated", report.Updated),
		zap.Int("processed", report.Processed))
	return report, nil
}

// selectDealRecords prefers the balanced per-store fetch when a target store
// set exists, falling back to a global fetch with local redistribution.
func (s *Service) selectDealRecords(ctx context.Context, storeIDs []string, perStoreQuota, totalTarget int) []catalog.RawDeal {
	if len(storeIDs) > 0 {
		records, err := s.catalog.FetchDealsBalanced(ctx, storeIDs, perStoreQuota, totalTarget)
		if err == nil && len(records) > 0 {
			return records
		}
		if err != nil {
			s.loggerOrDefault().Warn("balanced fetch failed, falling back to global fetch",
				zap.Error(err))
		}
	}

	global := s.catalog.FetchDeals(ctx, catalog.DealFilter{PageSize: totalTarget})
	if len(storeIDs) == 0 {
		return global
	}
	return redistributeByStore(global, storeIDs, totalTarget)
}

// redistributeByStore post-filters a global fetch to the target store set,
// selecting round-robin across stores up to the combined cap.
func redistributeByStore(records []catalog.RawDeal, storeIDs []string, limit int) []catalog.RawDeal {
	byStore := make(map[string][]catalog.RawDeal, len(storeIDs))
	for _, record := range records {
		byStore[record.StoreID] = append(byStore[record.StoreID], record)
	}

	selected := make([]catalog.RawDeal, 0, limit)
	offsets := make(map[string]int, len(storeIDs))
	for len(selected) < limit {
		progressed := false
		for _, storeID := range storeIDs {
			pool := byStore[storeID]
			offset := offsets[storeID]
			if offset >= len(pool) {
				continue
			}
			selected = append(selected, pool[offset])
			offsets[storeID] = offset + 1
			progressed = true
			if len(selected) >= limit {
				break
			}
		}
		if !progressed {
			break
		}
	}
	return selected
}

func distributionByStore(records []catalog.RawDeal) map[string]int {
	distribution := make(map[string]int)
	for _, record := range records {
		distribution[record.StoreID]++
	}
	return distribution
}

// recordSyncLog appends one audit row. Sync-log failures are logged but never
// override the run outcome.
func (s *Service) recordSyncLog(ctx context.Context, syncType SyncType, status SyncStatus, created, updated int, errorMessage string) {
	logID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opRunSync, "sync_log_id_failed", err)
		return
	}
	entry := SyncLog{
		ID:           logID,
		SyncType:     syncType,
		Status:       status,
		DealsCreated: created,
		DealsUpdated: updated,
		ErrorMessage: errorMessage,
		CreatedAt:    s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		s.logError(opRunSync, "sync_log_insert_failed", err,
			zap.String("status", string(status)))
	}
}

// CleanupOldDeals removes mirrored deals whose first sync predates the cutoff.
// Returns the number of rows removed.
func (s *Service) CleanupOldDeals(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.clock().UTC().Add(-olderThan)
	result := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&Deal{})
	if result.Error != nil {
		s.logError(opCleanupDeals, "delete_failed", result.Error)
		return 0, newServiceError(opCleanupDeals, "delete_failed", result.Error)
	}
	s.loggerOrDefault().Info("cleaned up old deals",
		zap.Int64("deleted", result.RowsAffected),
		zap.Time("cutoff", cutoff))
	return result.RowsAffected, nil
}
