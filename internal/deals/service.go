package deals

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dealwatch/backend/internal/catalog"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingCatalog    = errors.New("catalog client is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// ErrUpstreamUnavailable indicates that the catalog returned no usable data.
var ErrUpstreamUnavailable = errors.New("deals: upstream catalog unavailable")

// ServiceError carries an operation.reason code alongside the wrapped cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew      = "deals.service.new"
	opReconcileDeals  = "deals.reconcile_deals"
	opReconcileStores = "deals.reconcile_stores"
	opRunSync         = "deals.run_sync"
	opListDeals       = "deals.list_deals"
	opSampleDeals     = "deals.sample_deals"
	opListStores      = "deals.list_stores"
	opListSyncLogs    = "deals.list_sync_logs"
	opClearDeals      = "deals.clear_deals"
	opCleanupDeals    = "deals.cleanup_deals"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// CatalogClient is the upstream dependency consumed by the orchestrator.
type CatalogClient interface {
	FetchDeals(ctx context.Context, filter catalog.DealFilter) []catalog.RawDeal
	FetchStores(ctx context.Context) []catalog.RawStore
	FetchDealsBalanced(ctx context.Context, storeIDs []string, perStoreQuota, totalTarget int) ([]catalog.RawDeal, error)
}

// IDProvider issues identifiers for sync-log rows.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies and policy knobs for the deals service.
type ServiceConfig struct {
	Database   *gorm.DB
	Catalog    CatalogClient
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger

	// AllowedStoreIDs is the injected allow-list of upstream store ids
	// eligible for persistence by the store sync path.
	AllowedStoreIDs []string
	// StoreImageBaseURL prefixes the relative image paths published upstream.
	StoreImageBaseURL string
	// PerStoreQuota and TotalTarget drive the balanced per-store fetch.
	// TotalTarget also caps the fallback redistribution.
	PerStoreQuota int
	TotalTarget   int
	// ListingPageSize is the fixed page size for authenticated listings.
	ListingPageSize int
}

// Service owns deal/store reconciliation, sync orchestration, and the read
// surface over the local mirror.
type Service struct {
	db         *gorm.DB
	catalog    CatalogClient
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger

	allowedStores map[string]struct{}
	storeOrder    []string
	imageBaseURL  string
	perStoreQuota int
	totalTarget   int
	pageSize      int

	// Serializes sync runs so two concurrent triggers cannot interleave
	// their upserts and double-count creates as updates.
	syncMu sync.Mutex
}

// NewService validates the configuration and constructs the deals service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Catalog == nil {
		return nil, newServiceError(opServiceNew, "missing_catalog", errMissingCatalog)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	allowed := make(map[string]struct{}, len(cfg.AllowedStoreIDs))
	order := make([]string, 0, len(cfg.AllowedStoreIDs))
	for _, storeID := range cfg.AllowedStoreIDs {
		if _, seen := allowed[storeID]; seen {
			continue
		}
		allowed[storeID] = struct{}{}
		order = append(order, storeID)
	}

	perStoreQuota := cfg.PerStoreQuota
	if perStoreQuota <= 0 {
		perStoreQuota = 5
	}
	totalTarget := cfg.TotalTarget
	if totalTarget <= 0 {
		totalTarget = 16
	}
	pageSize := cfg.ListingPageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	return &Service{
		db:            cfg.Database,
		catalog:       cfg.Catalog,
		clock:         clock,
		idProvider:    cfg.IDProvider,
		logger:        logger,
		allowedStores: allowed,
		storeOrder:    order,
		imageBaseURL:  cfg.StoreImageBaseURL,
		perStoreQuota: perStoreQuota,
		totalTarget:   totalTarget,
		pageSize:      pageSize,
	}, nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("deals service error", attrs...)
}
