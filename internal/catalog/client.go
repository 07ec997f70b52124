package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultBaseURL points at the public CheapShark API.
	DefaultBaseURL = "https://www.cheapshark.com/api/1.0"

	defaultRequestTimeout = 10 * time.Second
	defaultPageSize       = 16
)

var errAllStoreFetchesFailed = errors.New("catalog: every per-store fetch failed")

// RawDeal mirrors a single deal object as returned by the upstream catalog.
// All price-like fields arrive as strings and are parsed downstream.
type RawDeal struct {
	DealID      string `json:"dealID"`
	Title       string `json:"title"`
	Thumb       string `json:"thumb"`
	SalePrice   string `json:"salePrice"`
	NormalPrice string `json:"normalPrice"`
	DealRating  string `json:"dealRating"`
	StoreID     string `json:"storeID"`
	Savings     string `json:"savings"`
}

// RawStoreImages carries the relative image paths published per store.
type RawStoreImages struct {
	Banner string `json:"banner"`
	Logo   string `json:"logo"`
	Icon   string `json:"icon"`
}

// RawStore mirrors a single store object as returned by the upstream catalog.
type RawStore struct {
	StoreID   string         `json:"storeID"`
	StoreName string         `json:"storeName"`
	Images    RawStoreImages `json:"images"`
}

// DealFilter narrows a deals fetch. Zero values are omitted from the query.
type DealFilter struct {
	PageSize int
	StoreID  string
}

// ClientConfig configures the catalog client.
type ClientConfig struct {
	BaseURL    string
	PageSize   int
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client fetches deal and store listings from the upstream catalog API.
// Transport failures degrade to empty results; the caller decides how to
// surface an empty upstream.
type Client struct {
	baseURL    string
	pageSize   int
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient constructs a catalog client with sane defaults.
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    baseURL,
		pageSize:   pageSize,
		httpClient: httpClient,
		logger:     logger,
	}
}

// FetchDeals returns the current deal listing. On any transport error,
// non-2xx status, or malformed payload it logs the failure and returns an
// empty slice.
func (c *Client) FetchDeals(ctx context.Context, filter DealFilter) []RawDeal {
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = c.pageSize
	}
	query := url.Values{}
	query.Set("pageSize", strconv.Itoa(pageSize))
	if filter.StoreID != "" {
		query.Set("storeID", filter.StoreID)
	}

	var deals []RawDeal
	if err := c.getJSON(ctx, "/deals", query, &deals); err != nil {
		c.logger.Error("deal fetch failed",
			zap.String("store_id", filter.StoreID),
			zap.Int("page_size", pageSize),
			zap.Error(err))
		return nil
	}
	c.logger.Info("fetched deals from catalog", zap.Int("count", len(deals)))
	return deals
}

// FetchStores returns the upstream store directory, empty on any failure.
func (c *Client) FetchStores(ctx context.Context) []RawStore {
	var stores []RawStore
	if err := c.getJSON(ctx, "/stores", nil, &stores); err != nil {
		c.logger.Error("store fetch failed", zap.Error(err))
		return nil
	}
	c.logger.Info("fetched stores from catalog", zap.Int("count", len(stores)))
	return stores
}

// FetchDealsBalanced queries the upstream once per store id, in input order,
// and assembles a combined result of at most totalTarget deals. The first pass
// takes up to perStoreQuota deals per store; if the total is still under
// target, a second pass drains one surplus deal at a time, again in store
// order, until the target is met or every source is exhausted.
//
// It returns an error only when every per-store fetch came back empty, so
// callers can fall back to an unfiltered fetch.
func (c *Client) FetchDealsBalanced(ctx context.Context, storeIDs []string, perStoreQuota, totalTarget int) ([]RawDeal, error) {
	if len(storeIDs) == 0 || totalTarget <= 0 {
		return nil, nil
	}
	if perStoreQuota <= 0 {
		perStoreQuota = totalTarget
	}

	perStore := make([][]RawDeal, len(storeIDs))
	anySucceeded := false
	for i, storeID := range storeIDs {
		fetched := c.FetchDeals(ctx, DealFilter{StoreID: storeID, PageSize: totalTarget})
		perStore[i] = fetched
		if len(fetched) > 0 {
			anySucceeded = true
		}
	}
	if !anySucceeded {
		return nil, errAllStoreFetchesFailed
	}

	combined := make([]RawDeal, 0, totalTarget)
	taken := make([]int, len(storeIDs))

	for i := range perStore {
		quota := perStoreQuota
		if remaining := totalTarget - len(combined); quota > remaining {
			quota = remaining
		}
		if quota > len(perStore[i]) {
			quota = len(perStore[i])
		}
		combined = append(combined, perStore[i][:quota]...)
		taken[i] = quota
		if len(combined) >= totalTarget {
			return combined, nil
		}
	}

	// Second pass: pull surplus one item at a time until the target is met.
	for len(combined) < totalTarget {
		pulled := false
		for i := range perStore {
			if taken[i] >= len(perStore[i]) {
				continue
			}
			combined = append(combined, perStore[i][taken[i]])
			taken[i]++
			pulled = true
			if len(combined) >= totalTarget {
				return combined, nil
			}
		}
		if !pulled {
			break
		}
	}

	return combined, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, target any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", response.StatusCode, path)
	}

	if err := json.NewDecoder(response.Body).Decode(target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
