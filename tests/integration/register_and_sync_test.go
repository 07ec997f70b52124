package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dealwatch/backend/internal/auth"
	"github.com/dealwatch/backend/internal/catalog"
	"github.com/dealwatch/backend/internal/deals"
	"github.com/dealwatch/backend/internal/server"
	"github.com/dealwatch/backend/internal/users"
	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// upstreamFixture imitates the third-party catalog API with a small per-store
// inventory.
func upstreamFixture(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/stores", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]catalog.RawStore{
			{StoreID: "1", StoreName: "Steam", Images: catalog.RawStoreImages{Logo: "/img/stores/logos/0.png"}},
			{StoreID: "7", StoreName: "GOG", Images: catalog.RawStoreImages{Logo: "/img/stores/logos/6.png"}},
			{StoreID: "25", StoreName: "Epic", Images: catalog.RawStoreImages{Logo: "/img/stores/logos/24.png"}},
			{StoreID: "99", StoreName: "NotAllowed"},
		})
	})
	mux.HandleFunc("/deals", func(w http.ResponseWriter, r *http.Request) {
		storeID := r.URL.Query().Get("storeID")
		if storeID == "" {
			storeID = "1"
		}
		records := make([]catalog.RawDeal, 0, 8)
		for i := 0; i < 8; i++ {
			records = append(records, catalog.RawDeal{
				DealID:      fmt.Sprintf("store%s-deal%d", storeID, i),
				Title:       fmt.Sprintf("Game %s-%d", storeID, i),
				SalePrice:   "4.99",
				NormalPrice: "19.99",
				DealRating:  "8.5",
				Savings:     "75.0",
				StoreID:     storeID,
			})
		}
		_ = json.NewEncoder(w).Encode(records)
	})

	fixture := httptest.NewServer(mux)
	t.Cleanup(fixture.Close)
	return fixture
}

func newAPIHandler(t *testing.T, upstreamURL string) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:integration_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&deals.Deal{}, &deals.Store{}, &deals.SyncLog{}, &users.User{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	catalogClient := catalog.NewClient(catalog.ClientConfig{BaseURL: upstreamURL})
	dealsService, err := deals.NewService(deals.ServiceConfig{
		Database:          db,
		Catalog:           catalogClient,
		IDProvider:        deals.NewUUIDProvider(),
		AllowedStoreIDs:   []string{"1", "7", "25"},
		StoreImageBaseURL: "https://cdn.example.com",
	})
	if err != nil {
		t.Fatalf("failed to build deals service: %v", err)
	}

	usersService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build users service: %v", err)
	}

	tokens := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("integration-test-secret"),
		Issuer:        "dealwatch-auth",
		Audience:      "dealwatch-api",
	})

	handler, err := server.NewHTTPHandler(server.Dependencies{
		DealsService: dealsService,
		UsersService: usersService,
		TokenManager: tokens,
		Logger:       zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	return handler
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	payload := []byte(nil)
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		payload = encoded
	}
	request := httptest.NewRequest(method, path, bytes.NewReader(payload))
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func TestRegisterSyncAndListFlow(t *testing.T) {
	upstream := upstreamFixture(t)
	handler := newAPIHandler(t, upstream.URL)

	// Register and collect the issued tokens.
	registered := doJSON(t, handler, http.MethodPost, "/register", "", map[string]string{
		"username": "Integration-User",
		"password": "s3cret-password",
	})
	if registered.Code != http.StatusOK {
		t.Fatalf("register: expected 200, got %d: %s", registered.Code, registered.Body.String())
	}
	var issued struct {
		Username    string `json:"username"`
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(registered.Body.Bytes(), &issued); err != nil {
		t.Fatalf("failed to decode register response: %v", err)
	}
	if issued.Username != "integration-user" || issued.AccessToken == "" {
		t.Fatalf("unexpected register response: %+v", issued)
	}

	// Login again to prove the stored credentials round-trip.
	loggedIn := doJSON(t, handler, http.MethodPost, "/login", "", map[string]string{
		"username": "integration-user",
		"password": "s3cret-password",
	})
	if loggedIn.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", loggedIn.Code, loggedIn.Body.String())
	}
	var session struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(loggedIn.Body.Bytes(), &session); err != nil {
		t.Fatalf("failed to decode login response: %v", err)
	}

	// An anonymous sync attempt is rejected before any upstream call.
	if anonymous := doJSON(t, handler, http.MethodPost, "/deals/sync_from_cheapshark", "", nil); anonymous.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous sync: expected 401, got %d", anonymous.Code)
	}

	// Authenticated sync pulls a balanced batch from the fixture upstream.
	synced := doJSON(t, handler, http.MethodPost, "/deals/sync_from_cheapshark", session.AccessToken, nil)
	if synced.Code != http.StatusOK {
		t.Fatalf("sync: expected 200, got %d: %s", synced.Code, synced.Body.String())
	}
	var report deals.SyncReport
	if err := json.Unmarshal(synced.Body.Bytes(), &report); err != nil {
		t.Fatalf("failed to decode sync report: %v", err)
	}
	if report.Created != 16 {
		t.Fatalf("expected 16 created deals, got %+v", report)
	}
	for storeID, count := range report.Distribution {
		if count > 6 {
			t.Fatalf("store %s holds %d of 16 deals, distribution skewed: %v",
				storeID, count, report.Distribution)
		}
	}

	// The authenticated listing sees the full mirrored page.
	listed := doJSON(t, handler, http.MethodGet, "/deals?order_by=name", session.AccessToken, nil)
	if listed.Code != http.StatusOK {
		t.Fatalf("listing: expected 200, got %d: %s", listed.Code, listed.Body.String())
	}
	var page deals.ListPage
	if err := json.Unmarshal(listed.Body.Bytes(), &page); err != nil {
		t.Fatalf("failed to decode listing: %v", err)
	}
	if page.Total != 16 {
		t.Fatalf("expected 16 mirrored deals, got %d", page.Total)
	}

	// Anonymous callers only ever see the teaser sample.
	teaser := doJSON(t, handler, http.MethodGet, "/deals", "", nil)
	if teaser.Code != http.StatusOK {
		t.Fatalf("teaser: expected 200, got %d", teaser.Code)
	}
	var teaserResponse struct {
		Deals  []deals.Deal `json:"deals"`
		Teaser bool         `json:"teaser"`
	}
	if err := json.Unmarshal(teaser.Body.Bytes(), &teaserResponse); err != nil {
		t.Fatalf("failed to decode teaser: %v", err)
	}
	if !teaserResponse.Teaser || len(teaserResponse.Deals) > 3 {
		t.Fatalf("unexpected teaser payload: teaser=%v deals=%d",
			teaserResponse.Teaser, len(teaserResponse.Deals))
	}

	// Store sync honors the allow-list: the unknown store never lands locally.
	storesSynced := doJSON(t, handler, http.MethodPost, "/deals/sync_stores", session.AccessToken, nil)
	if storesSynced.Code != http.StatusOK {
		t.Fatalf("store sync: expected 200, got %d: %s", storesSynced.Code, storesSynced.Body.String())
	}
	storeList := doJSON(t, handler, http.MethodGet, "/stores", "", nil)
	var storesResponse struct {
		Stores []deals.Store `json:"stores"`
	}
	if err := json.Unmarshal(storeList.Body.Bytes(), &storesResponse); err != nil {
		t.Fatalf("failed to decode stores: %v", err)
	}
	for _, store := range storesResponse.Stores {
		if store.StoreID == "99" {
			t.Fatalf("allow-list violated, store 99 persisted: %+v", storesResponse.Stores)
		}
	}
}

func TestClearResetsTheMirror(t *testing.T) {
	upstream := upstreamFixture(t)
	handler := newAPIHandler(t, upstream.URL)

	registered := doJSON(t, handler, http.MethodPost, "/register", "", map[string]string{
		"username": "cleanup-user",
		"password": "s3cret-password",
	})
	var issued struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(registered.Body.Bytes(), &issued); err != nil {
		t.Fatalf("failed to decode register response: %v", err)
	}

	if synced := doJSON(t, handler, http.MethodPost, "/deals/sync_from_cheapshark", issued.AccessToken, nil); synced.Code != http.StatusOK {
		t.Fatalf("sync: expected 200, got %d", synced.Code)
	}

	cleared := doJSON(t, handler, http.MethodDelete, "/deals/delete_local_deals", issued.AccessToken, nil)
	if cleared.Code != http.StatusOK {
		t.Fatalf("clear: expected 200, got %d", cleared.Code)
	}
	var clearResponse struct {
		Deleted int64 `json:"deleted"`
	}
	if err := json.Unmarshal(cleared.Body.Bytes(), &clearResponse); err != nil {
		t.Fatalf("failed to decode clear response: %v", err)
	}
	if clearResponse.Deleted != 16 {
		t.Fatalf("expected 16 deleted deals, got %d", clearResponse.Deleted)
	}

	listed := doJSON(t, handler, http.MethodGet, "/deals?order_by=name", issued.AccessToken, nil)
	var page deals.ListPage
	if err := json.Unmarshal(listed.Body.Bytes(), &page); err != nil {
		t.Fatalf("failed to decode listing: %v", err)
	}
	if page.Total != 0 {
		t.Fatalf("expected an empty mirror after clear, got %d deals", page.Total)
	}
}
