package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dealwatch/backend/internal/auth"
	"github.com/dealwatch/backend/internal/catalog"
	"github.com/dealwatch/backend/internal/deals"
	"github.com/dealwatch/backend/internal/users"
	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeCatalog struct {
	deals  []catalog.RawDeal
	stores []catalog.RawStore
}

func (f *fakeCatalog) FetchDeals(context.Context, catalog.DealFilter) []catalog.RawDeal {
	return f.deals
}

func (f *fakeCatalog) FetchStores(context.Context) []catalog.RawStore {
	return f.stores
}

func (f *fakeCatalog) FetchDealsBalanced(_ context.Context, _ []string, _, totalTarget int) ([]catalog.RawDeal, error) {
	if len(f.deals) > totalTarget {
		return f.deals[:totalTarget], nil
	}
	return f.deals, nil
}

type routerFixture struct {
	handler http.Handler
	db      *gorm.DB
	tokens  *auth.TokenIssuer
}

func newRouterFixture(t *testing.T, upstream *fakeCatalog) routerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:router_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&deals.Deal{}, &deals.Store{}, &deals.SyncLog{}, &users.User{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	dealsService, err := deals.NewService(deals.ServiceConfig{
		Database:          db,
		Catalog:           upstream,
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
		SigningSecret: []byte("router-test-secret"),
		Issuer:        "dealwatch-auth",
		Audience:      "dealwatch-api",
	})

	handler, err := NewHTTPHandler(Dependencies{
		DealsService: dealsService,
		UsersService: usersService,
		TokenManager: tokens,
		Logger:       zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}

	return routerFixture{handler: handler, db: db, tokens: tokens}
}

func (f routerFixture) accessToken(t *testing.T, subject string) string {
	t.Helper()
	pair, err := f.tokens.IssueTokenPair(context.Background(), subject)
	if err != nil {
		t.Fatalf("failed to issue token pair: %v", err)
	}
	return pair.AccessToken
}

func (f routerFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
}
