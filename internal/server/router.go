package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dealwatch/backend/internal/auth"
	"github.com/dealwatch/backend/internal/deals"
	"github.com/dealwatch/backend/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const userContextKey = "dealwatch_username"

var (
	errMissingDealsService  = errors.New("deals service dependency required")
	errMissingUsersService  = errors.New("users service dependency required")
	errMissingTokenManager  = errors.New("token manager dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// TokenManager issues and validates the access/refresh credentials handed to
// API clients.
type TokenManager interface {
	IssueTokenPair(ctx context.Context, subject string) (auth.TokenPair, error)
	ValidateToken(token string) (string, error)
	Refresh(ctx context.Context, refreshToken string) (auth.TokenPair, error)
}

// Dependencies wires the HTTP layer to its collaborators.
type Dependencies struct {
	DealsService *deals.Service
	UsersService *users.Service
	TokenManager TokenManager
	Logger       *zap.Logger
}

// NewHTTPHandler builds the gin router for the REST surface.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.DealsService == nil {
		return nil, errMissingDealsService
	}
	if deps.UsersService == nil {
		return nil, errMissingUsersService
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		dealsService: deps.DealsService,
		usersService: deps.UsersService,
		tokens:       deps.TokenManager,
		logger:       logger,
	}

	router.POST("/register", handler.handleRegister)
	router.POST("/login", handler.handleLogin)
	router.POST("/token/refresh", handler.handleRefresh)

	router.GET("/deals", handler.optionalAuth, handler.handleListDeals)
	router.GET("/deals/fetch_live_deals", handler.handleFetchLive)
	router.GET("/stores", handler.handleListStores)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/deals/sync_from_cheapshark", handler.handleSync)
	protected.POST("/deals/sync_stores", handler.handleSyncStores)
	protected.DELETE("/deals/delete_local_deals", handler.handleDeleteLocalDeals)
	protected.GET("/deals/sync_logs", handler.handleListSyncLogs)

	return router, nil
}

type httpHandler struct {
	dealsService *deals.Service
	usersService *users.Service
	tokens       TokenManager
	logger       *zap.Logger
}

type credentialsPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponsePayload struct {
	Username     string `json:"username"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request credentialsPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	user, err := h.usersService.Register(c.Request.Context(), request.Username, request.Password)
	if errors.Is(err, users.ErrUsernameTaken) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username_taken"})
		return
	}
	if errors.Is(err, users.ErrInvalidInput) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_credentials_format"})
		return
	}
	if err != nil {
		h.logger.Error("registration failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration_failed"})
		return
	}

	h.respondWithTokenPair(c, user.Username)
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request credentialsPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	user, err := h.usersService.Login(c.Request.Context(), request.Username, request.Password)
	if errors.Is(err, users.ErrInvalidCredentials) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if err != nil {
		h.logger.Error("login failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login_failed"})
		return
	}

	h.respondWithTokenPair(c, user.Username)
}

type refreshRequestPayload struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *httpHandler) handleRefresh(c *gin.Context) {
	var request refreshRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.RefreshToken) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	pair, err := h.tokens.Refresh(c.Request.Context(), request.RefreshToken)
	if err != nil {
		h.logger.Warn("refresh token rejected", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	c.JSON(http.StatusOK, tokenResponsePayload{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
		TokenType:    "Bearer",
	})
}

func (h *httpHandler) respondWithTokenPair(c *gin.Context, username string) {
	pair, err := h.tokens.IssueTokenPair(c.Request.Context(), username)
	if err != nil {
		h.logger.Error("failed to issue token pair", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	c.JSON(http.StatusOK, tokenResponsePayload{
		Username:     username,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
		TokenType:    "Bearer",
	})
}

func (h *httpHandler) handleListDeals(c *gin.Context) {
	if c.GetString(userContextKey) == "" {
		// Anonymous callers get the randomized teaser, never the full list.
		sample, err := h.dealsService.SampleDeals(c.Request.Context(), time.Now().UnixNano())
		if err != nil {
			h.logger.Error("anonymous sample failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "listing_failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"deals": sample, "teaser": true})
		return
	}

	filter, err := parseListFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_filter"})
		return
	}

	page, err := h.dealsService.ListDeals(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("deal listing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "listing_failed"})
		return
	}
	c.JSON(http.StatusOK, page)
}

func parseListFilter(c *gin.Context) (deals.ListFilter, error) {
	filter := deals.ListFilter{
		StoreName:         c.Query("store_name"),
		StoreNameContains: c.Query("store_name_contains"),
		GameName:          c.Query("game_name"),
		GameNameContains:  c.Query("game_name_contains"),
		OrderBy:           c.Query("order_by"),
		Descending:        strings.EqualFold(c.Query("order"), "desc"),
	}

	if raw := c.Query("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil {
			return deals.ListFilter{}, err
		}
		filter.Page = page
	}

	floatParams := []struct {
		name   string
		target **float64
	}{
		{"sale_price", &filter.SalePrice},
		{"sale_price_min", &filter.SalePriceMin},
		{"sale_price_max", &filter.SalePriceMax},
		{"rating", &filter.Rating},
		{"rating_min", &filter.RatingMin},
		{"rating_max", &filter.RatingMax},
	}
	for _, param := range floatParams {
		raw := c.Query(param.name)
		if raw == "" {
			continue
		}
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return deals.ListFilter{}, err
		}
		*param.target = &value
	}

	return filter, nil
}

func (h *httpHandler) handleSync(c *gin.Context) {
	report, err := h.dealsService.RunSync(c.Request.Context(), deals.SyncOptions{Type: deals.SyncTypeManual})
	if err != nil {
		if errors.Is(err, deals.ErrUpstreamUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "upstream_unavailable"})
			return
		}
		h.logger.Error("sync failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sync_failed"})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *httpHandler) handleSyncStores(c *gin.Context) {
	result, err := h.dealsService.SyncStores(c.Request.Context())
	if err != nil {
		if errors.Is(err, deals.ErrUpstreamUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "upstream_unavailable"})
			return
		}
		h.logger.Error("store sync failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store_sync_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"created": result.Created,
		"updated": result.Updated,
		"skipped": result.Skipped,
	})
}

func (h *httpHandler) handleFetchLive(c *gin.Context) {
	liveDeals, err := h.dealsService.FetchLive(c.Request.Context())
	if err != nil {
		if errors.Is(err, deals.ErrUpstreamUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "upstream_unavailable"})
			return
		}
		h.logger.Error("live fetch failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "live_fetch_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(liveDeals), "deals": liveDeals})
}

func (h *httpHandler) handleDeleteLocalDeals(c *gin.Context) {
	deleted, err := h.dealsService.ClearDeals(c.Request.Context())
	if err != nil {
		h.logger.Error("bulk delete failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

func (h *httpHandler) handleListSyncLogs(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
			return
		}
		limit = parsed
	}

	logs, err := h.dealsService.ListSyncLogs(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("sync log listing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "listing_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sync_logs": logs})
}

func (h *httpHandler) handleListStores(c *gin.Context) {
	stores, err := h.dealsService.ListStores(c.Request.Context())
	if err != nil {
		h.logger.Error("store listing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "listing_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stores": stores})
}

// authorizeRequest requires a valid bearer access token.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	subject, err := h.bearerSubject(c)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userContextKey, subject)
	c.Next()
}

// optionalAuth resolves a bearer token when present but lets anonymous
// callers through; the listing handler degrades them to the teaser view.
func (h *httpHandler) optionalAuth(c *gin.Context) {
	if c.GetHeader("Authorization") == "" {
		c.Next()
		return
	}
	subject, err := h.bearerSubject(c)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userContextKey, subject)
	c.Next()
}

func (h *httpHandler) bearerSubject(c *gin.Context) (string, error) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", errInvalidAuthorization
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", errInvalidAuthorization
	}
	return h.tokens.ValidateToken(token)
}
