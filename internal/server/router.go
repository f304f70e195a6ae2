package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pastpin/pastpin/internal/auth"
	"github.com/pastpin/pastpin/internal/images"
)

const (
	userIDContextKey = "pastpin_user_id"
	staffContextKey  = "pastpin_staff"
)

var (
	errMissingOSMVerifier   = errors.New("osm verifier dependency required")
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingImagesService = errors.New("images service dependency required")
	errMissingIdentities    = errors.New("identity registry dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// OSMVerifier resolves OpenStreetMap OAuth tokens into account claims.
type OSMVerifier interface {
	Verify(ctx context.Context, token string) (auth.OSMClaims, error)
}

// BackendTokenManager issues and validates backend session tokens. Tokens
// carry the canonical user id as their subject.
type BackendTokenManager interface {
	IssueBackendToken(ctx context.Context, userID, displayName string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// IdentityRegistry maps verified accounts to canonical user ids and answers
// staff membership.
type IdentityRegistry interface {
	ResolveCanonicalUserID(claims auth.OSMClaims) (string, error)
	IsStaff(userID string) bool
}

// Dependencies wires the HTTP surface to the underlying services.
type Dependencies struct {
	OSMVerifier   OSMVerifier
	TokenManager  BackendTokenManager
	ImagesService *images.Service
	Identities    IdentityRegistry
	Logger        *zap.Logger
}

// NewHTTPHandler assembles the gin router with all API routes registered.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.OSMVerifier == nil {
		return nil, errMissingOSMVerifier
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.ImagesService == nil {
		return nil, errMissingImagesService
	}
	if deps.Identities == nil {
		return nil, errMissingIdentities
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
		verifier:   deps.OSMVerifier,
		tokens:     deps.TokenManager,
		images:     deps.ImagesService,
		identities: deps.Identities,
		logger:     logger,
	}

	router.POST("/auth/osm", handler.handleOSMAuth)

	api := router.Group("/api")
	api.Use(handler.resolveIdentity)

	api.GET("/images", handler.handleListImages)
	api.GET("/images/next", handler.handleNextImage)
	api.GET("/images/:id", handler.handleGetImage)
	api.POST("/images/:id/georeferences", handler.handleSubmitGeoreference)
	api.POST("/images/:id/skip", handler.handleSkipImage)
	api.POST("/georeferences/:id/validations", handler.requireIdentity, handler.handleValidateGeoreference)

	api.GET("/sources", handler.handleListSources)
	api.GET("/sources/:slug", handler.handleGetSource)
	api.GET("/sources/:slug/collections/:collectionSlug", handler.handleGetCollection)
	api.GET("/stats", handler.handleStats)
	api.GET("/geojson", handler.handleGeoJSON)

	staff := api.Group("/")
	staff.Use(handler.requireIdentity, handler.requireStaff)
	staff.POST("/images/:id/difficulty", handler.handleMarkDifficulty)
	staff.POST("/images/:id/will-not-georef", handler.handleMarkWillNotGeoref)
	staff.DELETE("/images/:id/skips/:userID", handler.handleRemoveSkip)

	return router, nil
}

type httpHandler struct {
	verifier   OSMVerifier
	tokens     BackendTokenManager
	images     *images.Service
	identities IdentityRegistry
	logger     *zap.Logger
}

type authRequestPayload struct {
	AccessToken string `json:"access_token"`
}

type authResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
	UserID      string `json:"user_id"`
	Staff       bool   `json:"staff"`
}

func (h *httpHandler) handleOSMAuth(c *gin.Context) {
	var request authRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.AccessToken) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	claims, err := h.verifier.Verify(c.Request.Context(), request.AccessToken)
	if err != nil {
		h.logger.Warn("osm token verification failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	userID, err := h.identities.ResolveCanonicalUserID(claims)
	if err != nil {
		h.logger.Error("failed to resolve identity", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "identity_resolution_failed"})
		return
	}

	token, expiresIn, err := h.tokens.IssueBackendToken(c.Request.Context(), userID, claims.DisplayName)
	if err != nil {
		h.logger.Error("failed to issue backend token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, authResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		UserID:      userID,
		Staff:       h.identities.IsStaff(userID),
	})
}

// resolveIdentity parses the Authorization header when present. Anonymous
// requests pass through with no user id set; only a malformed or expired
// token is rejected outright.
func (h *httpHandler) resolveIdentity(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if header == "" {
		c.Next()
		return
	}
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Set(staffContextKey, h.identities.IsStaff(subject))
	c.Next()
}

func (h *httpHandler) requireIdentity(c *gin.Context) {
	if c.GetString(userIDContextKey) == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Next()
}

func (h *httpHandler) requireStaff(c *gin.Context) {
	if !c.GetBool(staffContextKey) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "staff_required"})
		return
	}
	c.Next()
}

func (h *httpHandler) currentUser(c *gin.Context) *string {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		return nil
	}
	return &userID
}

// writeServiceError maps the error taxonomy of the images service onto HTTP
// status codes, exposing the dot-separated code to clients.
func (h *httpHandler) writeServiceError(c *gin.Context, err error) {
	code := images.CodeOf(err)
	if code == "" {
		code = "internal_error"
	}

	status := http.StatusInternalServerError
	switch images.KindOf(err) {
	case images.KindNotFound:
		status = http.StatusNotFound
	case images.KindInvalidInput, images.KindRuleViolation:
		status = http.StatusBadRequest
	case images.KindUnauthorized:
		status = http.StatusUnauthorized
	case images.KindConflict:
		status = http.StatusConflict
	case images.KindStoreUnavailable:
		status = http.StatusServiceUnavailable
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("images service request failed", zap.String("code", code), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": code})
}

type validationPayload struct {
	ID          string `json:"id"`
	Vote        string `json:"vote"`
	ValidatedBy string `json:"validated_by"`
	Notes       string `json:"notes,omitempty"`
}

type georeferencePayload struct {
	ID          string              `json:"id"`
	Latitude    float64             `json:"latitude"`
	Longitude   float64             `json:"longitude"`
	Direction   *int                `json:"direction,omitempty"`
	Confidence  string              `json:"confidence"`
	SubmittedBy *string             `json:"submitted_by"`
	Notes       string              `json:"notes,omitempty"`
	Validations []validationPayload `json:"validations"`
}

type imagePayload struct {
	ID            string  `json:"id"`
	CollectionID  string  `json:"collection_id"`
	Title         string  `json:"title"`
	Permalink     string  `json:"permalink"`
	Description   *string `json:"description,omitempty"`
	LicenseTitle  *string `json:"license_title,omitempty"`
	LicenseURL    *string `json:"license_url,omitempty"`
	DateDisplay   string  `json:"date_display"`
	Difficulty    *string `json:"difficulty,omitempty"`
	WillNotGeoref bool    `json:"will_not_georef"`
	SkipCount     int64   `json:"skip_count"`
	Status        string  `json:"status,omitempty"`

	Georeferences []georeferencePayload `json:"georeferences,omitempty"`
}

func renderImage(image images.Image, status string, withGeoreferences bool) imagePayload {
	payload := imagePayload{
		ID:            image.ID,
		CollectionID:  image.CollectionID,
		Title:         image.Title,
		Permalink:     image.Permalink,
		Description:   image.Description,
		LicenseTitle:  image.LicenseTitle,
		LicenseURL:    image.LicenseURL,
		DateDisplay:   image.DateDisplay(),
		WillNotGeoref: image.WillNotGeoref,
		SkipCount:     image.SkipCount,
		Status:        status,
	}
	if image.Difficulty != nil {
		difficulty := string(*image.Difficulty)
		payload.Difficulty = &difficulty
	}
	if !withGeoreferences {
		return payload
	}
	payload.Georeferences = make([]georeferencePayload, 0, len(image.Georeferences))
	for _, georeference := range image.Georeferences {
		rendered := georeferencePayload{
			ID:          georeference.ID,
			Latitude:    georeference.Latitude,
			Longitude:   georeference.Longitude,
			Direction:   georeference.Direction,
			Confidence:  string(georeference.Confidence),
			SubmittedBy: georeference.SubmittedBy,
			Notes:       georeference.Notes,
			Validations: make([]validationPayload, 0, len(georeference.Validations)),
		}
		for _, validation := range georeference.Validations {
			rendered.Validations = append(rendered.Validations, validationPayload{
				ID:          validation.ID,
				Vote:        string(validation.Vote),
				ValidatedBy: validation.ValidatedBy,
				Notes:       validation.Notes,
			})
		}
		payload.Georeferences = append(payload.Georeferences, rendered)
	}
	return payload
}

func (h *httpHandler) handleNextImage(c *gin.Context) {
	filters := images.SelectorFilters{
		SourceSlug:     strings.TrimSpace(c.Query("source")),
		CollectionSlug: strings.TrimSpace(c.Query("collection")),
	}
	if raw := strings.TrimSpace(c.Query("difficulty")); raw != "" {
		difficulty, err := images.ParseDifficulty(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_difficulty"})
			return
		}
		filters.Difficulty = &difficulty
	}
	var requestedID *string
	if raw := strings.TrimSpace(c.Query("image_id")); raw != "" {
		requestedID = &raw
	}
	user := h.currentUser(c)

	image, err := h.images.SelectNext(c.Request.Context(), filters, user, requestedID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	remaining, err := h.images.CountEligible(c.Request.Context(), filters, user)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	if image == nil {
		c.JSON(http.StatusOK, gin.H{"image": nil, "remaining": remaining})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"image":     renderImage(*image, "", false),
		"remaining": remaining,
	})
}

func (h *httpHandler) handleListImages(c *gin.Context) {
	filter := images.ListFilter{
		CollectionID: strings.TrimSpace(c.Query("collection_id")),
	}
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		status, err := images.ParseStatus(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_status"})
			return
		}
		filter.Status = &status
	}
	if raw := strings.TrimSpace(c.Query("difficulty")); raw != "" {
		difficulty, err := images.ParseDifficulty(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_difficulty"})
			return
		}
		filter.Difficulty = &difficulty
	}
	filter.Limit = queryInt(c, "limit")
	filter.Offset = queryInt(c, "offset")

	page, err := h.images.ListImages(c.Request.Context(), filter)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	rendered := make([]imagePayload, 0, len(page.Images))
	for _, image := range page.Images {
		rendered = append(rendered, renderImage(image, "", false))
	}
	c.JSON(http.StatusOK, gin.H{
		"images": rendered,
		"total":  page.Total,
		"limit":  page.Limit,
		"offset": page.Offset,
	})
}

func (h *httpHandler) handleGetImage(c *gin.Context) {
	detail, err := h.images.GetImage(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, renderImage(detail.Image, string(detail.Status), true))
}

type submitRequestPayload struct {
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	Direction  *int    `json:"direction"`
	Confidence string  `json:"confidence"`
	Notes      string  `json:"notes"`
}

func (h *httpHandler) handleSubmitGeoreference(c *gin.Context) {
	var request submitRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	result, err := h.images.Submit(c.Request.Context(), images.SubmitRequest{
		ImageID:    c.Param("id"),
		Submitter:  h.currentUser(c),
		Latitude:   request.Latitude,
		Longitude:  request.Longitude,
		Direction:  request.Direction,
		Confidence: images.Confidence(request.Confidence),
		Notes:      request.Notes,
	})
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Updated {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{
		"georeference_id": result.GeoreferenceID,
		"updated":         result.Updated,
	})
}

type validateRequestPayload struct {
	Vote  string `json:"vote"`
	Notes string `json:"notes"`
}

func (h *httpHandler) handleValidateGeoreference(c *gin.Context) {
	var request validateRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	validationID, err := h.images.Validate(c.Request.Context(), images.ValidateRequest{
		GeoreferenceID: c.Param("id"),
		Voter:          c.GetString(userIDContextKey),
		Vote:           images.Vote(request.Vote),
		Notes:          request.Notes,
	})
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"validation_id": validationID})
}

type skipRequestPayload struct {
	Reason string `json:"reason"`
}

func (h *httpHandler) handleSkipImage(c *gin.Context) {
	var request skipRequestPayload
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&request); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
	}

	result, err := h.images.Skip(c.Request.Context(), images.SkipRequest{
		ImageID: c.Param("id"),
		UserID:  h.currentUser(c),
		Reason:  request.Reason,
	})
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"recorded":        result.Recorded,
		"already_skipped": result.AlreadySkipped,
	})
}

func (h *httpHandler) handleRemoveSkip(c *gin.Context) {
	if err := h.images.RemoveSkip(c.Request.Context(), c.Param("id"), c.Param("userID")); err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": true})
}

type difficultyRequestPayload struct {
	Difficulty string `json:"difficulty"`
}

func (h *httpHandler) actor(c *gin.Context) images.Actor {
	return images.Actor{
		UserID: c.GetString(userIDContextKey),
		Staff:  c.GetBool(staffContextKey),
	}
}

func (h *httpHandler) handleMarkDifficulty(c *gin.Context) {
	var request difficultyRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	err := h.images.MarkDifficulty(c.Request.Context(), c.Param("id"), h.actor(c), images.Difficulty(request.Difficulty))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"difficulty": request.Difficulty})
}

func (h *httpHandler) handleMarkWillNotGeoref(c *gin.Context) {
	if err := h.images.MarkWillNotGeoref(c.Request.Context(), c.Param("id"), h.actor(c)); err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"will_not_georef": true})
}

type progressPayload struct {
	TotalImages       int64   `json:"total_images"`
	Georeferenced     int64   `json:"georeferenced"`
	Pending           int64   `json:"pending"`
	CompletionPercent float64 `json:"completion_percent"`
}

func renderProgress(progress images.Progress) progressPayload {
	return progressPayload{
		TotalImages:       progress.TotalImages,
		Georeferenced:     progress.Georeferenced,
		Pending:           progress.Pending,
		CompletionPercent: progress.CompletionPercent(),
	}
}

type sourcePayload struct {
	Slug            string          `json:"slug"`
	Name            string          `json:"name"`
	URL             string          `json:"url,omitempty"`
	Description     string          `json:"description,omitempty"`
	CollectionCount int64           `json:"collection_count,omitempty"`
	Progress        progressPayload `json:"progress"`
}

type collectionPayload struct {
	Slug        string          `json:"slug"`
	Name        string          `json:"name"`
	URL         string          `json:"url,omitempty"`
	Description string          `json:"description,omitempty"`
	Progress    progressPayload `json:"progress"`
}

func (h *httpHandler) handleListSources(c *gin.Context) {
	sources, err := h.images.ListSources(c.Request.Context())
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	rendered := make([]sourcePayload, 0, len(sources))
	for _, source := range sources {
		rendered = append(rendered, sourcePayload{
			Slug:            source.Source.Slug,
			Name:            source.Source.Name,
			URL:             source.Source.URL,
			Description:     source.Source.Description,
			CollectionCount: source.CollectionCount,
			Progress:        renderProgress(source.Progress),
		})
	}
	c.JSON(http.StatusOK, gin.H{"sources": rendered})
}

func (h *httpHandler) handleGetSource(c *gin.Context) {
	detail, err := h.images.GetSource(c.Request.Context(), c.Param("slug"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	collections := make([]collectionPayload, 0, len(detail.Collections))
	for _, collection := range detail.Collections {
		collections = append(collections, collectionPayload{
			Slug:        collection.Collection.Slug,
			Name:        collection.Collection.Name,
			URL:         collection.Collection.URL,
			Description: collection.Collection.Description,
			Progress:    renderProgress(collection.Progress),
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"source": sourcePayload{
			Slug:        detail.Source.Slug,
			Name:        detail.Source.Name,
			URL:         detail.Source.URL,
			Description: detail.Source.Description,
			Progress:    renderProgress(detail.Progress),
		},
		"collections": collections,
	})
}

func (h *httpHandler) handleGetCollection(c *gin.Context) {
	detail, err := h.images.GetCollection(c.Request.Context(), c.Param("slug"), c.Param("collectionSlug"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, collectionPayload{
		Slug:        detail.Collection.Slug,
		Name:        detail.Collection.Name,
		URL:         detail.Collection.URL,
		Description: detail.Collection.Description,
		Progress:    renderProgress(detail.Progress),
	})
}

func (h *httpHandler) handleStats(c *gin.Context) {
	stats, err := h.images.Stats(c.Request.Context())
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total_images":       stats.TotalImages,
		"georeferenced":      stats.Georeferenced,
		"will_not_georef":    stats.WillNotGeoref,
		"pending":            stats.Pending,
		"completion_percent": stats.CompletionPercent(),
		"difficulty": gin.H{
			"easy":    stats.Difficulty.Easy,
			"medium":  stats.Difficulty.Medium,
			"hard":    stats.Difficulty.Hard,
			"unrated": stats.Difficulty.Unrated,
		},
	})
}

func (h *httpHandler) handleGeoJSON(c *gin.Context) {
	document, err := h.images.GeoJSON(c.Request.Context(), images.GeoJSONFilter{
		ImageID:      strings.TrimSpace(c.Query("image_id")),
		CollectionID: strings.TrimSpace(c.Query("collection_id")),
		SourceID:     strings.TrimSpace(c.Query("source_id")),
	})
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, document)
}

func queryInt(c *gin.Context, name string) int {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0
	}
	return value
}
