package server

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/hive/internal/messages"
	"github.com/MarcoPoloResearchLab/hive/internal/pseudonym"
	"github.com/MarcoPoloResearchLab/hive/internal/store"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	errMissingStores     = errors.New("store manager dependency required")
	errMissingHasher     = errors.New("pseudonym hasher dependency required")
	errMissingAdminToken = errors.New("admin token is required")
)

// Dependencies wires the read-only query API.
type Dependencies struct {
	Stores     *store.Manager
	Hasher     *pseudonym.Hasher
	AdminToken string
	Logger     *zap.Logger
}

// NewHTTPHandler builds the administrative query surface: trend, rank,
// random message, channel stats and day buckets per guild, all read-only and
// guarded by a static bearer token.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Stores == nil {
		return nil, errMissingStores
	}
	if deps.Hasher == nil {
		return nil, errMissingHasher
	}
	if strings.TrimSpace(deps.AdminToken) == "" {
		return nil, errMissingAdminToken
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		stores:     deps.Stores,
		hasher:     deps.Hasher,
		adminToken: deps.AdminToken,
		logger:     logger,
	}

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/guilds", handler.handleGuilds)
	protected.GET("/guilds/:guild/trend", handler.handleTrend)
	protected.GET("/guilds/:guild/rank", handler.handleRank)
	protected.GET("/guilds/:guild/random", handler.handleRandom)
	protected.GET("/guilds/:guild/channels", handler.handleChannelStats)
	protected.GET("/guilds/:guild/days", handler.handleDayRange)

	return router, nil
}

type httpHandler struct {
	stores     *store.Manager
	hasher     *pseudonym.Hasher
	adminToken string
	logger     *zap.Logger
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Next()
}

func (h *httpHandler) serviceFor(c *gin.Context) (*messages.Service, bool) {
	guildStore, err := h.stores.Get(c.Param("guild"))
	if err != nil {
		if errors.Is(err, store.ErrInvalidGuildID) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_guild_id"})
			return nil, false
		}
		h.logger.Error("guild store unavailable", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store_unavailable"})
		return nil, false
	}

	service, err := messages.NewService(messages.ServiceConfig{
		Database: guildStore.DB,
		Hasher:   h.hasher,
		Logger:   h.logger,
	})
	if err != nil {
		h.logger.Error("service construction failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "service_unavailable"})
		return nil, false
	}
	return service, true
}

func (h *httpHandler) handleGuilds(c *gin.Context) {
	guildIDs, err := h.stores.GuildIDs()
	if err != nil {
		h.logger.Error("guild scan failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "scan_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"guilds": guildIDs})
}

func (h *httpHandler) handleTrend(c *gin.Context) {
	service, ok := h.serviceFor(c)
	if !ok {
		return
	}

	result, err := service.Trend(c.Request.Context(), c.Query("expression"))
	if err != nil {
		if errors.Is(err, messages.ErrEmptyExpression) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing_expression"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
		return
	}

	points := make([]gin.H, 0, len(result.Points))
	for _, point := range result.Points {
		points = append(points, gin.H{"date": point.Date, "frequency": point.Frequency})
	}
	c.JSON(http.StatusOK, gin.H{
		"points":    points,
		"first_day": result.FirstDay,
		"last_day":  result.LastDay,
	})
}

func (h *httpHandler) handleRank(c *gin.Context) {
	service, ok := h.serviceFor(c)
	if !ok {
		return
	}

	entries, err := service.Rank(c.Request.Context(), c.Query("expression"))
	if err != nil {
		if errors.Is(err, messages.ErrEmptyExpression) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing_expression"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
		return
	}

	payload := make([]gin.H, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, gin.H{
			"author_id":   entry.Author.ID,
			"author_kind": string(entry.Author.Kind),
			"count":       entry.Count,
		})
	}
	c.JSON(http.StatusOK, gin.H{"entries": payload})
}

func (h *httpHandler) handleRandom(c *gin.Context) {
	service, ok := h.serviceFor(c)
	if !ok {
		return
	}

	filters := messages.RandomFilters{
		ChannelID:         c.Query("channel_id"),
		RequireAttachment: c.Query("require_attachment") == "true",
		AuthorID:          c.Query("author_id"),
	}
	if raw := c.Query("min_content_length"); raw != "" {
		minLength, err := strconv.Atoi(raw)
		if err != nil || minLength < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_min_content_length"})
			return
		}
		filters.MinContentLength = minLength
	}

	message, err := service.RandomMessage(c.Request.Context(), filters)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
		return
	}
	if message == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no_match"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message_id":     message.MessageID,
		"channel_id":     message.ChannelID,
		"timestamp":      message.Timestamp().Format(time.RFC3339),
		"content":        message.Content,
		"attachment_url": message.AttachmentURL,
	})
}

func (h *httpHandler) handleChannelStats(c *gin.Context) {
	service, ok := h.serviceFor(c)
	if !ok {
		return
	}

	stats, err := service.ChannelStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
		return
	}

	payload := make(map[string]gin.H, len(stats))
	for channelID, stat := range stats {
		payload[channelID] = gin.H{
			"count":         stat.Count,
			"first_message": stat.FirstMessageTime.Format(time.RFC3339),
			"last_message":  stat.LastMessageTime.Format(time.RFC3339),
		}
	}
	c.JSON(http.StatusOK, gin.H{"channels": payload})
}

func (h *httpHandler) handleDayRange(c *gin.Context) {
	service, ok := h.serviceFor(c)
	if !ok {
		return
	}

	start, err := time.Parse("2006-01-02", c.Query("start"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_start"})
		return
	}
	end, err := time.Parse("2006-01-02", c.Query("end"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_end"})
		return
	}

	days, err := service.DayRange(c.Request.Context(), start, end)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
		return
	}

	payload := make([]gin.H, 0, len(days))
	for _, day := range days {
		payload = append(payload, gin.H{"date": day.Date, "count": day.Count})
	}
	c.JSON(http.StatusOK, gin.H{"days": payload})
}
