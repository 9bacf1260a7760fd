package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/boxboard/internal/assets"
	"github.com/MarcoPoloResearchLab/boxboard/internal/auth"
	"github.com/MarcoPoloResearchLab/boxboard/internal/boxes"
	"github.com/MarcoPoloResearchLab/boxboard/internal/discord"
	"github.com/MarcoPoloResearchLab/boxboard/internal/metrics"
	"github.com/MarcoPoloResearchLab/boxboard/internal/ratelimit"
	"github.com/MarcoPoloResearchLab/boxboard/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	userContextKey       = "boxboard_user"
	sessionContextKey    = "boxboard_session_id"
	botSubjectContextKey = "boxboard_bot_subject"
)

var (
	errMissingUsersService   = errors.New("users service dependency required")
	errMissingBoxesService   = errors.New("boxes service dependency required")
	errMissingAssetsService  = errors.New("assets service dependency required")
	errMissingDiscordService = errors.New("discord service dependency required")
	errMissingSessions       = errors.New("session validator dependency required")
	errMissingBotTokens      = errors.New("bot token validator dependency required")
	errMissingReadiness      = errors.New("readiness probe dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

// ReadinessProbe reports whether the database has finished initializing.
type ReadinessProbe interface {
	Ready() bool
}

// BotTokenValidator validates bot service tokens and returns their subject.
type BotTokenValidator interface {
	ValidateToken(token string) (string, error)
}

type Dependencies struct {
	Users          *users.Service
	Boxes          *boxes.Service
	Assets         *assets.Service
	Discord        *discord.Service
	Sessions       *auth.SessionValidator
	BotTokens      BotTokenValidator
	Readiness      ReadinessProbe
	Events         *BoxEventDispatcher
	Limiter        *ratelimit.Limiter
	Metrics        *metrics.Metrics
	WebAppURL      string
	AllowedOrigins []string
	Logger         *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	switch {
	case deps.Users == nil:
		return nil, errMissingUsersService
	case deps.Boxes == nil:
		return nil, errMissingBoxesService
	case deps.Assets == nil:
		return nil, errMissingAssetsService
	case deps.Discord == nil:
		return nil, errMissingDiscordService
	case deps.Sessions == nil:
		return nil, errMissingSessions
	case deps.BotTokens == nil:
		return nil, errMissingBotTokens
	case deps.Readiness == nil:
		return nil, errMissingReadiness
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	events := deps.Events
	if events == nil {
		events = NewBoxEventDispatcher()
	}
	limiter := deps.Limiter
	if limiter == nil {
		limiter = ratelimit.New(ratelimit.Config{})
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if deps.Metrics != nil {
		router.Use(deps.Metrics.Middleware())
	}
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		users:     deps.Users,
		boxes:     deps.Boxes,
		assets:    deps.Assets,
		discord:   deps.Discord,
		sessions:  deps.Sessions,
		botTokens: deps.BotTokens,
		readiness: deps.Readiness,
		events:    events,
		limiter:   limiter,
		metrics:   deps.Metrics,
		webAppURL: deps.WebAppURL,
		logger:    logger,
	}

	router.GET("/healthz", handler.handleHealth)
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	api := router.Group("/api")
	api.Use(handler.requireReady, handler.loadSession)

	api.POST("/auth/signup", handler.handleSignup)
	api.POST("/auth/login", handler.handleLogin)
	api.POST("/auth/logout", handler.handleLogout)
	api.GET("/auth/me", handler.handleMe)

	api.GET("/boxes", handler.handleListBoxes)
	api.GET("/boxes/events", handler.handleBoxEvents)
	api.GET("/boxes/:id", handler.handleGetBox)

	member := api.Group("/boxes/:id")
	member.Use(handler.requireAuth)
	member.POST("/apply", handler.handleApply)
	member.POST("/hold", handler.handleHold)
	member.POST("/leave", handler.handleLeave)
	member.POST("/withdraw", handler.handleWithdraw)

	api.GET("/assets", handler.handleListAssets)
	api.GET("/assets/:status", handler.handleListAssetsByStatus)

	admin := api.Group("/admin")
	admin.Use(handler.requireAdmin)
	admin.GET("/applications", handler.handleListApplications)
	admin.POST("/applications/:id/accept", handler.handleAcceptApplication)
	admin.POST("/applications/:id/reject", handler.handleRejectApplication)
	admin.PUT("/boxes/:id/conditions", handler.handleUpdateConditions)
	admin.POST("/boxes/bulk-import-conditions", handler.handleBulkImport)
	admin.GET("/users", handler.handleListUsers)
	admin.POST("/boxes/:id/assign", handler.handleForceAssign)
	admin.POST("/boxes/:id/remove", handler.handleRemoveHolder)
	admin.PUT("/assets/:id/status", handler.handleSetAssetStatus)

	owner := api.Group("/owner")
	owner.Use(handler.requireOwner)
	owner.PUT("/users/:id/level", handler.handleUpdateUserLevel)

	bot := api.Group("/discord")
	bot.Use(handler.requireBotToken)
	bot.POST("/boxes/:id/apply", handler.handleBotApply)
	bot.POST("/boxes/:id/hold", handler.handleBotHold)
	bot.GET("/user/:discordId", handler.handleBotLookupUser)
	bot.POST("/log-command", handler.handleBotLogCommand)

	link := router.Group("/auth/discord")
	link.Use(handler.requireReady, handler.loadSession)
	link.GET("/status", handler.requireAuth, handler.handleDiscordStatus)
	limited := link.Group("")
	limited.Use(handler.rateLimit)
	limited.GET("", handler.handleDiscordInitiate)
	limited.GET("/callback", handler.handleDiscordCallback)
	limited.POST("/unlink", handler.requireAuth, handler.handleDiscordUnlink)

	return router, nil
}

type httpHandler struct {
	users     *users.Service
	boxes     *boxes.Service
	assets    *assets.Service
	discord   *discord.Service
	sessions  *auth.SessionValidator
	botTokens BotTokenValidator
	readiness ReadinessProbe
	events    *BoxEventDispatcher
	limiter   *ratelimit.Limiter
	metrics   *metrics.Metrics
	webAppURL string
	logger    *zap.Logger
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Cache-Control", "Last-Event-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = allowedOrigins
	}
	return cors.New(config)
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "ready": h.readiness.Ready()})
}
