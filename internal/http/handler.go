package http

import (
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"soundshelf/internal/domain"
	"soundshelf/internal/ingest"
	"soundshelf/internal/metrics"
	"soundshelf/internal/push"
	"soundshelf/internal/service"
	"soundshelf/internal/storage"
)

// Ingester schedules background ingestion for a user.
type Ingester interface {
	Trigger(user *domain.User, limits ingest.Limits) (string, error)
}

// Deps collects the handler's collaborators. Archive may be nil when
// snapshot archiving is disabled.
type Deps struct {
	Users    service.UserService
	Library  service.LibraryService
	Ingester Ingester
	Hub      *push.Hub
	Archive  storage.Service
	Logger   *logrus.Logger
	Metrics  *metrics.Metrics
	// Gatherer backs /metrics; prometheus.DefaultGatherer when nil.
	Gatherer prometheus.Gatherer

	SessionSecret  []byte
	SessionTTL     time.Duration
	CookieSecure   bool
	AllowedOrigins []string
	StaticDir      string
}

// Handler wires HTTP routes to domain services.
type Handler struct {
	deps    Deps
	logger  *logrus.Logger
	session sessionCodec
}

func NewHandler(deps Deps) *Handler {
	if deps.Logger == nil {
		deps.Logger = logrus.New()
	}
	return &Handler{
		deps:    deps,
		logger:  deps.Logger,
		session: newSessionCodec(deps.SessionSecret, deps.SessionTTL),
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(h.requestLogger(), h.metricsMiddleware(), corsMiddleware(h.deps.AllowedOrigins))

	router.GET("/metrics", gin.WrapH(h.metricsHandler()))
	router.GET("/push/:userId", h.pushStream)

	api := router.Group("/api")
	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": "ok"})
	})
	api.GET("/logout", h.logout)

	api.Use(h.sessionMiddleware)
	{
		api.POST("/register", h.register)
		api.POST("/login", h.login)
		api.GET("/me", h.requireUser(h.me))
		api.POST("/set-auth-creds", h.requireUser(h.setAuthCreds))
		api.GET("/sse-auth-token", h.requireUser(h.sseAuthToken))
		api.GET("/do-scraping", h.requireUser(h.doScraping))
		api.POST("/do-scraping", h.requireUser(h.doScraping))
		api.GET("/liked-tracks", h.requireUser(h.likedTracks))
		api.GET("/track-info/:id", h.requireUser(h.trackInfo))
		api.GET("/liked-and-owned-playlists", h.requireUser(h.playlists))
		api.GET("/playlist-info/:id", h.requireUser(h.playlistInfo))
		api.POST("/clear-liked-tracks", h.requireUser(h.clearLikedTracks))
		api.POST("/clear-playlists", h.requireUser(h.clearPlaylists))
		api.GET("/statistics/most-liked-artist", h.requireUser(h.mostLikedArtist))
		api.GET("/statistics/average-playback-count", h.requireUser(h.averagePlaybackCount))
		api.GET("/archives", h.requireUser(h.listArchives))
	}

	router.NoRoute(h.sessionMiddleware, h.noRoute)
}

func (h *Handler) metricsHandler() http.Handler {
	if h.deps.Gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(h.deps.Gatherer, promhttp.HandlerOpts{})
}

// noRoute answers unknown API paths with a tagged error and everything else
// from the static directory, falling back to index.html for client routing.
func (h *Handler) noRoute(c *gin.Context) {
	if strings.HasPrefix(c.Request.URL.Path, "/api/") || c.Request.URL.Path == "/api" {
		if _, ok := principalFrom(c).User(); !ok {
			h.fail(c, service.ErrNotLoggedIn)
			return
		}
		c.JSON(http.StatusBadRequest, "NonExistentApiRoute")
		return
	}

	if h.deps.StaticDir == "" || (c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead) {
		h.fail(c, service.ErrNotFound)
		return
	}
	root := filepath.Clean(h.deps.StaticDir)
	file := filepath.Join(root, filepath.FromSlash(filepath.Clean("/"+c.Request.URL.Path)))
	if info, err := os.Stat(file); err == nil && !info.IsDir() {
		c.File(file)
		return
	}
	index := filepath.Join(root, "index.html")
	if _, err := os.Stat(index); err != nil {
		h.fail(c, service.ErrNotFound)
		return
	}
	c.File(index)
}

func corsMiddleware(allowed []string) gin.HandlerFunc {
	wildcard := slices.Contains(allowed, "*")
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (wildcard || slices.Contains(allowed, origin)) {
			// credentials rule out "*", so the origin is echoed
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			c.Writer.Header().Add("Vary", "Origin")
			c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, X-Request-ID")
			c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

const requestIDHeader = "X-Request-ID"

func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(requestIDHeader, requestID)

		c.Next()

		entry := h.logger.WithFields(logrus.Fields{
			"request_id": requestID,
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency":    time.Since(start).Round(time.Microsecond).String(),
			"client_ip":  c.ClientIP(),
		})
		if user, ok := principalFrom(c).User(); ok {
			entry = entry.WithField("user_id", user.ID)
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("request failed")
			return
		}
		entry.Info("request")
	}
}

func (h *Handler) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		h.deps.Metrics.HTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start).Seconds())
	}
}
