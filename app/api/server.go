package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/cast-comb/app/config"
	"github.com/lysyi3m/cast-comb/app/fs"
)

// NewServer creates the gin engine with all routes configured. The local
// artifact store doubles as the static file root for feed documents and
// media; remote backends get the API only.
func NewServer(handler *Handler, serverConfig config.ServerConfig, files *fs.Local) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())

	setupRoutes(r, handler, serverConfig, files)

	return r
}

func setupRoutes(r *gin.Engine, handler *Handler, serverConfig config.ServerConfig, files *fs.Local) {
	api := r.Group("/api/v1")
	if serverConfig.Auth.Enabled {
		api.Use(basicAuthMiddleware(serverConfig.Auth.Username, serverConfig.Auth.Password))
		slog.Info("API authentication enabled")
	}

	// Configuration management
	api.GET("/config", handler.GetConfig)
	api.PUT("/config/:section", handler.UpdateConfigSection)
	api.POST("/config/tls/upload", handler.UploadTLSFiles)
	api.POST("/config/restart", handler.Restart)

	// Feeds
	api.GET("/feeds", handler.ListFeeds)
	api.POST("/feeds", handler.CreateFeed)
	api.GET("/feeds/:id", handler.GetFeed)
	api.PUT("/feeds/:id", handler.UpdateFeed)
	api.DELETE("/feeds/:id", handler.DeleteFeed)
	api.POST("/feeds/:id/refresh", handler.RefreshFeed)

	// Episodes
	api.GET("/episodes", handler.ListEpisodes)
	api.DELETE("/episodes/:feedID/:episodeID", handler.DeleteEpisode)
	api.POST("/episodes/:feedID/:episodeID/retry", handler.RetryEpisode)
	api.POST("/episodes/:feedID/:episodeID/block", handler.BlockEpisode)

	// Progress
	api.GET("/progress", handler.GetProgress)
	api.GET("/progress/stream", handler.StreamProgress)

	// History
	api.GET("/history", handler.ListHistory)
	api.GET("/history/stats", handler.GetHistoryStats)
	api.POST("/history/cleanup", handler.CleanupHistory)
	api.DELETE("/history", handler.DeleteAllHistory)
	api.GET("/history/:id", handler.GetHistory)
	api.DELETE("/history/:id", handler.DeleteHistory)

	// Health
	r.GET("/health", handler.GetHealth)

	// Feed documents and media from the local artifact store
	if files != nil {
		r.NoRoute(func(c *gin.Context) {
			if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
				c.Status(http.StatusNotFound)
				return
			}
			http.FileServer(files).ServeHTTP(c.Writer, c.Request)
		})
	}
}

// corsMiddleware allows browser clients of the management UI to talk to the
// API from another origin.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func basicAuthMiddleware(username, password string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, pass, ok := c.Request.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(username)) != 1 ||
			subtle.ConstantTimeCompare([]byte(pass), []byte(password)) != 1 {
			c.Header("WWW-Authenticate", `Basic realm="cast-comb"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		c.Next()
	}
}
