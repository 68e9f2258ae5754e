package api

import (
	"net/http"

	"filedrop/internal/server/config"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// SetupRouter creates and configures the echo router with all routes and
// middleware. The returned limiter must be stopped on shutdown.
func SetupRouter(handler *Handler, cfg *config.Config) (*echo.Echo, *RateLimiter) {
	e := echo.New()
	e.HideBanner = true

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, HeaderLinkPassword},
	}))
	e.Use(RequestContext())
	e.Use(RequestLogger())

	// Rate limiter on upload and login endpoints
	limiter := NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	// Health
	e.GET("/health", handler.HandleHealth)

	// Sessions
	e.POST("/api/login", handler.HandleLogin, limiter.Middleware())
	e.POST("/api/logout", handler.HandleLogout)

	// Anonymous uploads (rate-limited)
	e.GET("/upload/:token", handler.HandleUploadInfo)
	e.POST("/upload/:token", handler.HandleUpload, limiter.Middleware())

	// Admin
	admin := e.Group("/api/admin", RequireAuth(handler.sessions, handler.users))
	admin.GET("/stats", handler.HandleStats)
	admin.GET("/links", handler.HandleListLinks)
	admin.POST("/links", handler.HandleCreateLink)
	admin.GET("/links/:id", handler.HandleGetLink)
	admin.DELETE("/links/:id", handler.HandleDeleteLink)
	admin.GET("/links/:id/files", handler.HandleListUploads)
	admin.GET("/links/:id/archive", handler.HandleArchive)
	admin.GET("/cleanup", handler.HandleCleanupPreview)
	admin.POST("/cleanup", handler.HandleCleanup)
	admin.GET("/users", handler.HandleListUsers)
	admin.POST("/users", handler.HandleCreateUser)
	admin.DELETE("/users/:id", handler.HandleDeleteUser)
	admin.PUT("/users/:id/password", handler.HandleUpdatePassword)

	return e, limiter
}
