package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"filedrop/internal/server/auth"
	"filedrop/internal/server/database"
	"filedrop/internal/server/service"

	"github.com/labstack/echo/v4"
)

// Handler contains the HTTP handlers for the filedrop API.
type Handler struct {
	links          *service.LinkService
	uploads        *service.UploadService
	users          *service.UserService
	sessions       *auth.Sessions
	store          database.Store
	maxRequestSize int64
}

// NewHandler creates a new handler with the given service dependencies.
func NewHandler(
	links *service.LinkService,
	uploads *service.UploadService,
	users *service.UserService,
	sessions *auth.Sessions,
	store database.Store,
	maxRequestSize int64,
) *Handler {
	return &Handler{
		links:          links,
		uploads:        uploads,
		users:          users,
		sessions:       sessions,
		store:          store,
		maxRequestSize: maxRequestSize,
	}
}

type loginRequest struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

type createLinkRequest struct {
	Folder   string `json:"folder" form:"folder"`
	Password string `json:"password" form:"password"`
	Expiry   string `json:"expiry" form:"expiry"`
}

type passwordRequest struct {
	Password string `json:"password" form:"password"`
}

// HandleLogin handles POST /api/login.
func (h *Handler) HandleLogin(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	user, err := h.users.Login(c.Request().Context(), req.Username, req.Password)
	if err != nil {
		slog.Warn("login failed",
			"request_id", requestContext(c).RequestID,
			"user", req.Username,
			"ip", c.RealIP(),
		)
		return mapServiceError(c, err)
	}

	token, expires, err := h.sessions.Issue(user.ID, user.Username)
	if err != nil {
		slog.Error("failed to issue session", "user", user.Username, "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}
	c.SetCookie(h.sessions.Cookie(token, expires))

	slog.Info("user logged in", "request_id", requestContext(c).RequestID, "user", user.Username)
	return c.JSON(http.StatusOK, echo.Map{
		"username":   user.Username,
		"expires_at": expires,
	})
}

// HandleLogout handles POST /api/logout.
func (h *Handler) HandleLogout(c echo.Context) error {
	c.SetCookie(h.sessions.ClearCookie())
	return c.JSON(http.StatusOK, echo.Map{"message": "logged out"})
}

// HandleUploadInfo handles GET /upload/:token.
// Tells the visitor whether the link needs a password.
func (h *Handler) HandleUploadInfo(c echo.Context) error {
	info, err := h.uploads.Info(c.Request().Context(), c.Param("token"))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, info)
}

// HandleUpload handles POST /upload/:token.
// Accepts a multipart form with one or more "file" parts. The link password
// comes from the X-Link-Password header or a "link_password" field sent
// ahead of the first file. The link is checked before the body is read and
// file parts are streamed to disk as they arrive.
func (h *Handler) HandleUpload(c echo.Context) error {
	rc := requestContext(c)
	req := c.Request()
	ctx := req.Context()
	token := c.Param("token")

	info, err := h.uploads.Info(ctx, token)
	if err != nil {
		slog.Warn("upload rejected", "request_id", rc.RequestID, "ip", rc.RemoteIP, "error", err)
		return mapServiceError(c, err)
	}

	if h.maxRequestSize > 0 {
		if req.ContentLength > h.maxRequestSize {
			return c.JSON(http.StatusRequestEntityTooLarge, echo.Map{"error": "request body too large"})
		}
		req.Body = http.MaxBytesReader(c.Response(), req.Body, h.maxRequestSize)
	}

	mr, err := req.MultipartReader()
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "expected a multipart form with field 'file'",
		})
	}
	src := newPartSource(mr, req.ContentLength)

	password := req.Header.Get(HeaderLinkPassword)
	if password == "" && info.RequiresPassword {
		if password, err = src.leadingPassword(); err != nil {
			return mapServiceError(c, err)
		}
	}

	results, err := h.uploads.Upload(ctx, rc, token, password, src)
	if err != nil {
		return mapServiceError(c, err)
	}

	var stored int
	for _, r := range results {
		if r.Stored() {
			stored++
		}
	}

	return c.JSON(uploadStatus(results), echo.Map{
		"stored":  stored,
		"results": results,
	})
}

// uploadStatus picks the response code: 201 when every file was stored,
// the file's own status for a single failure, and 207 otherwise.
func uploadStatus(results []service.FileResult) int {
	failed := 0
	for _, r := range results {
		if !r.Stored() {
			failed++
		}
	}
	switch {
	case failed == 0:
		return http.StatusCreated
	case len(results) == 1:
		return fileStatus(results[0].Status)
	default:
		return http.StatusMultiStatus
	}
}

func fileStatus(status string) int {
	switch status {
	case service.StatusAlreadyExists:
		return http.StatusConflict
	case service.StatusInsufficientSpace:
		return http.StatusInsufficientStorage
	case service.StatusTooLarge:
		return http.StatusRequestEntityTooLarge
	case service.StatusInvalidFilename:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// HandleListLinks handles GET /api/admin/links.
func (h *Handler) HandleListLinks(c echo.Context) error {
	links, err := h.links.ListLinks(c.Request().Context())
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"links": links})
}

// HandleCreateLink handles POST /api/admin/links.
func (h *Handler) HandleCreateLink(c echo.Context) error {
	var req createLinkRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	link, err := h.links.CreateUploadLink(c.Request().Context(), requestContext(c), req.Folder, req.Password, req.Expiry)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, link)
}

// HandleGetLink handles GET /api/admin/links/:id.
func (h *Handler) HandleGetLink(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}

	link, err := h.links.GetLink(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, link)
}

// HandleDeleteLink handles DELETE /api/admin/links/:id.
// Upload records go with the link; files stay on disk.
func (h *Handler) HandleDeleteLink(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}

	if err := h.links.DeleteLink(c.Request().Context(), requestContext(c), id); err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "link deleted"})
}

// HandleListUploads handles GET /api/admin/links/:id/files.
func (h *Handler) HandleListUploads(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}

	files, err := h.links.ListUploads(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"files": files})
}

// Archive summary headers, sent ahead of the ZIP stream.
const (
	HeaderArchiveFiles = "X-Archive-Files"
	HeaderArchiveSize  = "X-Archive-Size"
)

// HandleArchive handles GET /api/admin/links/:id/archive.
// Streams the link folder as a ZIP attachment.
func (h *Handler) HandleArchive(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}

	tree, name, err := h.links.OpenArchive(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(c, err)
	}

	files, size := len(tree.Files()), tree.Size()

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "application/zip")
	res.Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))
	res.Header().Set(HeaderArchiveFiles, strconv.Itoa(files))
	res.Header().Set(HeaderArchiveSize, strconv.FormatInt(size, 10))
	res.WriteHeader(http.StatusOK)

	rc := requestContext(c)
	if err := tree.WriteZip(res); err != nil {
		// headers are already sent
		slog.Error("archive stream failed",
			"request_id", rc.RequestID,
			"link_id", id,
			"error", err,
		)
		return nil
	}

	slog.Info("archive exported",
		"request_id", rc.RequestID,
		"user", rc.Username,
		"link_id", id,
		"files", files,
		"bytes", size,
	)
	return nil
}

// HandleCleanupPreview handles GET /api/admin/cleanup.
func (h *Handler) HandleCleanupPreview(c echo.Context) error {
	stale, err := h.links.Cleanup(c.Request().Context(), requestContext(c), false)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"stale": stale})
}

// HandleCleanup handles POST /api/admin/cleanup.
func (h *Handler) HandleCleanup(c echo.Context) error {
	deleted, err := h.links.Cleanup(c.Request().Context(), requestContext(c), true)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"deleted": deleted})
}

// HandleListUsers handles GET /api/admin/users.
func (h *Handler) HandleListUsers(c echo.Context) error {
	users, err := h.users.ListUsers(c.Request().Context())
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"users": users})
}

// HandleCreateUser handles POST /api/admin/users.
func (h *Handler) HandleCreateUser(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	user, err := h.users.CreateUser(c.Request().Context(), requestContext(c), req.Username, req.Password)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, user)
}

// HandleDeleteUser handles DELETE /api/admin/users/:id.
func (h *Handler) HandleDeleteUser(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}

	if err := h.users.DeleteUser(c.Request().Context(), requestContext(c), id); err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "user deleted"})
}

// HandleUpdatePassword handles PUT /api/admin/users/:id/password.
func (h *Handler) HandleUpdatePassword(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}

	var req passwordRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	if err := h.users.UpdatePassword(c.Request().Context(), requestContext(c), id, req.Password); err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "password updated"})
}

// HandleHealth handles GET /health.
// Returns the health status of the server, including database connectivity.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := "healthy"
	dbStatus := "connected"

	if err := h.store.HealthCheck(c.Request().Context()); err != nil {
		slog.Error("database health check failed", "error", err)
		status = "degraded"
		dbStatus = "unavailable"
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status":   status,
		"database": dbStatus,
	})
}

// HandleStats handles GET /api/admin/stats.
// Returns aggregate server statistics.
func (h *Handler) HandleStats(c echo.Context) error {
	stats, err := h.links.Stats(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "failed to retrieve stats",
		})
	}
	return c.JSON(http.StatusOK, stats)
}

// paramID parses the :id path parameter, failing with 400 when malformed.
func paramID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// mapServiceError translates service-layer errors into appropriate HTTP responses.
func mapServiceError(c echo.Context, err error) error {
	var conflict *service.ConflictError
	switch {
	case errors.As(err, &conflict):
		body := echo.Map{"error": conflict.Error()}
		if conflict.Token != "" {
			body["token"] = conflict.Token
		}
		return c.JSON(http.StatusConflict, body)
	case errors.Is(err, service.ErrConflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	case errors.Is(err, service.ErrExpired):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "upload link has expired"})
	case errors.Is(err, service.ErrPasswordRequired), errors.Is(err, service.ErrPasswordMismatch):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "password required"})
	case errors.Is(err, service.ErrInvalidCredentials):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid username or password"})
	case errors.Is(err, service.ErrDirectoryUnavailable):
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "upload directory is unavailable"})
	case errors.Is(err, service.ErrPathUnsafe),
		errors.Is(err, service.ErrPathInvalid),
		errors.Is(err, service.ErrInvalidExpiry),
		errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrNoFiles),
		errors.Is(err, service.ErrSelfDelete):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrFileTooLarge):
		return c.JSON(http.StatusRequestEntityTooLarge, echo.Map{"error": err.Error()})
	default:
		slog.Error("unhandled service error",
			"request_id", requestContext(c).RequestID,
			"error", err,
		)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}
}
