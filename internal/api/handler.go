package api

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zhejian/url-shortener/shortlink/internal/auth"
	"github.com/zhejian/url-shortener/shortlink/internal/model"
	"github.com/zhejian/url-shortener/shortlink/internal/ratelimit"
	"github.com/zhejian/url-shortener/shortlink/internal/service"
)

// Handler holds HTTP handlers and dependencies.
// It receives interfaces rather than concrete services for testability.
type Handler struct {
	shortener service.Shortener   // shorten path incl. admission control
	resolver  service.Resolver    // redirect path
	links     service.LinkManager // owner-only operations
	keyFunc   ratelimit.KeyFunc   // client key the limiter counts under
	verifier  *auth.Verifier      // bearer token verification
	checks    map[string]Pinger   // dependencies reported by /health
	logger    *slog.Logger
	now       func() time.Time
}

// Pinger is anything /health can check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// NewHandler creates a new handler instance with the provided dependencies.
func NewHandler(
	shortener service.Shortener,
	resolver service.Resolver,
	links service.LinkManager,
	keyFunc ratelimit.KeyFunc,
	verifier *auth.Verifier,
	checks map[string]Pinger,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		shortener: shortener,
		resolver:  resolver,
		links:     links,
		keyFunc:   keyFunc,
		verifier:  verifier,
		checks:    checks,
		logger:    logger,
		now:       time.Now,
	}
}

// RegisterRoutes registers all route definitions on the given Gin engine.
// The caller adds global middleware first so it wraps every route.
// Routes are organized into:
//   - Health check endpoint for monitoring
//   - Shorten endpoint, open to anonymous callers
//   - Owner endpoints under /links, authentication required
//   - Public redirect endpoint for short URL resolution
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.healthCheck)

	r.POST("/shorten", h.verifier.Middleware(), h.shorten)

	owner := r.Group("/links", h.verifier.Middleware(), auth.RequirePrincipal())
	{
		owner.GET("", h.listLinks)
		owner.GET("/:code", h.getLink)
		owner.DELETE("/:code", h.deleteLink)
	}

	// Redirect route (public) - registered last, it matches any single segment
	r.GET("/:code", h.redirect)
}

// healthCheck handles GET /health
// Response codes:
//   - 200 OK: All dependencies are healthy
//   - 503 Service Unavailable: One or more dependencies are down
func (h *Handler) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	deps := gin.H{}

	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
			deps[name] = "down"
			h.logger.WarnContext(ctx, "health check failed",
				slog.String("dependency", name),
				slog.String("error", err.Error()))
			continue
		}
		deps[name] = "up"
	}

	c.JSON(code, gin.H{"status": status, "dependencies": deps})
}

// shorten handles POST /shorten
// Request body: CreateLinkRequest (JSON); optional bearer token for ownership.
// Response codes:
//   - 200 OK: Short link created
//   - 400 Bad Request: Invalid body, URL or expiry
//   - 401 Unauthorized: Bearer token present but invalid
//   - 429 Too Many Requests: Client exceeded its window
//   - 500 Internal Server Error: Allocation exhausted or storage failure
func (h *Handler) shorten(c *gin.Context) {
	ctx := c.Request.Context()
	var body model.CreateLinkRequest

	if err := c.ShouldBindJSON(&body); err != nil {
		h.logger.WarnContext(ctx, "invalid request body",
			slog.String("error", err.Error()),
			slog.String("path", c.Request.URL.Path))
		h.errorResponse(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	expiresIn, err := service.ExpiryFromSeconds(body.ExpiresIn)
	if err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	req := model.ShortenRequest{
		URL:       body.URL,
		ClientKey: h.keyFunc(c),
		ExpiresIn: expiresIn,
	}
	if principal, ok := auth.PrincipalFrom(c); ok {
		req.OwnerID = &principal
	}

	res, err := h.shortener.Shorten(ctx, req)
	if err != nil {
		var limited *service.RateLimitedError
		switch {
		case errors.As(err, &limited):
			h.rateLimited(c, limited)
		case errors.Is(err, service.ErrInvalidURL):
			h.errorResponse(c, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrInvalidExpiry):
			h.errorResponse(c, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrAllocationExhausted):
			h.errorResponse(c, http.StatusInternalServerError, "Could not create short link, try again")
		default:
			h.logger.ErrorContext(ctx, "unexpected error creating short link",
				slog.String("error", err.Error()))
			h.errorResponse(c, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	setRateLimitHeaders(c, res.RateLimitLimit, res.RateLimitRemaining, res.RateLimitResetAt)

	resp := model.CreateLinkResponse{
		ShortCode:          res.Link.Code,
		ShortURL:           res.Link.ShortURL,
		RateLimitRemaining: res.RateLimitRemaining,
	}
	if res.Link.ExpiresAt != nil {
		resp.ExpiresAt = res.Link.ExpiresAt.UTC().Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, resp)
}

// listLinks handles GET /links
// Response codes:
//   - 200 OK: The caller's links, newest first
//   - 401 Unauthorized: No valid bearer token
//   - 500 Internal Server Error: Unexpected error
func (h *Handler) listLinks(c *gin.Context) {
	ctx := c.Request.Context()
	owner, _ := auth.PrincipalFrom(c)

	links, err := h.links.ListByOwner(ctx, owner)
	if err != nil {
		h.logger.ErrorContext(ctx, "unexpected error listing links",
			slog.String("error", err.Error()))
		h.errorResponse(c, http.StatusInternalServerError, "Internal server error")
		return
	}

	now := h.now()
	resp := model.LinkListResponse{Links: make([]model.LinkResponse, 0, len(links))}
	for _, l := range links {
		resp.Links = append(resp.Links, toLinkResponse(l, now))
	}
	c.JSON(http.StatusOK, resp)
}

// getLink handles GET /links/:code
// Returns metadata, including click count, without counting a click.
// Expired links are still returned with expired=true.
// Response codes:
//   - 200 OK: Metadata retrieved
//   - 401 Unauthorized: No valid bearer token
//   - 403 Forbidden: Link belongs to someone else or nobody
//   - 404 Not Found: Short code does not exist
//   - 500 Internal Server Error: Unexpected error
func (h *Handler) getLink(c *gin.Context) {
	ctx := c.Request.Context()
	code := c.Param("code")
	owner, _ := auth.PrincipalFrom(c)

	link, err := h.links.Get(ctx, code, owner)
	if err != nil {
		h.ownerError(c, err, code, "fetching")
		return
	}

	c.JSON(http.StatusOK, toLinkResponse(link, h.now()))
}

// deleteLink handles DELETE /links/:code
// Response codes:
//   - 204 No Content: Link deleted; its code is never reissued
//   - 401 Unauthorized: No valid bearer token
//   - 403 Forbidden: Link belongs to someone else or nobody
//   - 404 Not Found: Short code does not exist
//   - 500 Internal Server Error: Unexpected error
func (h *Handler) deleteLink(c *gin.Context) {
	ctx := c.Request.Context()
	code := c.Param("code")
	owner, _ := auth.PrincipalFrom(c)

	if err := h.links.Delete(ctx, code, owner); err != nil {
		h.ownerError(c, err, code, "deleting")
		return
	}

	c.Status(http.StatusNoContent)
}

// redirect handles GET /:code
// Redirects to the target and counts a click in the background.
// Response codes:
//   - 302 Found: Redirects to the target URL
//   - 404 Not Found: Short code does not exist
//   - 410 Gone: Link has expired
//   - 500 Internal Server Error: Unexpected error
func (h *Handler) redirect(c *gin.Context) {
	ctx := c.Request.Context()
	code := c.Param("code")

	link, err := h.resolver.Resolve(ctx, code)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			h.errorResponse(c, http.StatusNotFound, "Short link not found")
		case errors.Is(err, service.ErrExpired):
			h.errorResponse(c, http.StatusGone, "Short link has expired")
		default:
			h.logger.ErrorContext(ctx, "unexpected error during redirect",
				slog.String("error", err.Error()),
				slog.String("code", code))
			h.errorResponse(c, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	c.Redirect(http.StatusFound, link.TargetURL)
}

func (h *Handler) ownerError(c *gin.Context, err error, code, action string) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		h.errorResponse(c, http.StatusNotFound, "Short link not found")
	case errors.Is(err, service.ErrForbidden):
		h.errorResponse(c, http.StatusForbidden, "Short link belongs to another owner")
	default:
		h.logger.ErrorContext(c.Request.Context(), "unexpected error "+action+" link",
			slog.String("error", err.Error()),
			slog.String("code", code))
		h.errorResponse(c, http.StatusInternalServerError, "Internal server error")
	}
}

func (h *Handler) rateLimited(c *gin.Context, e *service.RateLimitedError) {
	setRateLimitHeaders(c, e.Limit, 0, e.ResetAt)

	wait := math.Ceil(e.ResetAt.Sub(h.now()).Seconds())
	c.Header("Retry-After", strconv.Itoa(max(int(wait), 1)))

	c.JSON(http.StatusTooManyRequests, model.RateLimitedResponse{
		Error:     http.StatusText(http.StatusTooManyRequests),
		Message:   "Rate limit exceeded, try again after reset_time",
		ResetTime: e.ResetAt.UTC().Format(time.RFC3339),
	})
}

func setRateLimitHeaders(c *gin.Context, limit, remaining int, resetAt time.Time) {
	if limit > 0 {
		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
	}
	c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !resetAt.IsZero() {
		c.Header("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
	}
}

func toLinkResponse(l *model.ShortLink, now time.Time) model.LinkResponse {
	resp := model.LinkResponse{
		ShortCode:  l.Code,
		TargetURL:  l.TargetURL,
		ShortURL:   l.ShortURL,
		CreatedAt:  l.CreatedAt.UTC().Format(time.RFC3339),
		Expired:    l.IsExpired(now),
		ClickCount: l.ClickCount,
	}
	if l.ExpiresAt != nil {
		resp.ExpiresAt = l.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// errorResponse sends a standardized JSON error response.
func (h *Handler) errorResponse(c *gin.Context, status int, message string) {
	c.JSON(status, model.ErrorResponse{
		Error:   http.StatusText(status), // e.g., "Bad Request", "Not Found"
		Message: message,
	})
}
