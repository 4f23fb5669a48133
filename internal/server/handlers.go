package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"wasmkey/internal/errs"
	"wasmkey/internal/extract"
	"wasmkey/internal/history"
	"wasmkey/internal/httputil"
	"wasmkey/internal/runner"
)

const (
	exampleURL    = "https://megacloud.blog/embed-2/v2/e-1/nGvw8vuMWbml?k=1"
	failedMessage = "Failed to extract sources from the provided URL"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// DataResponse wraps a successful result on the /extract and /api routes.
type DataResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

// TokenResponse is the data of /api/token.
type TokenResponse struct {
	Embed extract.Embed `json:"embed"`
	Token *runner.Token `json:"token"`
}

type extractRequest struct {
	URL string `json:"url"`
}

func abortError(c *gin.Context, status int, err, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: err, Message: message})
}

func (s *Server) index(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "wasmkey API",
		"version": s.opts.Version,
		"endpoints": gin.H{
			"GET /extractor?url=<url>": "Extract sources, respond with the bare result",
			"POST /extract":            "Extract sources (JSON body with a url field)",
			"GET|POST /api/extract":    "Extract sources (query parameter or JSON body)",
			"GET /api/token?url=<url>": "Run the module only and return the request token",
			"GET /health":              "Health check",
			"GET /metrics":             "Prometheus metrics",
		},
		"example": gin.H{"url": exampleURL},
	})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "version": s.opts.Version})
}

// extractor answers GET /extractor?url= with the bare result.
func (s *Server) extractor(c *gin.Context) {
	url, ok := s.queryURL(c)
	if !ok {
		return
	}
	res, ok := s.runExtract(c, url)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, res)
}

// extractPost answers POST /extract and POST /api/extract.
func (s *Server) extractPost(c *gin.Context) {
	var req extractRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.URL == "" {
		abortError(c, http.StatusBadRequest, "Missing 'url' parameter", "Send JSON with a 'url' field containing an embed URL")
		return
	}
	if !s.allowed(c, req.URL) {
		return
	}
	res, ok := s.runExtract(c, req.URL)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, DataResponse{Success: true, Data: res})
}

// extractGet answers GET /api/extract?url=.
func (s *Server) extractGet(c *gin.Context) {
	url, ok := s.queryURL(c)
	if !ok {
		return
	}
	res, ok := s.runExtract(c, url)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, DataResponse{Success: true, Data: res})
}

func (s *Server) extractNotAllowed(c *gin.Context) {
	abortError(c, http.StatusMethodNotAllowed, "GET method not supported",
		"Use POST with a JSON body containing 'url', or GET /extractor?url=YOUR_URL")
}

func (s *Server) token(c *gin.Context) {
	url, ok := s.queryURL(c)
	if !ok {
		return
	}

	start := time.Now()
	res, _, err := s.opts.Extractor.Token(c.Request.Context(), url)
	s.finish(c.Request.Context(), "token", url, res, err, start)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, DataResponse{Success: true, Data: TokenResponse{Embed: res.Embed, Token: res.Token}})
}

func (s *Server) queryURL(c *gin.Context) (string, bool) {
	url := c.Query("url")
	if url == "" {
		abortError(c, http.StatusBadRequest, "Missing 'url' parameter", "Use: "+c.Request.URL.Path+"?url=YOUR_URL")
		return "", false
	}
	return url, s.allowed(c, url)
}

func (s *Server) allowed(c *gin.Context, url string) bool {
	if len(s.opts.AllowedPrefixes) == 0 {
		return true
	}
	if err := httputil.ValidatePrefix(url, s.opts.AllowedPrefixes); err != nil {
		abortError(c, http.StatusBadRequest, "Invalid URL format", err.Error())
		return false
	}
	return true
}

func (s *Server) runExtract(c *gin.Context, url string) (*extract.Result, bool) {
	start := time.Now()
	res, err := s.opts.Extractor.Extract(c.Request.Context(), url)
	s.finish(c.Request.Context(), "extract", url, res, err, start)
	if err != nil {
		s.fail(c, err)
		return nil, false
	}
	return res, true
}

func (s *Server) finish(ctx context.Context, op, url string, res *extract.Result, err error, start time.Time) {
	if s.opts.Metrics != nil {
		s.opts.Metrics.RecordExtraction(op, err, time.Since(start))
	}
	if s.opts.History == nil {
		return
	}
	if e, ok := history.Record(s.opts.BaseURL, url, res, err, start); ok {
		if herr := s.opts.History.Save(ctx, e); herr != nil {
			s.log.Warn("saving history", zap.Error(herr))
		}
	}
}

// fail maps pipeline errors to a status: upstream fetch failures are 502,
// everything else 500.
func (s *Server) fail(c *gin.Context, err error) {
	c.Error(err)
	status := http.StatusInternalServerError
	if errors.Is(err, errs.ErrFetch) {
		status = http.StatusBadGateway
	}
	abortError(c, status, err.Error(), failedMessage)
}
