package server

import (
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gitlab.com/golang-commonmark/markdown"

	"github.com/mikeboe/research-crew/pkg/archive"
	"github.com/mikeboe/research-crew/pkg/config"
	"github.com/mikeboe/research-crew/pkg/runner"
	"github.com/mikeboe/research-crew/pkg/store"
	"github.com/mikeboe/research-crew/pkg/vectorstore"
)

//go:embed web/index.html
var webFS embed.FS

type Handler struct {
	Service *Service
	MCP     http.Handler

	page *template.Template
	md   *markdown.Markdown
}

func NewHandler(s *Service) (*Handler, error) {
	page, err := template.New("index.html").Funcs(template.FuncMap{
		"seconds": func(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) },
	}).ParseFS(webFS, "web/index.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse page template: %w", err)
	}
	return &Handler{
		Service: s,
		MCP:     NewMCPHandler(s),
		page:    page,
		md:      markdown.New(markdown.XHTMLOutput(true), markdown.Tables(true), markdown.Linkify(true)),
	}, nil
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/", h.index)
	r.POST("/ui/keys", h.uiKeys)
	r.POST("/ui/runs", h.uiRun)
	r.Any("/mcp", gin.WrapH(h.MCP))

	api := r.Group("/api")
	{
		api.GET("/status", h.getStatus)
		api.PUT("/keys", h.putKeys)
		api.POST("/runs", h.createRun)
		api.GET("/runs", h.listRuns)
		api.GET("/runs/latest", h.latestRun)
		api.GET("/runs/:id", h.getRun)
		api.GET("/runs/:id/logs", h.getRunLogs)
		api.GET("/runs/:id/download", h.downloadRun)
		api.GET("/runs/:id/chunks", h.getRunChunks)
		api.GET("/articles/search", h.searchArticles)
	}
}

// statusCode maps service errors onto HTTP statuses.
func statusCode(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrRunInProgress):
		return http.StatusConflict
	case errors.Is(err, ErrArchiveDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, runner.ErrEmptyTopic),
		errors.Is(err, ErrInvalidOptions),
		errors.Is(err, config.ErrMissingCredentials),
		errors.Is(err, archive.ErrEmptyQuery):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	c.JSON(statusCode(err), gin.H{"error": err.Error()})
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid uuid"})
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) getStatus(c *gin.Context) {
	st, err := h.Service.Status(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

type keysRequest struct {
	Method       config.KeySource `json:"method"`
	GoogleAPIKey string           `json:"google_api_key"`
	SerperAPIKey string           `json:"serper_api_key"`
}

func (h *Handler) putKeys(c *gin.Context) {
	var req keysRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.Service.SetKeys(req.Method, req.GoogleAPIKey, req.SerperAPIKey); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.Service.Keys.Status())
}

func (h *Handler) createRun(c *gin.Context) {
	var req RunOptions
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	run, err := h.Service.StartRun(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, run)
}

func (h *Handler) listRuns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := h.Service.Store.ListRuns(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	c.JSON(http.StatusOK, runs)
}

func (h *Handler) latestRun(c *gin.Context) {
	run, err := h.Service.Store.LatestCompleted(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (h *Handler) getRun(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	run, err := h.Service.Store.GetRun(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (h *Handler) getRunLogs(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	logs, err := h.Service.Store.RunLogs(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if logs == nil {
		logs = []store.LogEntry{}
	}
	c.JSON(http.StatusOK, logs)
}

func (h *Handler) getRunChunks(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	chunks, err := h.Service.RunChunks(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if chunks == nil {
		chunks = []vectorstore.Chunk{}
	}
	c.JSON(http.StatusOK, chunks)
}

// downloadName is the run's output file, or previous-article-<topic>.md with
// spaces replaced by dashes.
func downloadName(run *store.Run) string {
	if run.OutputFile != "" {
		return filepath.Base(run.OutputFile)
	}
	return "previous-article-" + strings.ReplaceAll(run.Topic, " ", "-") + ".md"
}

func (h *Handler) downloadRun(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	run, err := h.Service.Store.GetRun(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if run.Status != store.StatusCompleted {
		c.JSON(http.StatusConflict, gin.H{"error": "run has no article yet"})
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q; filename*=UTF-8''%s",
		downloadName(run), url.PathEscape(downloadName(run))))
	c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(run.Article))
}

func (h *Handler) searchArticles(c *gin.Context) {
	topK, _ := strconv.Atoi(c.DefaultQuery("k", "5"))
	hits, err := h.Service.SearchArticles(c.Request.Context(), c.Query("q"), topK)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, hits)
}
