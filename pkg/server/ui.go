package server

import (
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mikeboe/research-crew/pkg/config"
	"github.com/mikeboe/research-crew/pkg/runner"
	"github.com/mikeboe/research-crew/pkg/store"
)

type previousRun struct {
	Run         store.Run
	ArticleHTML template.HTML
	Download    string
}

type pageData struct {
	Status          *Status
	DefaultTopic    string
	DefaultOutput   string
	ResponseLengths []string
	CanRun          bool
	Refresh         bool
	Flash           string

	Run         *store.Run
	ArticleHTML template.HTML
	Category    string
	Title       string
	Previous    []previousRun
}

func (h *Handler) render(article string) template.HTML {
	// Raw HTML in the article is escaped by the renderer.
	return template.HTML(h.md.RenderToString([]byte(article)))
}

func (h *Handler) index(c *gin.Context) {
	ctx := c.Request.Context()
	st, err := h.Service.Status(ctx)
	if err != nil {
		c.String(http.StatusInternalServerError, err.Error())
		return
	}

	data := pageData{
		Status:          st,
		DefaultTopic:    config.DefaultTopic,
		DefaultOutput:   h.Service.OutputFile,
		ResponseLengths: ResponseLengths,
		CanRun:          st.Keys.Ready() && !st.Running,
		Refresh:         st.Running,
		Flash:           c.Query("error"),
	}

	switch {
	case c.Query("run") != "":
		if id, err := uuid.Parse(c.Query("run")); err == nil {
			if run, err := h.Service.Store.GetRun(ctx, id); err == nil {
				data.Run = run
				data.Refresh = run.Status == store.StatusRunning
			}
		}
	case st.Current != nil:
		data.Run = st.Current
	case st.Latest != nil:
		data.Run = st.Latest
	}

	if data.Run != nil {
		switch data.Run.Status {
		case store.StatusCompleted:
			data.ArticleHTML = h.render(data.Run.Article)
		case store.StatusError:
			data.Category = data.Run.Category
			data.Title = runner.Category(data.Run.Category).Title()
		}
	}

	runs, err := h.Service.Store.ListRuns(ctx, 20)
	if err == nil {
		for _, r := range runs {
			if r.Status != store.StatusCompleted || (data.Run != nil && r.ID == data.Run.ID) {
				continue
			}
			data.Previous = append(data.Previous, previousRun{
				Run:         r,
				ArticleHTML: h.render(r.Article),
				Download:    "/api/runs/" + r.ID.String() + "/download",
			})
		}
	}

	c.Status(http.StatusOK)
	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := h.page.Execute(c.Writer, data); err != nil {
		h.Service.Logger.Error("Failed to render page", "error", err)
	}
}

func redirectWithError(c *gin.Context, err error) {
	c.Redirect(http.StatusSeeOther, "/?error="+url.QueryEscape(err.Error()))
}

func (h *Handler) uiKeys(c *gin.Context) {
	method := config.KeySource(c.PostForm("method"))
	if err := h.Service.SetKeys(method, c.PostForm("google_api_key"), c.PostForm("serper_api_key")); err != nil {
		redirectWithError(c, err)
		return
	}
	c.Redirect(http.StatusSeeOther, "/")
}

// uiRun reads the form by hand: unchecked checkboxes are simply absent.
func (h *Handler) uiRun(c *gin.Context) {
	verbose := c.PostForm("verbose") == "on"
	save := c.PostForm("save_to_file") == "on"
	opts := RunOptions{
		Topic:          c.PostForm("topic"),
		Verbose:        &verbose,
		SaveToFile:     &save,
		OutputFile:     c.PostForm("output_file"),
		ResponseLength: c.PostForm("response_length"),
	}
	if raw := strings.TrimSpace(c.PostForm("temperature")); raw != "" {
		temp, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			redirectWithError(c, errors.New("temperature must be a number"))
			return
		}
		opts.Temperature = &temp
	}

	run, err := h.Service.StartRun(c.Request.Context(), opts)
	if err != nil {
		redirectWithError(c, err)
		return
	}
	c.Redirect(http.StatusSeeOther, "/?run="+run.ID.String())
}
