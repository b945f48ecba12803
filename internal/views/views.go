// Package views renders the editor pages. Templates are embedded; directories
// listed in Options.OverlayDirs can redefine any of them by name.
package views

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	mhtml "github.com/tdewolff/minify/v2/html"
	"github.com/tdewolff/minify/v2/js"

	"edit-text-server/internal/httpx/response"
	"edit-text-server/internal/logger"
	"edit-text-server/internal/sentryx"
)

var log = logger.WithComponent("VIEWS")

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

// Page is the chrome shared by every view.
type Page struct {
	ScriptName string `json:"-"`
	User       string `json:"user,omitempty"`
	SignOutURL string `json:"-"`
}

// File is one listing row.
type File struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type ListView struct {
	Page
	Title string `json:"title"`
	Files []File `json:"files"`
}

type EditView struct {
	Page
	Title       string `json:"title"`
	Filename    string `json:"filename"`
	Content     string `json:"content"`
	Outcome     string `json:"outcome"`
	EditSuccess string `json:"editSuccess,omitempty"`
	EditError   string `json:"editError,omitempty"`
	Action      string `json:"-"`
	WatchURL    string `json:"-"`
}

type ErrorView struct {
	Page
	Title      string `json:"title"`
	Status     int    `json:"status"`
	Message    string `json:"error"`
	IncidentID string `json:"incidentId,omitempty"`
}

// Options configures a Renderer.
type Options struct {
	// OverlayDirs are searched in order for *.html files whose definitions
	// replace the embedded ones.
	OverlayDirs []string
	// Page fills the shared chrome for a request. Nil yields an empty Page.
	Page func(*http.Request) Page
	// DisableMinify turns off HTML/CSS/JS minification.
	DisableMinify bool
}

type asset struct {
	contentType string
	body        []byte
}

// Renderer executes page templates and serves the static assets.
type Renderer struct {
	tmpl   *template.Template
	min    *minify.M
	page   func(*http.Request) Page
	assets map[string]asset
}

// New parses the embedded templates, applies overlays and prepares the static
// assets.
func New(opts Options) (*Renderer, error) {
	tmpl, err := template.New("root").ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse embedded templates: %w", err)
	}

	for _, dir := range opts.OverlayDirs {
		if dir == "" {
			continue
		}
		matches, err := filepath.Glob(filepath.Join(dir, "*.html"))
		if err != nil {
			return nil, fmt.Errorf("scan template dir %s: %w", dir, err)
		}
		if len(matches) == 0 {
			log.Warn("Template directory %s has no *.html files", dir)
			continue
		}
		if tmpl, err = tmpl.ParseFiles(matches...); err != nil {
			return nil, fmt.Errorf("parse templates in %s: %w", dir, err)
		}
		log.Info("Loaded %d template overrides from %s", len(matches), dir)
	}

	for _, name := range []string{"list", "edit", "error", "not_found"} {
		if tmpl.Lookup(name) == nil {
			return nil, fmt.Errorf("template %q is not defined", name)
		}
	}

	r := &Renderer{
		tmpl: tmpl,
		page: opts.Page,
	}
	if !opts.DisableMinify {
		r.min = newMinifier()
	}
	if r.assets, err = r.loadAssets(); err != nil {
		return nil, err
	}
	return r, nil
}

func newMinifier() *minify.M {
	m := minify.New()
	m.AddFunc("text/css", css.Minify)
	m.AddFunc("application/javascript", js.Minify)
	m.Add("text/html", &mhtml.Minifier{
		KeepDocumentTags: true,
		KeepEndTags:      true,
		KeepQuotes:       true,
	})
	return m
}

func (r *Renderer) loadAssets() (map[string]asset, error) {
	assets := make(map[string]asset)
	err := fs.WalkDir(staticFS, "static", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		raw, err := staticFS.ReadFile(p)
		if err != nil {
			return err
		}

		var contentType string
		switch strings.ToLower(path.Ext(p)) {
		case ".css":
			contentType = "text/css"
		case ".js":
			contentType = "application/javascript"
		default:
			contentType = http.DetectContentType(raw)
		}

		body := raw
		if r.min != nil && (contentType == "text/css" || contentType == "application/javascript") {
			out, err := r.min.Bytes(contentType, raw)
			if err != nil {
				log.Warn("minify %s: %v (using original)", p, err)
			} else {
				body = out
			}
		}
		assets[strings.TrimPrefix(p, "static/")] = asset{contentType: contentType + "; charset=utf-8", body: body}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load static assets: %w", err)
	}
	return assets, nil
}

// Page returns the shared chrome for r.
func (r *Renderer) Page(req *http.Request) Page {
	if r.page == nil {
		return Page{}
	}
	return r.page(req)
}

// WantsJSON reports whether the client asked for JSON instead of HTML.
func WantsJSON(req *http.Request) bool {
	accept := req.Header.Get("Accept")
	return strings.Contains(accept, "application/json") && !strings.Contains(accept, "text/html")
}

// Render writes the named template with data, or data as JSON when the client
// prefers it.
func (r *Renderer) Render(w http.ResponseWriter, req *http.Request, status int, name string, data any) {
	if WantsJSON(req) {
		response.JSON(w, status, data)
		return
	}

	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		log.Error("Template %s failed: %v", name, err)
		sentryx.CaptureError(err, "template %s", name)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	body := buf.Bytes()
	if r.min != nil {
		if out, err := r.min.Bytes("text/html", body); err == nil {
			body = out
		} else {
			log.Warn("minify %s: %v", name, err)
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// Error renders the error page. Server-side failures get an incident id that
// is logged and reported alongside the cause.
func (r *Renderer) Error(w http.ResponseWriter, req *http.Request, status int, message string, cause error) {
	view := ErrorView{
		Page:    r.Page(req),
		Title:   "Error",
		Status:  status,
		Message: message,
	}
	if status >= http.StatusInternalServerError {
		view.IncidentID = uuid.NewString()
		log.Error("Request failed | incident=%s method=%s path=%s err=%v", view.IncidentID, req.Method, req.URL.Path, cause)
		sentryx.CaptureError(cause, "incident %s", view.IncidentID)
	} else if cause != nil {
		log.Warn("Request rejected | status=%d method=%s path=%s err=%v", status, req.Method, req.URL.Path, cause)
	}
	r.Render(w, req, status, "error", view)
}

// NotFound renders the 404 page.
func (r *Renderer) NotFound(w http.ResponseWriter, req *http.Request) {
	r.Render(w, req, http.StatusNotFound, "not_found", ErrorView{
		Page:    r.Page(req),
		Title:   "Not Found",
		Status:  http.StatusNotFound,
		Message: "The page you requested does not exist.",
	})
}

// Static serves the embedded assets. Mount it with the prefix stripped.
func (r *Renderer) Static() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		a, ok := r.assets[strings.TrimPrefix(req.URL.Path, "/")]
		if !ok {
			r.NotFound(w, req)
			return
		}
		w.Header().Set("Content-Type", a.contentType)
		w.Header().Set("Cache-Control", "public, max-age=3600")
		_, _ = w.Write(a.body)
	})
}

// ExistingDirs drops the entries of dirs that are not directories.
func ExistingDirs(dirs []string) []string {
	var out []string
	for _, dir := range dirs {
		dir = strings.TrimSpace(dir)
		if dir == "" {
			continue
		}
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			log.Warn("Skipping template directory %s: not a directory", dir)
			continue
		}
		out = append(out, dir)
	}
	return out
}
