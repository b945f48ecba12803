package editor

import (
	"errors"
	"net/http"

	httpxmiddleware "edit-text-server/internal/httpx/middleware"
	"edit-text-server/internal/pathsec"
	"edit-text-server/internal/views"
)

// MaxEditFileSize is the default limit on submitted content.
const MaxEditFileSize = 2 << 20

// Default page titles.
const (
	DefaultListTitle = "Edit Text Files"
	DefaultEditTitle = "Editing"
)

// SavedMessage is shown after a successful save.
const SavedMessage = "File saved."

// ErrMissingContent is returned for a POST whose form has no content field.
var ErrMissingContent = errors.New("form has no content field")

// HandlerOptions configures the HTTP handler.
type HandlerOptions struct {
	ListTitle string
	EditTitle string
	// MaxContentBytes limits submitted content. Zero means MaxEditFileSize.
	MaxContentBytes int64
	// WatchURL is the change feed endpoint advertised to the edit page. Empty
	// disables the notice.
	WatchURL string
}

// Handler serves the listing and edit pages.
type Handler struct {
	service *Service
	views   *views.Renderer
	opts    HandlerOptions
}

// NewHandler creates a new editor handler.
func NewHandler(service *Service, renderer *views.Renderer, opts HandlerOptions) *Handler {
	if opts.ListTitle == "" {
		opts.ListTitle = DefaultListTitle
	}
	if opts.EditTitle == "" {
		opts.EditTitle = DefaultEditTitle
	}
	if opts.MaxContentBytes <= 0 {
		opts.MaxContentBytes = MaxEditFileSize
	}
	return &Handler{service: service, views: renderer, opts: opts}
}

// List handles GET /.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	files := make([]views.File, 0, len(entries))
	for _, e := range entries {
		files = append(files, views.File{Name: e.Name, URL: e.URL})
	}

	h.views.Render(w, r, http.StatusOK, "list", views.ListView{
		Page:  h.views.Page(r),
		Title: h.opts.ListTitle,
		Files: files,
	})
}

// Edit handles GET and POST /edit?filename=...
func (h *Handler) Edit(w http.ResponseWriter, r *http.Request) {
	filename := r.URL.Query().Get("filename")

	req := EditRequest{Filename: filename, Method: r.Method}
	if r.Method == http.MethodPost {
		content, err := h.readContent(w, r)
		if err != nil {
			if httpxmiddleware.IsTooLarge(err) {
				h.views.Error(w, r, http.StatusRequestEntityTooLarge, "The submitted content is too large.", err)
				return
			}
			if errors.Is(err, ErrMissingContent) {
				h.views.Error(w, r, http.StatusBadRequest, "The submitted form has no content field.", err)
				return
			}
			h.views.Error(w, r, http.StatusBadRequest, "Invalid request", err)
			return
		}
		req.Content = content
	}

	out, err := h.service.Edit(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	view := views.EditView{
		Page:     h.views.Page(r),
		Title:    h.opts.EditTitle,
		Filename: filename,
		Content:  out.Content,
		Outcome:  out.Kind.String(),
		Action:   r.URL.RequestURI(),
		WatchURL: h.opts.WatchURL,
	}
	switch out.Kind {
	case Saved:
		view.EditSuccess = SavedMessage
	case ValidationFailed, SaveFailed:
		view.Title = "Error"
		view.EditError = out.Message
	}

	h.views.Render(w, r, http.StatusOK, "edit", view)
}

func (h *Handler) readContent(w http.ResponseWriter, r *http.Request) (string, error) {
	// Percent-encoding can triple the size of the form body.
	if err := httpxmiddleware.ParseFormRequestWithSize(w, r, 3*h.opts.MaxContentBytes+4096); err != nil {
		return "", err
	}
	values, ok := r.PostForm["content"]
	if !ok || len(values) == 0 {
		return "", ErrMissingContent
	}
	content := values[0]
	if int64(len(content)) > h.opts.MaxContentBytes {
		return "", &http.MaxBytesError{Limit: h.opts.MaxContentBytes}
	}
	return content, nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case pathsec.IsPathTraversal(err), errors.Is(err, pathsec.ErrInvalidPath):
		h.views.Error(w, r, http.StatusBadRequest, "The requested file is not in the editable directory.", err)
	case errors.Is(err, ErrMethodNotAllowed):
		w.Header().Set("Allow", "GET, POST")
		h.views.Error(w, r, http.StatusMethodNotAllowed, "Method not allowed", err)
	case errors.Is(err, ErrDirectoryCreateFailed):
		h.views.Error(w, r, http.StatusInternalServerError, "Could not create directories for the file.", err)
	case errors.Is(err, ErrListingFailed):
		h.views.Error(w, r, http.StatusInternalServerError, "Could not list the editable directory.", err)
	default:
		h.views.Error(w, r, http.StatusInternalServerError, "Internal Server Error", err)
	}
}
