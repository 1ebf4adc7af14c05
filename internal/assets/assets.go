// Package assets serves the frontend: a static file mount under a URL prefix
// and the index file for the site root.
package assets

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/shaharia-lab/pendulum/internal/metrics"
)

// Route label values reported to the Recorder.
const (
	RouteIndex  = "index"
	RouteStatic = "static"
)

// Recorder receives one observation per asset lookup.
type Recorder interface {
	ObserveAsset(route, result string, size int64)
}

// OpenDir opens dir as an asset source. Lookups through the returned FS cannot
// leave dir, including through symlinks. The closer releases the directory.
func OpenDir(dir string) (fs.FS, io.Closer, error) {
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("opening frontend directory %q: %w", dir, err)
	}
	return root.FS(), root, nil
}

// Handler serves files from an asset source.
type Handler struct {
	fsys     fs.FS
	index    string
	logger   *slog.Logger
	recorder Recorder
}

// New creates a Handler for fsys. index is the file returned for the site
// root, relative to fsys. recorder may be nil.
func New(fsys fs.FS, index string, logger *slog.Logger, recorder Recorder) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		fsys:     fsys,
		index:    index,
		logger:   logger.With("component", "assets"),
		recorder: recorder,
	}
}

// Index returns the handler for GET /.
func (h *Handler) Index() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.serveFile(w, r, RouteIndex, h.index)
	}
}

// Static returns the handler for the mount. It expects the URL prefix to be
// stripped already, e.g. by http.StripPrefix.
func (h *Handler) Static() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.serveFile(w, r, RouteStatic, assetName(r.URL.Path))
	}
}

// Ready reports whether the index file exists and is a regular file.
func (h *Handler) Ready() error {
	info, err := fs.Stat(h.fsys, h.index)
	if err != nil {
		return fmt.Errorf("index file %q: %w", h.index, err)
	}
	if info.IsDir() {
		return fmt.Errorf("index file %q is a directory", h.index)
	}
	return nil
}

// assetName maps a URL path to a name inside the asset source. The path is
// cleaned as if rooted, so ".." can never climb above the mount.
func assetName(urlPath string) string {
	name := strings.TrimPrefix(path.Clean("/"+urlPath), "/")
	if name == "" {
		return "."
	}
	return name
}

func (h *Handler) serveFile(w http.ResponseWriter, r *http.Request, route, name string) {
	if strings.Contains(name, `\`) || !fs.ValidPath(name) {
		h.notFound(w, route, name, fs.ErrInvalid)
		return
	}

	f, err := h.fsys.Open(name)
	if err != nil {
		h.notFound(w, route, name, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		h.notFound(w, route, name, err)
		return
	}
	if info.IsDir() {
		h.notFound(w, route, name, errIsDir)
		return
	}

	content, ok := f.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(f)
		if err != nil {
			h.logger.Error("reading asset", "path", name, "error", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		content = bytes.NewReader(data)
	}

	h.record(route, metrics.ResultOK, info.Size())
	h.logger.Debug("serving asset", "route", route, "path", name, "size", info.Size())
	http.ServeContent(w, r, info.Name(), info.ModTime(), content)
}

var errIsDir = errors.New("is a directory")

// notFound writes a minimal 404 that does not reveal the lookup error.
func (h *Handler) notFound(w http.ResponseWriter, route, name string, err error) {
	h.record(route, metrics.ResultNotFound, 0)
	h.logger.Debug("asset not found", "route", route, "path", name, "error", err)
	http.Error(w, "404 page not found", http.StatusNotFound)
}

func (h *Handler) record(route, result string, size int64) {
	if h.recorder != nil {
		h.recorder.ObserveAsset(route, result, size)
	}
}
