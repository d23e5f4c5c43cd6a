package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Thordata/thordata-llm-code-share/internal/cache"
	"github.com/Thordata/thordata-llm-code-share/internal/logging"
	"github.com/Thordata/thordata-llm-code-share/internal/reader"
	"github.com/Thordata/thordata-llm-code-share/internal/repo"
	"github.com/Thordata/thordata-llm-code-share/pkg/pathsafe"
)

// Handler routes the HTTP surface onto a repo set. With exactly one
// repo the operations are also mounted at the root (/tree, /file, ...);
// the named routes under /r/<name>/ work in both modes.
type Handler struct {
	set    *repo.Set
	logger *logging.AppLogger
}

// NewHandler builds the route table for the given repos.
func NewHandler(set *repo.Set, logger *logging.AppLogger) http.Handler {
	if logger == nil {
		logger = logging.GetDefault()
	}
	h := &Handler{set: set, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.landing)
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /robots.txt", h.robots)
	mux.HandleFunc("GET /repos", h.repos)

	mux.HandleFunc("GET /r/{repo}/tree", h.named(h.tree))
	mux.HandleFunc("GET /r/{repo}/file", h.named(h.file))
	mux.HandleFunc("GET /r/{repo}/build", h.named(h.build))
	mux.HandleFunc("GET /r/{repo}/meta", h.named(h.meta))
	mux.HandleFunc("GET /r/{repo}/all", h.named(h.all))

	if set.Len() == 1 {
		only := set.All()[0]
		mux.HandleFunc("GET /tree", h.bound(only, h.tree))
		mux.HandleFunc("GET /file", h.bound(only, h.file))
		mux.HandleFunc("GET /build", h.bound(only, h.build))
		mux.HandleFunc("GET /meta", h.bound(only, h.meta))
		mux.HandleFunc("GET /all", h.bound(only, h.all))
	}

	return h.log(mux)
}

type repoHandler func(rp *repo.Repo, w http.ResponseWriter, r *http.Request)

// named resolves the {repo} path segment before dispatching.
func (h *Handler) named(fn repoHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("repo")
		rp, ok := h.set.Get(name)
		if !ok {
			h.textError(w, http.StatusNotFound, fmt.Sprintf("unknown repo: %q (GET /repos for the list)", name))
			return
		}
		fn(rp, w, r)
	}
}

// bound fixes the repo at route-registration time for single-repo mode.
func (h *Handler) bound(rp *repo.Repo, fn repoHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fn(rp, w, r)
	}
}

func (h *Handler) log(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		h.logger.Debug("Request served",
			"method", r.Method,
			"path", r.URL.Path,
			"query", r.URL.RawQuery,
			"remote", r.RemoteAddr,
			"duration", time.Since(start).String())
	})
}

func textHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
}

func (h *Handler) textError(w http.ResponseWriter, status int, msg string) {
	textHeaders(w)
	w.WriteHeader(status)
	fmt.Fprintln(w, msg)
}

// fail maps domain errors onto HTTP statuses. Containment and rule
// rejections are 403, anything absent is 404, malformed input is the
// caller's 400 before this is reached.
func (h *Handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pathsafe.ErrPathEscape),
		errors.Is(err, pathsafe.ErrSymlink),
		errors.Is(err, reader.ErrForbidden),
		errors.Is(err, reader.ErrBinary):
		h.textError(w, http.StatusForbidden, "forbidden: "+err.Error())
	case errors.Is(err, cache.ErrCacheMissing):
		h.textError(w, http.StatusNotFound, "snapshot not built yet: GET /build first")
	case errors.Is(err, cache.ErrChunkOutOfRange):
		h.textError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, os.ErrNotExist):
		h.textError(w, http.StatusNotFound, "not found")
	default:
		h.logger.Error("Request failed", "error", err)
		h.textError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) landing(w http.ResponseWriter, r *http.Request) {
	textHeaders(w)
	var b strings.Builder
	b.WriteString("LLM code share\n\n")
	if h.set.Len() == 1 {
		only := h.set.All()[0]
		fmt.Fprintf(&b, "Serving: %s\n\n", only.Root)
		b.WriteString("GET /tree             file listing\n")
		b.WriteString("GET /file?path=REL    one file\n")
		b.WriteString("GET /build[?refresh=1] build the snapshot\n")
		b.WriteString("GET /meta             snapshot metadata (JSON)\n")
		b.WriteString("GET /all              chunk index\n")
		b.WriteString("GET /all?part=N       one chunk\n")
	} else {
		fmt.Fprintf(&b, "Serving %d repos. GET /repos for the list.\n\n", h.set.Len())
		b.WriteString("GET /r/<name>/tree, /r/<name>/file?path=REL,\n")
		b.WriteString("    /r/<name>/build, /r/<name>/meta,\n")
		b.WriteString("    /r/<name>/all[?part=N]\n")
	}
	io.WriteString(w, b.String())
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	textHeaders(w)
	io.WriteString(w, "ok\n")
}

func (h *Handler) robots(w http.ResponseWriter, r *http.Request) {
	textHeaders(w)
	io.WriteString(w, "User-agent: *\nDisallow: /\n")
}

func (h *Handler) repos(w http.ResponseWriter, r *http.Request) {
	textHeaders(w)
	fmt.Fprintf(w, "# REPOS: %d\n", h.set.Len())
	for _, rp := range h.set.All() {
		fmt.Fprintf(w, "%s\t%s\n", rp.Name, rp.Root)
	}
}

func (h *Handler) tree(rp *repo.Repo, w http.ResponseWriter, r *http.Request) {
	text, err := rp.TreeText()
	if err != nil {
		h.fail(w, err)
		return
	}
	textHeaders(w)
	w.Write(text)
}

func (h *Handler) file(rp *repo.Repo, w http.ResponseWriter, r *http.Request) {
	relPath := r.URL.Query().Get("path")
	if relPath == "" {
		h.textError(w, http.StatusBadRequest, "missing path parameter")
		return
	}
	res, err := rp.ReadFile(relPath)
	if err != nil {
		h.fail(w, err)
		return
	}
	textHeaders(w)
	w.Write(res.Header())
	w.Write(res.Content)
}

func (h *Handler) build(rp *repo.Repo, w http.ResponseWriter, r *http.Request) {
	refresh := r.URL.Query().Get("refresh") == "1"
	meta, err := rp.Build(refresh)
	if err != nil {
		h.fail(w, err)
		return
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		h.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(data)
}

func (h *Handler) meta(rp *repo.Repo, w http.ResponseWriter, r *http.Request) {
	data, err := rp.MetaJSON()
	if err != nil {
		h.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(data)
}

// all serves the chunk index, or one chunk when part=N is given. The
// chunk path streams straight from the open file so a concurrent
// rebuild never mixes generations into one response.
func (h *Handler) all(rp *repo.Repo, w http.ResponseWriter, r *http.Request) {
	if err := rp.EnsureBuilt(); err != nil {
		h.fail(w, err)
		return
	}

	part := r.URL.Query().Get("part")
	if part == "" {
		index, err := rp.Index()
		if err != nil {
			h.fail(w, err)
			return
		}
		textHeaders(w)
		w.Write(index)
		return
	}

	n, err := strconv.Atoi(part)
	if err != nil {
		h.textError(w, http.StatusBadRequest, "part must be an integer")
		return
	}

	rc, size, err := rp.OpenChunk(n)
	if err != nil {
		h.fail(w, err)
		return
	}
	defer rc.Close()

	textHeaders(w)
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	io.Copy(w, rc)
}
