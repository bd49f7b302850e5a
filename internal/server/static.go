package server

import (
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var staticBackupSuffixes = []string{"~", ".bak", ".backup", ".old", ".orig", ".swp", ".tmp"}

// staticAccessPolicy decides which paths under the static root are never
// served, whatever the caller's credentials.
type staticAccessPolicy struct {
	hiddenNames map[string]struct{}
}

func newStaticAccessPolicy(hidden ...string) staticAccessPolicy {
	p := staticAccessPolicy{hiddenNames: map[string]struct{}{
		"config.json": {},
		"config.yaml": {},
		"config.yml":  {},
	}}
	for _, name := range hidden {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || name == "." {
			continue
		}
		// SQLite keeps sidecar files next to the database.
		for _, suffix := range []string{"", "-wal", "-shm", "-journal"} {
			p.hiddenNames[name+suffix] = struct{}{}
		}
	}
	return p
}

func (p staticAccessPolicy) Blocked(rel string, isDir bool) bool {
	rel = normalizeStaticRelPath(rel)
	if rel == "" {
		return false
	}
	segments := strings.Split(rel, "/")
	for _, segment := range segments {
		if segment == "" || segment == "." || segment == ".." {
			return true
		}
		if strings.HasPrefix(segment, ".") {
			return true
		}
	}
	if isDir {
		return false
	}
	name := strings.ToLower(segments[len(segments)-1])
	if _, hidden := p.hiddenNames[name]; hidden {
		return true
	}
	if strings.HasSuffix(name, ".pem") {
		return true
	}
	for _, suffix := range staticBackupSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// staticFileSystem applies the access policy on every open, including the
// implicit index.html lookups.
type staticFileSystem struct {
	root   http.FileSystem
	policy staticAccessPolicy
}

func (fsys staticFileSystem) Open(name string) (http.File, error) {
	cleanName := staticCleanPath(name)
	rel := strings.TrimPrefix(cleanName, "/")
	f, err := fsys.root.Open(cleanName)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if rel != "" && fsys.policy.Blocked(rel, info.IsDir()) {
		_ = f.Close()
		return nil, fs.ErrNotExist
	}
	return f, nil
}

type staticHandler struct {
	fsys staticFileSystem
}

func newStaticHandler(root string, policy staticAccessPolicy) *staticHandler {
	root = strings.TrimSpace(root)
	if root == "" {
		root = "."
	}
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	return &staticHandler{fsys: staticFileSystem{root: http.Dir(root), policy: policy}}
}

func (s *Server) authenticatedStatic() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := s.gate.Authenticate(r); err != nil {
			redirectToLogin(w, r, r.URL.Path)
			return
		}
		s.static.ServeHTTP(w, r)
	})
}

func (h *staticHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	setNoCacheHeaders(w)
	if h.serveResolvedPath(w, r, staticCleanPath(r.URL.Path)) {
		return
	}
	writeNotFoundPage(w, r)
}

// serveResolvedPath serves a file, or a directory's index.html with or
// without a trailing slash. Directory listings are never produced.
func (h *staticHandler) serveResolvedPath(w http.ResponseWriter, r *http.Request, cleanPath string) bool {
	file, info, ok := h.open(cleanPath)
	if !ok {
		return false
	}
	if !info.IsDir() {
		defer func() { _ = file.Close() }()
		http.ServeContent(w, r, info.Name(), info.ModTime(), file)
		return true
	}
	_ = file.Close()

	indexPath := path.Join(cleanPath, "index.html")
	index, indexInfo, ok := h.open(indexPath)
	if !ok {
		return false
	}
	defer func() { _ = index.Close() }()
	if indexInfo.IsDir() {
		return false
	}
	http.ServeContent(w, r, indexPath, indexInfo.ModTime(), index)
	return true
}

func (h *staticHandler) open(name string) (http.File, os.FileInfo, bool) {
	file, err := h.fsys.Open(name)
	if err != nil {
		return nil, nil, false
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, nil, false
	}
	return file, info, true
}

func setNoCacheHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
}

func staticCleanPath(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	if name == "" {
		return "/"
	}
	clean := path.Clean("/" + strings.TrimPrefix(name, "/"))
	if clean == "." {
		return "/"
	}
	return clean
}

func normalizeStaticRelPath(name string) string {
	clean := staticCleanPath(name)
	if clean == "/" {
		return ""
	}
	return strings.TrimPrefix(clean, "/")
}

func writeNotFoundPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write([]byte(notFoundPage))
}

const notFoundPage = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>404 - Page Not Found</title>
  <style>
    body {
      margin: 0;
      min-height: 100vh;
      display: grid;
      place-items: center;
      font-family: "Avenir Next", "Segoe UI", sans-serif;
      background: linear-gradient(145deg, #f3efe7, #e7efe7);
      color: #17231c;
      text-align: center;
      padding: 24px;
    }
    .code { font-size: clamp(4rem, 14vw, 8rem); font-weight: 800; margin: 0; color: #1f7a5a; }
    h1 { margin: 0 0 12px; }
    p { color: #5e6f64; max-width: 32rem; margin: 0 auto 24px; line-height: 1.6; }
    a {
      display: inline-block;
      padding: 12px 20px;
      border-radius: 999px;
      background: #1f7a5a;
      color: #f7fcf9;
      text-decoration: none;
      font-weight: 700;
    }
  </style>
</head>
<body>
  <main>
    <p class="code">404</p>
    <h1>Page Not Found</h1>
    <p>This page is playing hide and seek, and it is winning. It may have moved, or it never existed.</p>
    <a href="/">Take Me Home</a>
  </main>
</body>
</html>
`
