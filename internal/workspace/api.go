// Package workspace is the REST file-management surface of SPEC_FULL.md
// §4.8: plain filesystem plumbing over a directory of per-workspace
// markdown files, plus the session/config/health endpoints the original
// FastAPI process exposes alongside its WebSocket route.
package workspace

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/lokutor-ai/realtime-copilot/internal/config"
	"github.com/lokutor-ai/realtime-copilot/internal/logging"
	"github.com/lokutor-ai/realtime-copilot/internal/session"
)

const version = "0.1.0"

// API mounts the workspace REST surface onto a ServeMux.
type API struct {
	root       string
	settings   *config.Settings
	supervisor *session.Supervisor
	logger     logging.Logger
}

// New creates an API rooted at workspacesRoot (e.g. "./workspaces").
func New(workspacesRoot string, settings *config.Settings, supervisor *session.Supervisor, logger logging.Logger) *API {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &API{root: workspacesRoot, settings: settings, supervisor: supervisor, logger: logger}
}

// Mount registers every route on mux.
func (a *API) Mount(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/workspaces", a.handleCreateWorkspace)
	mux.HandleFunc("GET /api/workspaces", a.handleListWorkspaces)
	mux.HandleFunc("GET /api/workspaces/{name}/stats", a.handleWorkspaceStats)
	mux.HandleFunc("POST /api/workspaces/{name}/files", a.handleUploadFile)
	mux.HandleFunc("GET /api/workspaces/{name}/files", a.handleListFiles)
	mux.HandleFunc("DELETE /api/workspaces/{name}/files/{filename}", a.handleDeleteFile)
	mux.HandleFunc("GET /api/session", a.handleSession)
	mux.HandleFunc("GET /api/config", a.handleConfig)
	mux.HandleFunc("GET /health", a.handleHealth)
}

// CORS wraps next with the permissive cross-origin headers the client
// single-page app needs (spec.md's REST surface has no auth boundary to
// protect).
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func (a *API) workspacePath(name string) string {
	return filepath.Join(a.root, filepath.Base(name))
}

type workspaceInfo struct {
	Name      string `json:"name"`
	FileCount int    `json:"file_count"`
	TotalSize int64  `json:"total_size"`
}

type fileInfo struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

func (a *API) handleCreateWorkspace(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	path := a.workspacePath(name)
	if _, err := os.Stat(path); err == nil {
		writeError(w, http.StatusBadRequest, "Workspace already exists")
		return
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, workspaceInfo{Name: name, FileCount: 0, TotalSize: 0})
}

func (a *API) handleListWorkspaces(w http.ResponseWriter, r *http.Request) {
	entries, err := os.ReadDir(a.root)
	if err != nil {
		if os.IsNotExist(err) {
			_ = os.MkdirAll(a.root, 0o755)
			writeJSON(w, http.StatusOK, []workspaceInfo{})
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	workspaces := []workspaceInfo{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		files, totalSize, err := a.markdownFiles(entry.Name())
		if err != nil {
			continue
		}
		workspaces = append(workspaces, workspaceInfo{
			Name:      entry.Name(),
			FileCount: len(files),
			TotalSize: totalSize,
		})
	}
	writeJSON(w, http.StatusOK, workspaces)
}

func (a *API) handleWorkspaceStats(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	path := a.workspacePath(name)
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, "Workspace not found")
		return
	}

	files, totalSize, err := a.markdownFiles(name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"name":       name,
		"file_count": len(files),
		"total_size": totalSize,
		"files":      files,
	})
}

func (a *API) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	path := a.workspacePath(name)
	if err := os.MkdirAll(path, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	if !strings.HasSuffix(header.Filename, ".md") {
		writeError(w, http.StatusBadRequest, "Only .md files are allowed")
		return
	}

	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	dest := filepath.Join(path, filepath.Base(header.Filename))
	if err := os.WriteFile(dest, content, 0o644); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"filename": header.Filename, "size": len(content)})
}

func (a *API) handleListFiles(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	path := a.workspacePath(name)
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, "Workspace not found")
		return
	}

	files, _, err := a.markdownFiles(name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, files)
}

func (a *API) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	filename := r.PathValue("filename")
	path := filepath.Join(a.workspacePath(name), filepath.Base(filename))

	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}
	if err := os.Remove(path); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"deleted": filename})
}

func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	cur := a.supervisor.Current()
	if cur == nil {
		writeJSON(w, http.StatusOK, map[string]any{"session": nil})
		return
	}
	writeJSON(w, http.StatusOK, cur.StatusDict())
}

func (a *API) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ollama_model":      a.settings.OllamaModel,
		"sample_rate":       config.SampleRateClient,
		"frame_duration_ms": config.FrameDurationMS,
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "version": version})
}

// markdownFiles lists *.md files directly under workspace name along with
// their total size.
func (a *API) markdownFiles(name string) ([]fileInfo, int64, error) {
	entries, err := os.ReadDir(a.workspacePath(name))
	if err != nil {
		return nil, 0, err
	}

	var files []fileInfo
	var total int64
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{Filename: entry.Name(), Size: info.Size()})
		total += info.Size()
	}
	return files, total, nil
}
