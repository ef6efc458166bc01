// Package retrieval is the keyword-overlap index over a workspace of
// markdown files (spec.md §4.7): it supplies the "Relevant knowledge:"
// context spliced into completion prompts.
package retrieval

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/lokutor-ai/realtime-copilot/internal/config"
)

// Chunk is one window of a file's text plus its own top keywords.
type Chunk struct {
	Text     string          `json:"text"`
	Keywords map[string]bool `json:"-"`
}

// chunkJSON is Chunk's wire shape: keyword sets serialize as arrays (§6.7).
type chunkJSON struct {
	Text     string   `json:"text"`
	Keywords []string `json:"keywords"`
}

// FileIndex is one markdown file's index entry.
type FileIndex struct {
	Filename string
	Title    string
	Keywords map[string]bool
	Chunks   []Chunk
}

type fileIndexJSON struct {
	Filename string      `json:"filename"`
	Title    string      `json:"title"`
	Keywords []string    `json:"keywords"`
	Chunks   []chunkJSON `json:"chunks"`
}

// workspaceTuning is the optional `.index.yaml` enrichment: per-workspace
// overrides for chunk sizing, plus extra stop words, read if present.
// Spec.md is silent on per-workspace tuning; this is additive and defaults
// to the fixed constants in internal/config when absent. Extra stop words
// are merged into the package-wide stop-word set, so once one workspace's
// file has been loaded they apply to every workspace in the process.
type workspaceTuning struct {
	ChunkMaxChars   int      `yaml:"chunk_max_chars"`
	ChunkOverlap    int      `yaml:"chunk_overlap"`
	ExtraStopWords  []string `yaml:"extra_stop_words"`
}

var titlePattern = regexp.MustCompile(`(?m)^#\s+(.+)$`)

// Index manages per-workspace FileIndex caches: build on first query,
// persist to `<workspace>/.index.json`, and never auto-invalidate on file
// changes (spec.md §9 open question — accepted limitation, explicit
// re-index only).
type Index struct {
	root string

	mu    sync.Mutex
	cache map[string][]FileIndex
}

// New builds an Index rooted at workspacesRoot (nominally "./workspaces").
func New(workspacesRoot string) *Index {
	return &Index{
		root:  workspacesRoot,
		cache: make(map[string][]FileIndex),
	}
}

// Retrieve queries workspace with query text, returning a rendered context
// string (possibly empty) truncated to a MAX_CONTEXT_TOKENS*4 character
// budget (spec.md §4.7).
func (idx *Index) Retrieve(workspace, query string) string {
	indices := idx.get(workspace)
	if len(indices) == 0 {
		return ""
	}

	queryKeywords := keywordSet(extractKeywords(query, config.RetrievalQueryTopKeywords))
	if len(queryKeywords) == 0 {
		return ""
	}

	type scored struct {
		text     string
		filename string
		score    int
	}
	var candidates []scored
	for _, fi := range indices {
		for _, c := range fi.Chunks {
			score := overlapScore(queryKeywords, c.Keywords)
			if score > 0 {
				candidates = append(candidates, scored{text: c.Text, filename: fi.Filename, score: score})
			}
		}
	}
	if len(candidates) == 0 {
		return ""
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > config.RetrievalTopK {
		candidates = candidates[:config.RetrievalTopK]
	}

	maxChars := config.MaxContextTokens * 4
	var parts []string
	total := 0
	for _, c := range candidates {
		text := c.text
		if total+len(text) > maxChars {
			remaining := maxChars - total
			if remaining > 100 {
				text = text[:remaining] + "..."
			} else {
				break
			}
		}
		parts = append(parts, fmt.Sprintf("[From %s]\n%s", c.filename, text))
		total += len(text)
	}
	return strings.Join(parts, "\n\n")
}

// get returns the cached index for workspace, loading from disk or
// rebuilding from the markdown files if no cache entry exists yet.
func (idx *Index) get(workspace string) []FileIndex {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if cached, ok := idx.cache[workspace]; ok {
		return cached
	}

	if loaded, ok := idx.loadFromDisk(workspace); ok {
		idx.cache[workspace] = loaded
		return loaded
	}

	built := idx.build(workspace)
	idx.cache[workspace] = built
	idx.saveToDisk(workspace, built)
	return built
}

// Reindex forces a rebuild of workspace's index from its markdown files and
// persists the result, discarding any cached or on-disk copy. This is the
// only re-indexing path (spec.md §9): no filesystem watch exists.
func (idx *Index) Reindex(workspace string) []FileIndex {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	built := idx.build(workspace)
	idx.cache[workspace] = built
	idx.saveToDisk(workspace, built)
	return built
}

func (idx *Index) workspaceDir(workspace string) string {
	return filepath.Join(idx.root, workspace)
}

func (idx *Index) build(workspace string) []FileIndex {
	dir := idx.workspaceDir(workspace)
	tuning := loadTuning(dir)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var indices []FileIndex
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		indices = append(indices, indexFile(entry.Name(), string(content), tuning))
	}
	return indices
}

func indexFile(filename, content string, tuning workspaceTuning) FileIndex {
	title := strings.TrimSuffix(filename, filepath.Ext(filename))
	if m := titlePattern.FindStringSubmatch(content); m != nil {
		title = strings.TrimSpace(m[1])
	}

	keywords := keywordSet(extractKeywords(content, config.RetrievalFileTopKeywords))

	maxChars := config.RetrievalChunkMaxChars
	overlap := config.RetrievalChunkOverlap
	if tuning.ChunkMaxChars > 0 {
		maxChars = tuning.ChunkMaxChars
	}
	if tuning.ChunkOverlap > 0 {
		overlap = tuning.ChunkOverlap
	}

	var chunks []Chunk
	for _, text := range chunkText(content, maxChars, overlap) {
		chunks = append(chunks, Chunk{
			Text:     text,
			Keywords: keywordSet(extractKeywords(text, config.RetrievalChunkTopKeywords)),
		})
	}

	return FileIndex{Filename: filename, Title: title, Keywords: keywords, Chunks: chunks}
}

// chunkText splits text into <=maxChars windows with overlap chars of
// overlap, preferring a sentence terminator in the window's second half.
// Terminators are tried in priority order (".", "!", "?", "\n\n"): the
// first type with any occurrence wins the break point, even if a
// lower-priority type occurs further right in the window (spec.md §4.7 /
// §3 FileIndex invariant).
func chunkText(text string, maxChars, overlap int) []string {
	if len(text) <= maxChars {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + maxChars
		if end > len(text) {
			end = len(text)
		}

		if end < len(text) {
			// Terminators are tried in priority order, not by rightmost
			// position: the first type with any occurrence in the window
			// wins, even if a lower-priority type occurs further right.
			searchStart := start + maxChars/2
			for _, term := range []string{".", "!", "?", "\n\n"} {
				idx := strings.LastIndex(text[searchStart:end], term)
				if idx < 0 {
					continue
				}
				pos := searchStart + idx + len(term)
				if pos > start {
					end = pos
				}
				break
			}
		}

		chunks = append(chunks, strings.TrimSpace(text[start:end]))
		if end >= len(text) {
			break
		}
		start = end - overlap
		if start < 0 {
			start = 0
		}
	}
	return chunks
}

func loadTuning(dir string) workspaceTuning {
	data, err := os.ReadFile(filepath.Join(dir, ".index.yaml"))
	if err != nil {
		return workspaceTuning{}
	}
	var t workspaceTuning
	if err := yaml.Unmarshal(data, &t); err != nil {
		return workspaceTuning{}
	}
	for _, w := range t.ExtraStopWords {
		stopWords[strings.ToLower(w)] = true
	}
	return t
}

func (idx *Index) loadFromDisk(workspace string) ([]FileIndex, bool) {
	path := filepath.Join(idx.workspaceDir(workspace), ".index.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}

	var raw []fileIndexJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, false
	}

	indices := make([]FileIndex, 0, len(raw))
	for _, r := range raw {
		chunks := make([]Chunk, 0, len(r.Chunks))
		for _, c := range r.Chunks {
			chunks = append(chunks, Chunk{Text: c.Text, Keywords: keywordSet(c.Keywords)})
		}
		keys := make([]string, 0, len(r.Keywords))
		keys = append(keys, r.Keywords...)
		indices = append(indices, FileIndex{
			Filename: r.Filename,
			Title:    r.Title,
			Keywords: keywordSet(keys),
			Chunks:   chunks,
		})
	}
	return indices, true
}

func (idx *Index) saveToDisk(workspace string, indices []FileIndex) {
	if len(indices) == 0 {
		return
	}
	raw := make([]fileIndexJSON, 0, len(indices))
	for _, fi := range indices {
		chunks := make([]chunkJSON, 0, len(fi.Chunks))
		for _, c := range fi.Chunks {
			chunks = append(chunks, chunkJSON{Text: c.Text, Keywords: setToSlice(c.Keywords)})
		}
		raw = append(raw, fileIndexJSON{
			Filename: fi.Filename,
			Title:    fi.Title,
			Keywords: setToSlice(fi.Keywords),
			Chunks:   chunks,
		})
	}

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(filepath.Join(idx.workspaceDir(workspace), ".index.json"), data, 0o644)
}

func setToSlice(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
