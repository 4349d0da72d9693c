package chunker

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
)

const (
	DefaultWindowLines  = 200
	DefaultOverlapLines = 40
	DefaultMaxFileBytes = 200 * 1024
)

// ErrInvalidWindow is returned when the overlap does not leave room for progress.
var ErrInvalidWindow = errors.New("chunk overlap must be smaller than the window")

// Chunk is a line range of a single source file. Lines are 1-indexed and inclusive.
type Chunk struct {
	Path      string
	StartLine int
	EndLine   int
	Content   string
}

// SkippedFile records an eligible file that was not chunked.
type SkippedFile struct {
	Path   string
	Reason string
}

// Result is the outcome of chunking a repository tree.
type Result struct {
	Chunks       []Chunk
	FileCount    int
	FilesSkipped int
	Skipped      []SkippedFile
	TotalChars   int64
}

// Options controls window sizing and the per-file ceiling.
type Options struct {
	WindowLines  int
	OverlapLines int
	MaxFileBytes int64
	Logger       zerolog.Logger
}

// Chunker splits a repository tree into overlapping line windows.
type Chunker struct {
	window   int
	overlap  int
	maxBytes int64
	logger   zerolog.Logger
}

var ignoredDirs = map[string]struct{}{
	".git": {}, "node_modules": {}, "vendor": {}, "dist": {}, "build": {}, "target": {},
	"out": {}, ".next": {}, ".nuxt": {}, "coverage": {}, "__pycache__": {}, ".venv": {},
	"venv": {}, ".idea": {}, ".vscode": {}, "bin": {}, "obj": {},
}

var ignoredFiles = map[string]struct{}{
	"package-lock.json": {}, "yarn.lock": {}, "pnpm-lock.yaml": {}, "go.sum": {},
	"Cargo.lock": {}, "poetry.lock": {}, "Pipfile.lock": {}, "composer.lock": {}, "Gemfile.lock": {},
}

var allowedExtensions = map[string]struct{}{
	".go": {}, ".py": {}, ".js": {}, ".jsx": {}, ".ts": {}, ".tsx": {}, ".mjs": {}, ".cjs": {},
	".java": {}, ".kt": {}, ".kts": {}, ".scala": {}, ".rb": {}, ".php": {}, ".rs": {}, ".c": {},
	".h": {}, ".cc": {}, ".cpp": {}, ".hpp": {}, ".cs": {}, ".swift": {}, ".m": {}, ".dart": {},
	".ex": {}, ".exs": {}, ".erl": {}, ".clj": {}, ".hs": {}, ".lua": {}, ".r": {}, ".sql": {},
	".sh": {}, ".bash": {}, ".ps1": {}, ".vue": {}, ".svelte": {}, ".html": {}, ".css": {},
	".scss": {}, ".less": {}, ".json": {}, ".yaml": {}, ".yml": {}, ".toml": {}, ".ini": {},
	".xml": {}, ".gradle": {}, ".proto": {}, ".graphql": {}, ".tf": {}, ".md": {}, ".txt": {},
}

var allowedNames = map[string]struct{}{
	"Dockerfile": {}, "Makefile": {}, "Procfile": {}, "Rakefile": {}, "Gemfile": {}, "Jenkinsfile": {},
}

// New validates the options and builds a chunker.
func New(opts Options) (*Chunker, error) {
	if opts.WindowLines <= 0 {
		opts.WindowLines = DefaultWindowLines
	}
	if opts.OverlapLines < 0 {
		opts.OverlapLines = 0
	}
	if opts.OverlapLines >= opts.WindowLines {
		return nil, fmt.Errorf("%w: window=%d overlap=%d", ErrInvalidWindow, opts.WindowLines, opts.OverlapLines)
	}
	if opts.MaxFileBytes <= 0 {
		opts.MaxFileBytes = DefaultMaxFileBytes
	}

	return &Chunker{
		window:   opts.WindowLines,
		overlap:  opts.OverlapLines,
		maxBytes: opts.MaxFileBytes,
		logger:   opts.Logger.With().Str("component", "chunker").Logger(),
	}, nil
}

// Chunk walks root in lexical order and returns every window of every eligible file.
func (c *Chunker) Chunk(root string) (Result, error) {
	var result Result

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if d.IsDir() {
			if _, skip := ignoredDirs[d.Name()]; skip && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !eligible(d.Name()) {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		info, err := d.Info()
		if err != nil {
			result.skip(rel, "unreadable")
			return nil
		}
		if info.Size() == 0 {
			result.skip(rel, "empty")
			return nil
		}
		if info.Size() > c.maxBytes {
			result.skip(rel, "too_large")
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			result.skip(rel, "unreadable")
			return nil
		}
		if !isText(data) {
			result.skip(rel, "binary")
			return nil
		}

		chunks := c.Split(rel, string(data))
		if len(chunks) == 0 {
			result.skip(rel, "empty")
			return nil
		}
		result.Chunks = append(result.Chunks, chunks...)
		result.FileCount++
		result.TotalChars += int64(utf8.RuneCount(data))
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("walk repository: %w", err)
	}

	c.logger.Debug().
		Int("files", result.FileCount).
		Int("chunks", len(result.Chunks)).
		Int("skipped", result.FilesSkipped).
		Msg("repository chunked")
	return result, nil
}

// Split cuts content into windows of c.window lines that advance by window-overlap.
// The final window always ends at the last line of the file.
func (c *Chunker) Split(path, content string) []Chunk {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	lines := strings.Split(content, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) == 0 || strings.TrimSpace(content) == "" {
		return nil
	}

	step := c.window - c.overlap
	var chunks []Chunk
	for start := 0; start < len(lines); start += step {
		end := start + c.window
		if end > len(lines) {
			end = len(lines)
		}
		chunks = append(chunks, Chunk{
			Path:      path,
			StartLine: start + 1,
			EndLine:   end,
			Content:   strings.Join(lines[start:end], "\n"),
		})
		if end == len(lines) {
			break
		}
	}
	return chunks
}

func (r *Result) skip(path, reason string) {
	r.FilesSkipped++
	r.Skipped = append(r.Skipped, SkippedFile{Path: path, Reason: reason})
}

func eligible(name string) bool {
	if _, ignored := ignoredFiles[name]; ignored {
		return false
	}
	lower := strings.ToLower(name)
	if strings.HasSuffix(lower, ".min.js") || strings.HasSuffix(lower, ".min.css") || strings.HasSuffix(lower, ".map") {
		return false
	}
	if _, ok := allowedNames[name]; ok {
		return true
	}
	if strings.HasSuffix(lower, ".env.example") {
		return true
	}
	_, ok := allowedExtensions[filepath.Ext(lower)]
	return ok
}

// isText reports whether the sniffed mime type descends from text/plain.
func isText(data []byte) bool {
	for mt := mimetype.Detect(data); mt != nil; mt = mt.Parent() {
		if mt.Is("text/plain") {
			return true
		}
	}
	return false
}
