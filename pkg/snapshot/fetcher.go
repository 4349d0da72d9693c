package snapshot

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	fetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "codeprobe",
		Subsystem: "snapshot",
		Name:      "fetch_duration_seconds",
		Help:      "Duration of repository snapshot download and extraction",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"outcome"})

	fetchBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "codeprobe",
		Subsystem: "snapshot",
		Name:      "downloaded_bytes_total",
		Help:      "Bytes of repository archives downloaded",
	})
)

var (
	// ErrInvalidCommit indicates the reference is not a resolved commit SHA.
	ErrInvalidCommit = errors.New("pinned commit must be a hexadecimal sha")
	// ErrDownload indicates the archive could not be downloaded.
	ErrDownload = errors.New("snapshot download failed")
	// ErrExtract indicates the archive is corrupt or unsafe.
	ErrExtract = errors.New("snapshot extract failed")
)

var commitPattern = regexp.MustCompile(`^[0-9a-fA-F]{7,40}$`)

const defaultMaxArchiveBytes int64 = 100 * 1024 * 1024

const defaultMaxExtractedBytes int64 = 512 * 1024 * 1024

// Fetcher downloads repository snapshots at a pinned commit.
type Fetcher interface {
	Fetch(ctx context.Context, owner, repo, commitSHA string, submissionID uint) (*Snapshot, error)
}

// Snapshot is an extracted repository tree. Callers must call Cleanup on every path.
type Snapshot struct {
	RootPath  string
	CommitSHA string

	workDir string
}

// Cleanup removes the archive and extracted tree. It is safe to call more than once.
func (s *Snapshot) Cleanup() error {
	if s == nil || s.workDir == "" {
		return nil
	}
	dir := s.workDir
	s.workDir = ""
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove snapshot workspace: %w", err)
	}
	return nil
}

// Config configures the GitHub archive fetcher.
type Config struct {
	APIURL          string
	Token           string
	WorkspaceRoot   string
	MaxArchiveBytes int64
	// MaxExtractedBytes caps the total size of regular files written while unpacking.
	MaxExtractedBytes int64
	HTTPClient        *http.Client
	Logger            zerolog.Logger
}

// GitHubFetcher downloads tarballs from the GitHub REST API.
type GitHubFetcher struct {
	cfg    Config
	client *http.Client
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewGitHubFetcher builds a fetcher using the provided configuration.
func NewGitHubFetcher(cfg Config) *GitHubFetcher {
	if cfg.APIURL == "" {
		cfg.APIURL = "https://api.github.com"
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	if cfg.WorkspaceRoot == "" {
		cfg.WorkspaceRoot = os.TempDir()
	}
	if cfg.MaxArchiveBytes <= 0 {
		cfg.MaxArchiveBytes = defaultMaxArchiveBytes
	}
	if cfg.MaxExtractedBytes <= 0 {
		cfg.MaxExtractedBytes = defaultMaxExtractedBytes
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}

	return &GitHubFetcher{
		cfg:    cfg,
		client: client,
		tracer: otel.Tracer("github.com/noah-isme/codeprobe-api/pkg/snapshot"),
		logger: cfg.Logger.With().Str("component", "snapshot_fetcher").Logger(),
	}
}

// Fetch downloads owner/repo at commitSHA and extracts it into a submission scoped directory.
func (f *GitHubFetcher) Fetch(parent context.Context, owner, repo, commitSHA string, submissionID uint) (*Snapshot, error) {
	owner = strings.TrimSpace(owner)
	repo = strings.TrimSpace(repo)
	commitSHA = strings.TrimSpace(commitSHA)
	if !commitPattern.MatchString(commitSHA) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCommit, commitSHA)
	}
	if owner == "" || repo == "" {
		return nil, fmt.Errorf("%w: owner and repo are required", ErrDownload)
	}

	ctx, span := f.tracer.Start(parent, "snapshot.fetch", trace.WithAttributes(
		attribute.String("github.owner", owner),
		attribute.String("github.repo", repo),
		attribute.String("github.commit", commitSHA),
	))
	defer span.End()

	start := time.Now()
	snap, err := f.fetch(ctx, owner, repo, commitSHA, submissionID)
	outcome := "success"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	fetchDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	return snap, err
}

func (f *GitHubFetcher) fetch(ctx context.Context, owner, repo, commitSHA string, submissionID uint) (*Snapshot, error) {
	workDir, err := os.MkdirTemp(f.cfg.WorkspaceRoot, fmt.Sprintf("repo-%d-", submissionID))
	if err != nil {
		return nil, fmt.Errorf("create snapshot workspace: %w", err)
	}
	snap := &Snapshot{CommitSHA: commitSHA, workDir: workDir}

	archivePath := filepath.Join(workDir, "archive.tar.gz")
	if err := f.download(ctx, owner, repo, commitSHA, archivePath); err != nil {
		_ = snap.Cleanup()
		return nil, err
	}

	extractDir := filepath.Join(workDir, "src")
	root, err := extractTarGz(archivePath, extractDir, f.cfg.MaxExtractedBytes)
	if err != nil {
		_ = snap.Cleanup()
		return nil, err
	}
	if err := os.Remove(archivePath); err != nil {
		f.logger.Warn().Err(err).Msg("failed to remove snapshot archive")
	}

	snap.RootPath = root
	f.logger.Debug().
		Str("owner", owner).
		Str("repo", repo).
		Str("commit", commitSHA).
		Uint("submission_id", submissionID).
		Msg("snapshot extracted")
	return snap, nil
}

func (f *GitHubFetcher) download(ctx context.Context, owner, repo, commitSHA, dest string) error {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/tarball/%s", f.cfg.APIURL, url.PathEscape(owner), url.PathEscape(repo), commitSHA)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDownload, err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if f.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+f.cfg.Token)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDownload, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: github responded %s for %s/%s@%s", ErrDownload, resp.Status, owner, repo, commitSHA)
	}

	file, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create archive file: %w", err)
	}
	defer file.Close()

	written, err := io.Copy(file, io.LimitReader(resp.Body, f.cfg.MaxArchiveBytes+1))
	fetchBytes.Add(float64(written))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDownload, err)
	}
	if written > f.cfg.MaxArchiveBytes {
		return fmt.Errorf("%w: archive exceeds %d bytes", ErrDownload, f.cfg.MaxArchiveBytes)
	}
	return nil
}

// extractTarGz unpacks archivePath into dest and returns the repository root.
// GitHub tarballs wrap everything in a single "<owner>-<repo>-<sha>/" directory.
// Regular file contents may not exceed maxBytes in total.
func extractTarGz(archivePath, dest string, maxBytes int64) (string, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtract, err)
	}
	defer file.Close()

	gz, err := gzip.NewReader(file)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtract, err)
	}
	defer gz.Close()

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", fmt.Errorf("create extract dir: %w", err)
	}

	cleanDest := filepath.Clean(dest) + string(os.PathSeparator)
	tops := map[string]struct{}{}
	remaining := maxBytes
	reader := tar.NewReader(gz)
	for {
		header, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrExtract, err)
		}

		name := strings.TrimPrefix(filepath.ToSlash(header.Name), "./")
		if name == "" || header.Typeflag == tar.TypeXGlobalHeader {
			continue
		}
		target := filepath.Join(dest, filepath.FromSlash(name))
		if !strings.HasPrefix(target+string(os.PathSeparator), cleanDest) {
			return "", fmt.Errorf("%w: entry %q escapes archive root", ErrExtract, header.Name)
		}
		tops[strings.SplitN(name, "/", 2)[0]] = struct{}{}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return "", fmt.Errorf("%w: %v", ErrExtract, err)
			}
		case tar.TypeReg:
			if header.Size > remaining {
				return "", fmt.Errorf("%w: extracted content exceeds %d bytes", ErrExtract, maxBytes)
			}
			written, err := writeEntry(target, reader, remaining)
			if err != nil {
				return "", err
			}
			remaining -= written
		default:
			// symlinks and devices never reach the chunker
		}
	}

	if len(tops) == 1 {
		for top := range tops {
			root := filepath.Join(dest, top)
			if info, err := os.Stat(root); err == nil && info.IsDir() {
				return root, nil
			}
		}
	}
	return dest, nil
}

// writeEntry copies at most budget bytes; a longer entry fails the extraction.
func writeEntry(target string, src io.Reader, budget int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrExtract, err)
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrExtract, err)
	}
	written, err := io.CopyN(out, src, budget+1)
	if err != nil && !errors.Is(err, io.EOF) {
		_ = out.Close()
		return written, fmt.Errorf("%w: %v", ErrExtract, err)
	}
	if written > budget {
		_ = out.Close()
		return written, fmt.Errorf("%w: extracted content exceeds budget", ErrExtract)
	}
	return written, out.Close()
}
