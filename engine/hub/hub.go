package hub

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gofrs/flock"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tencdm/tencdm/pkg/config"
	"github.com/tencdm/tencdm/pkg/logger"
)

const (
	DefaultEndpoint  = "https://huggingface.co"
	DefaultRevision  = "main"
	CacheDirEnvVar   = "TENCDM_HUB_CACHE"
	TokenEnvVar      = "HF_TOKEN"
	defaultCacheSize = 32
	lockRetryDelay   = 50 * time.Millisecond
	tracerName       = "tencdm.hub"
)

var (
	// ErrNotFound is returned when a file is neither cached nor available remotely.
	ErrNotFound = errors.New("hub file not found")
	// ErrNoInferenceBackend is returned by Forward: this module reads weights
	// but does not execute transformer graphs.
	ErrNoInferenceBackend = errors.New("no inference backend available for transformer forward pass")
)

// Hub resolves model files from a local cache, downloading missing ones.
type Hub struct {
	fs       afero.Fs
	cacheDir string
	lockDir  string
	endpoint string
	revision string
	token    string
	timeout  time.Duration
	client   *resty.Client
	configs  *lru.Cache[string, config.PretrainedConfig]
	tracer   trace.Tracer
}

// Option configures a Hub.
type Option func(*Hub)

// WithFs sets the cache filesystem. Locks are only taken on the OS filesystem
// unless WithLockDir is given.
func WithFs(fs afero.Fs) Option {
	return func(h *Hub) { h.fs = fs }
}

// WithCacheDir sets the cache root.
func WithCacheDir(dir string) Option {
	return func(h *Hub) { h.cacheDir = dir }
}

// WithLockDir sets where download lock files are created.
func WithLockDir(dir string) Option {
	return func(h *Hub) { h.lockDir = dir }
}

// WithEndpoint sets the remote base URL. An empty endpoint disables downloads.
func WithEndpoint(endpoint string) Option {
	return func(h *Hub) { h.endpoint = strings.TrimRight(endpoint, "/") }
}

// WithRevision selects the branch, tag or commit files are resolved at.
func WithRevision(rev string) Option {
	return func(h *Hub) {
		if rev != "" {
			h.revision = rev
		}
	}
}

// WithToken sets the bearer token sent with downloads.
func WithToken(token string) Option {
	return func(h *Hub) { h.token = token }
}

// WithTimeout bounds each download request.
func WithTimeout(d time.Duration) Option {
	return func(h *Hub) { h.timeout = d }
}

// WithTracer sets the tracer fetch spans are recorded on.
func WithTracer(tracer trace.Tracer) Option {
	return func(h *Hub) { h.tracer = tracer }
}

// New creates a hub. The cache root defaults to TENCDM_HUB_CACHE, then the user cache directory.
func New(opts ...Option) (*Hub, error) {
	h := &Hub{
		endpoint: DefaultEndpoint,
		revision: DefaultRevision,
		timeout:  5 * time.Minute,
		token:    os.Getenv(TokenEnvVar),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.fs == nil {
		h.fs = afero.NewOsFs()
	}
	if h.tracer == nil {
		h.tracer = otel.Tracer(tracerName)
	}
	if h.cacheDir == "" {
		h.cacheDir = os.Getenv(CacheDirEnvVar)
	}
	if h.cacheDir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve cache directory: %w", err)
		}
		h.cacheDir = filepath.Join(base, "tencdm", "hub")
	}
	if _, ok := h.fs.(*afero.OsFs); ok && h.lockDir == "" {
		h.lockDir = h.cacheDir
	}
	configs, err := lru.New[string, config.PretrainedConfig](defaultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create config cache: %w", err)
	}
	h.configs = configs
	h.client = buildHTTPClient(h.endpoint, h.token, h.timeout)
	return h, nil
}

func buildHTTPClient(endpoint, token string, timeout time.Duration) *resty.Client {
	client := resty.New().
		SetBaseURL(endpoint).
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second)
	if token != "" {
		client.SetAuthToken(token)
	}
	client.AddRetryCondition(retryCondition)
	return client
}

// retryCondition retries network errors, throttling and server errors.
func retryCondition(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}
	code := r.StatusCode()
	return code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}

// CacheDir returns the cache root.
func (h *Hub) CacheDir() string {
	return h.cacheDir
}

func (h *Hub) cachePath(id, file string) string {
	return filepath.Join(h.cacheDir, filepath.FromSlash(id), file)
}

// fetch returns the cached copy of file, downloading it first when missing.
// Local model directories are read in place and never downloaded.
func (h *Hub) fetch(ctx context.Context, id, file string) (data []byte, err error) {
	ctx, span := h.tracer.Start(ctx, "tencdm.hub.fetch", trace.WithAttributes(
		attribute.String("model", id),
		attribute.String("file", file),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	if config.IsLocalModelPath(id) {
		span.SetAttributes(attribute.Bool("local", true))
		return h.readLocal(id, file)
	}
	path := h.cachePath(id, file)
	if data, err := afero.ReadFile(h.fs, path); err == nil {
		span.SetAttributes(attribute.Bool("cached", true))
		return data, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read cached %s: %w", path, err)
	}
	span.SetAttributes(attribute.Bool("cached", false))
	if h.endpoint == "" {
		return nil, fmt.Errorf("%w: %s/%s (offline)", ErrNotFound, id, file)
	}
	unlock, err := h.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()
	// another process may have finished the download while we waited
	if data, err := afero.ReadFile(h.fs, path); err == nil {
		return data, nil
	}
	return h.download(ctx, id, file, path)
}

func (h *Hub) readLocal(dir, file string) ([]byte, error) {
	if rest, ok := strings.CutPrefix(dir, "~/"); ok {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		dir = filepath.Join(home, rest)
	}
	path := filepath.Join(dir, file)
	data, err := afero.ReadFile(h.fs, path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	case err != nil:
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

func (h *Hub) download(ctx context.Context, id, file, path string) ([]byte, error) {
	log := logger.FromContext(ctx)
	url := fmt.Sprintf("/%s/resolve/%s/%s", id, h.revision, file)
	resp, err := h.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s/%s: %w", id, file, err)
	}
	switch code := resp.StatusCode(); {
	case code == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, id, file)
	case code >= 400:
		return nil, fmt.Errorf("failed to download %s/%s: status %d", id, file, code)
	}
	data := resp.Body()
	if err := h.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	tmp := path + ".incomplete"
	if err := afero.WriteFile(h.fs, tmp, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := h.fs.Rename(tmp, path); err != nil {
		return nil, fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	log.Debug("Downloaded hub file", "model", id, "file", file, "bytes", len(data))
	return data, nil
}

// lock serialises downloads of one model across processes.
func (h *Hub) lock(ctx context.Context, id string) (func(), error) {
	if h.lockDir == "" {
		return func() {}, nil
	}
	if err := os.MkdirAll(h.lockDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	name := strings.ReplaceAll(id, "/", "--") + ".lock"
	fl := flock.New(filepath.Join(h.lockDir, name))
	locked, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", id, err)
	}
	if !locked {
		return nil, fmt.Errorf("failed to lock %s", id)
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			logger.FromContext(ctx).Warn("failed to release hub lock", "model", id, "error", err)
		}
	}, nil
}
