// Package photos serves read-only Google Photos library data through the
// response cache.
package photos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/Sorbh/digital-photo-frame/internal/adapter"
	"github.com/Sorbh/digital-photo-frame/internal/auth"
	"github.com/Sorbh/digital-photo-frame/internal/cache"
	"github.com/Sorbh/digital-photo-frame/internal/model"
)

const (
	DefaultPageSize     = 50
	MaxPageSize         = 100
	DefaultMediaItemTTL = 30 * time.Minute
	DefaultRateLimit    = 10
	DefaultRateBurst    = 5

	// defaultBackoff applies after a 429 without a Retry-After hint.
	defaultBackoff = 60 * time.Second
)

// Cache key resource types.
const (
	resourceAlbums        = "albums"
	resourceAlbumPhotos   = "album-photos"
	resourceLibraryPhotos = "library-photos"
	resourceMediaItem     = "media-item"
)

// Options configures a Gateway. Zero values take the defaults; a negative
// RateLimit disables pacing.
type Options struct {
	MediaItemTTL time.Duration
	RateLimit    float64
	RateBurst    int
	Now          func() time.Time
	Logger       *slog.Logger
}

// Gateway reads albums and media items, caching each response per user and
// exact parameters. It never retries.
type Gateway struct {
	api          adapter.LibraryAPI
	cache        *cache.Cache
	mediaItemTTL time.Duration
	limiter      *rate.Limiter
	group        singleflight.Group
	now          func() time.Time
	logger       *slog.Logger

	mu      sync.Mutex
	retryAt time.Time
}

// NewGateway creates a Gateway.
func NewGateway(api adapter.LibraryAPI, c *cache.Cache, opts Options) *Gateway {
	if opts.MediaItemTTL <= 0 {
		opts.MediaItemTTL = DefaultMediaItemTTL
	}
	if opts.RateLimit == 0 {
		opts.RateLimit = DefaultRateLimit
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = DefaultRateBurst
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	limit := rate.Limit(opts.RateLimit)
	if opts.RateLimit < 0 {
		limit = rate.Inf
	}
	return &Gateway{
		api:          api,
		cache:        c,
		mediaItemTTL: opts.MediaItemTTL,
		limiter:      rate.NewLimiter(limit, opts.RateBurst),
		now:          opts.Now,
		logger:       opts.Logger,
	}
}

// ClampPageSize corrects n into [1, MaxPageSize].
func ClampPageSize(n int) int {
	return min(max(n, 1), MaxPageSize)
}

// ListAlbums returns one page of the user's albums.
func (g *Gateway) ListAlbums(ctx context.Context, creds auth.Credentials, pageSize int, pageToken string) (adapter.AlbumPage, error) {
	size := ClampPageSize(pageSize)
	key := cache.Key(resourceAlbums, creds.UserID, pageParams(size, pageToken))

	v, err := g.load(ctx, key, 0, func(ctx context.Context) (any, error) {
		return g.api.ListAlbums(ctx, creds.AccessToken, size, pageToken)
	})
	if err != nil {
		return adapter.AlbumPage{}, err
	}
	return v.(adapter.AlbumPage), nil
}

// ListLibraryPhotos returns one page of the user's library.
func (g *Gateway) ListLibraryPhotos(ctx context.Context, creds auth.Credentials, pageSize int, pageToken string) (adapter.MediaPage, error) {
	size := ClampPageSize(pageSize)
	key := cache.Key(resourceLibraryPhotos, creds.UserID, pageParams(size, pageToken))

	v, err := g.load(ctx, key, 0, func(ctx context.Context) (any, error) {
		return g.api.ListMediaItems(ctx, creds.AccessToken, size, pageToken)
	})
	if err != nil {
		return adapter.MediaPage{}, err
	}
	return v.(adapter.MediaPage), nil
}

// ListAlbumPhotos returns one page of an album's media items.
func (g *Gateway) ListAlbumPhotos(ctx context.Context, creds auth.Credentials, albumID string, pageSize int, pageToken string) (adapter.MediaPage, error) {
	size := ClampPageSize(pageSize)
	params := pageParams(size, pageToken)
	params["albumId"] = albumID
	key := cache.Key(resourceAlbumPhotos, creds.UserID, params)

	v, err := g.load(ctx, key, 0, func(ctx context.Context) (any, error) {
		return g.api.SearchAlbumMediaItems(ctx, creds.AccessToken, albumID, size, pageToken)
	})
	if err != nil {
		return adapter.MediaPage{}, err
	}
	return v.(adapter.MediaPage), nil
}

// GetMediaItem returns a single media item. Items are cached longer than pages.
func (g *Gateway) GetMediaItem(ctx context.Context, creds auth.Credentials, mediaItemID string) (*model.MediaItem, error) {
	key := cache.Key(resourceMediaItem, creds.UserID, map[string]string{"id": mediaItemID})

	v, err := g.load(ctx, key, g.mediaItemTTL, func(ctx context.Context) (any, error) {
		item, err := g.api.GetMediaItem(ctx, creds.AccessToken, mediaItemID)
		if err != nil {
			return nil, err
		}
		return *item, nil
	})
	if err != nil {
		return nil, err
	}
	item := v.(model.MediaItem)
	return &item, nil
}

// load serves key from the cache or runs fetch once for all concurrent
// callers of the same key.
func (g *Gateway) load(ctx context.Context, key string, ttl time.Duration, fetch func(context.Context) (any, error)) (any, error) {
	if v, ok := g.cache.Get(key); ok {
		return v, nil
	}
	v, err, _ := g.group.Do(key, func() (any, error) {
		if v, ok := g.cache.Get(key); ok {
			return v, nil
		}
		gen := g.cache.Generation(key)
		if err := g.wait(ctx); err != nil {
			return nil, err
		}
		v, err := fetch(ctx)
		if err != nil {
			g.recordFailure(err)
			return nil, err
		}
		if !g.cache.SetIfGeneration(key, v, ttl, gen) {
			g.logger.Debug("user invalidated during fetch, not caching", "key", key)
		}
		return v, nil
	})
	return v, err
}

// wait paces upstream calls and fails fast inside a 429 backoff window.
func (g *Gateway) wait(ctx context.Context) error {
	g.mu.Lock()
	retryAt := g.retryAt
	g.mu.Unlock()

	if now := g.now(); now.Before(retryAt) {
		return &adapter.UpstreamError{
			Status:     http.StatusTooManyRequests,
			Endpoint:   "library",
			Message:    "backing off after upstream quota error",
			RetryAfter: retryAt.Sub(now),
		}
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

func (g *Gateway) recordFailure(err error) {
	if adapter.StatusOf(err) != http.StatusTooManyRequests {
		return
	}
	backoff := defaultBackoff
	var uerr *adapter.UpstreamError
	if errors.As(err, &uerr) && uerr.RetryAfter > 0 {
		backoff = uerr.RetryAfter
	}
	g.mu.Lock()
	g.retryAt = g.now().Add(backoff)
	g.mu.Unlock()
	g.logger.Warn("google photos quota exceeded, backing off", "backoff", backoff)
}

func pageParams(size int, pageToken string) map[string]string {
	return map[string]string{
		"pageSize":  strconv.Itoa(size),
		"pageToken": pageToken,
	}
}

// DownloadURL appends Google Photos size parameters to a base URL. The "d"
// flag requests the original bytes.
func DownloadURL(baseURL string, width, height int) string {
	if baseURL == "" {
		return ""
	}
	var params []string
	switch {
	case width > 0 && height > 0:
		params = append(params, fmt.Sprintf("w%d-h%d", width, height))
	case width > 0:
		params = append(params, fmt.Sprintf("w%d", width))
	case height > 0:
		params = append(params, fmt.Sprintf("h%d", height))
	}
	params = append(params, "d")
	return baseURL + "=" + strings.Join(params, "-")
}

// ThumbnailURL returns a square thumbnail URL, 200px when size is not positive.
func ThumbnailURL(baseURL string, size int) string {
	if size <= 0 {
		size = 200
	}
	return DownloadURL(baseURL, size, size)
}
