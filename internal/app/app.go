package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/Sorbh/digital-photo-frame/internal/adapter"
	"github.com/Sorbh/digital-photo-frame/internal/adapter/googlephotos"
	"github.com/Sorbh/digital-photo-frame/internal/adapter/memory"
	"github.com/Sorbh/digital-photo-frame/internal/auth"
	"github.com/Sorbh/digital-photo-frame/internal/cache"
	"github.com/Sorbh/digital-photo-frame/internal/config"
	"github.com/Sorbh/digital-photo-frame/internal/crypto"
	"github.com/Sorbh/digital-photo-frame/internal/handler"
	"github.com/Sorbh/digital-photo-frame/internal/logging"
	"github.com/Sorbh/digital-photo-frame/internal/middleware"
	"github.com/Sorbh/digital-photo-frame/internal/photos"
	"github.com/Sorbh/digital-photo-frame/internal/picker"
	"github.com/Sorbh/digital-photo-frame/internal/secret"
	"github.com/Sorbh/digital-photo-frame/internal/session"
)

// devAdminPassword is used in DEV_MODE when ADMIN_PASSWORD is unset.
const devAdminPassword = "admin"

// ErrMissingSecret is returned when a secret required at startup cannot be resolved.
var ErrMissingSecret = errors.New("required secret is not configured")

// demoTokens hands every admin session fixed credentials for the seeded
// library. It is only wired in DEV_MODE without a Google client.
type demoTokens struct{}

func (demoTokens) AccessToken(_ context.Context, sid string) (auth.Credentials, error) {
	return auth.Credentials{UserID: "demo-user-" + sid, AccessToken: "demo-token"}, nil
}

func (demoTokens) UserID(_ context.Context, sid string) (string, error) {
	return "demo-user-" + sid, nil
}

// upstream is what the picker coordinator and the gateway talk to.
type upstream interface {
	adapter.PickerAPI
	adapter.LibraryAPI
}

// App holds the server's long-lived state and routes requests to handlers.
type App struct {
	cfg    config.Config
	logger *slog.Logger

	sessions    session.Store
	memoryStore *session.MemoryStore
	redisClient *redis.Client

	cache       *cache.Cache
	coordinator *picker.Coordinator

	authHandler   *handler.AuthHandler
	photosHandler *handler.GooglePhotosHandler
	healthHandler *handler.HealthHandler
}

// NewApp resolves secrets and builds every component from cfg. Background
// sweepers are started; call Close to stop them.
func NewApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{cfg: cfg, logger: logger}

	var awsCfg aws.Config
	needsAWS := cfg.SecretBackend != config.SecretBackendEnv || cfg.SessionBackend == config.SessionBackendDynamoDB
	if needsAWS {
		var err error
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
	}

	resolver := newResolver(cfg, awsCfg)
	logger.Info("resolving secrets", "backend", cfg.SecretBackend)

	sessionSecret, err := resolver.GetSecret(ctx, cfg.SessionSecretParam)
	if err != nil || sessionSecret == "" {
		return nil, fmt.Errorf("%w: session secret: %v", ErrMissingSecret, err)
	}
	clientSecret, err := resolver.GetSecret(ctx, cfg.ClientSecretParam)
	if err != nil {
		logger.Warn("google client secret unavailable; OAuth calls will fail", "error", err)
	}
	adminPassword, err := resolver.GetSecret(ctx, cfg.AdminPasswordParam)
	if err != nil || adminPassword == "" {
		if !cfg.DevMode {
			return nil, fmt.Errorf("%w: admin password: %v", ErrMissingSecret, err)
		}
		logger.Warn("ADMIN_PASSWORD not set; using the development password")
		adminPassword = devAdminPassword
	}

	key, err := crypto.DeriveKey(sessionSecret)
	if err != nil {
		return nil, fmt.Errorf("derive token key: %w", err)
	}
	cipher, err := crypto.NewTokenCipher(key)
	if err != nil {
		return nil, fmt.Errorf("token cipher: %w", err)
	}

	if err := app.openSessions(cfg, awsCfg); err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.UpstreamTimeout}
	flow := auth.NewOAuthFlow(&oauth2.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: clientSecret,
		RedirectURL:  cfg.GoogleRedirectURI,
		Scopes:       auth.DefaultScopes,
		Endpoint:     google.Endpoint,
	}, auth.FlowOptions{
		HTTPClient: httpClient,
		RevokeURL:  cfg.RevokeURL,
	})
	tokenStore := auth.NewTokenStore(app.sessions, cipher)
	service := auth.NewService(flow, tokenStore, app.sessions)
	admin := auth.NewAdminAuth(adminPassword, sessionSecret, cfg.SessionMaxAge, app.sessions)

	var (
		api    upstream
		tokens picker.TokenProvider = service
	)
	if cfg.DevMode {
		api = memory.NewSeededPhotos()
		if cfg.GoogleClientID == "" {
			tokens = demoTokens{}
		}
		logger.Info("using seeded in-memory Google Photos (DEV_MODE=true)")
	} else {
		api = googlephotos.New(googlephotos.Options{
			HTTPClient:     httpClient,
			PickerBaseURL:  cfg.PickerBaseURL,
			LibraryBaseURL: cfg.LibraryBaseURL,
			Timeout:        cfg.UpstreamTimeout,
		})
	}

	app.cache = cache.New(cache.Options{
		TTL:           cfg.CacheTTL,
		MaxEntries:    cfg.CacheMaxEntries,
		SweepInterval: cfg.CacheSweepInterval,
		Logger:        logger,
	})
	app.cache.Start()

	app.coordinator = picker.NewCoordinator(api, tokens, picker.Options{
		PollInterval:  cfg.PickerPollInterval,
		Timeout:       cfg.PickerTimeout,
		SweepInterval: cfg.PickerSweepInterval,
		Retention:     cfg.PickerRetention,
		Logger:        logger,
	})
	app.coordinator.Start()

	gateway := photos.NewGateway(api, app.cache, photos.Options{
		MediaItemTTL: cfg.MediaItemCacheTTL,
		RateLimit:    cfg.PhotosRateLimit,
		RateBurst:    cfg.PhotosRateBurst,
		Logger:       logger,
	})

	loginLimiter := middleware.NewAttemptLimiter(middleware.AttemptLimit{Attempts: cfg.LoginRateLimit, Per: time.Minute})
	secureCookies := strings.HasPrefix(cfg.FrontendURL, "https://")

	app.photosHandler = handler.NewGooglePhotosHandler(admin, service, tokens, app.coordinator, gateway, app.cache, sessionSecret)
	app.authHandler = handler.NewAuthHandler(admin, loginLimiter, app.photosHandler, secureCookies)
	app.healthHandler = handler.NewHealthHandler(app.cache, app.coordinator)

	logger.Info("application initialized",
		"session_backend", cfg.SessionBackend,
		"dev_mode", cfg.DevMode,
		"cache_ttl", cfg.CacheTTL,
		"cache_max_entries", cfg.CacheMaxEntries,
	)
	return app, nil
}

func newResolver(cfg config.Config, awsCfg aws.Config) secret.Resolver {
	switch cfg.SecretBackend {
	case config.SecretBackendSSM:
		return secret.NewSSMResolver(ssm.NewFromConfig(awsCfg))
	case config.SecretBackendKMS:
		// Values live in the environment, or in SSM when running on AWS, as KMS ciphertext.
		var source secret.Resolver = secret.NewEnvResolver()
		if !cfg.DevMode {
			source = secret.NewSSMResolver(ssm.NewFromConfig(awsCfg))
		}
		return secret.NewKMSResolver(source, crypto.NewKMSService(kms.NewFromConfig(awsCfg), cfg.KMSKeyID))
	default:
		return secret.NewEnvResolver()
	}
}

func (app *App) openSessions(cfg config.Config, awsCfg aws.Config) error {
	switch cfg.SessionBackend {
	case config.SessionBackendDynamoDB:
		app.sessions = session.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.SessionsTable)
	case config.SessionBackendRedis:
		app.redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		app.sessions = session.NewRedisStore(app.redisClient)
	case config.SessionBackendMemory:
		store := session.NewMemoryStore()
		store.Start(time.Hour)
		app.memoryStore = store
		app.sessions = store
	default:
		return fmt.Errorf("unknown session backend %q", cfg.SessionBackend)
	}
	return nil
}

// Close stops the background sweepers and releases the session backend.
func (app *App) Close() error {
	app.cache.Stop()
	app.coordinator.Stop()
	if app.memoryStore != nil {
		app.memoryStore.Stop()
	}
	if app.redisClient != nil {
		return app.redisClient.Close()
	}
	return nil
}

// HandleRequest routes API requests to the appropriate handler.
func (app *App) HandleRequest(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	method := req.HTTPMethod
	// Strip /api prefix if present
	path := strings.TrimSuffix(strings.TrimPrefix(req.Path, "/api"), "/")

	logging.FromContext(ctx).Debug("routing request", "method", method, "path", path)

	if method == http.MethodOptions {
		return app.corsResponse(events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent}), nil
	}

	if req.PathParameters == nil {
		req.PathParameters = make(map[string]string)
	}

	switch {
	case path == "/health" && method == http.MethodGet:
		return app.corsResponse(app.must(ctx)(app.healthHandler.Health(ctx, req))), nil

	case path == "/auth/login" && method == http.MethodPost:
		return app.corsResponse(app.must(ctx)(app.authHandler.Login(ctx, req))), nil
	case path == "/auth/logout" && method == http.MethodPost:
		return app.corsResponse(app.must(ctx)(app.authHandler.Logout(ctx, req))), nil
	case path == "/auth/status" && method == http.MethodGet:
		return app.corsResponse(app.must(ctx)(app.authHandler.Status(ctx, req))), nil

	case strings.HasPrefix(path, "/admin/google-photos/"):
		if resp, ok := app.routeGooglePhotos(ctx, method, strings.TrimPrefix(path, "/admin/google-photos/"), req); ok {
			return app.corsResponse(resp), nil
		}
	}

	return app.corsResponse(handler.NotFound(method, path)), nil
}

// routeGooglePhotos dispatches /admin/google-photos/... paths. It reports
// false when nothing matches.
func (app *App) routeGooglePhotos(ctx context.Context, method, rest string, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, bool) {
	h := app.photosHandler
	must := app.must(ctx)
	parts := strings.Split(rest, "/")

	switch len(parts) {
	case 1:
		switch {
		case parts[0] == "status" && method == http.MethodGet:
			return must(h.Status(ctx, req)), true
		case parts[0] == "auth" && method == http.MethodPost:
			return must(h.BeginAuth(ctx, req)), true
		case parts[0] == "auth" && method == http.MethodDelete:
			return must(h.Revoke(ctx, req)), true
		case parts[0] == "callback" && method == http.MethodGet:
			return must(h.Callback(ctx, req)), true
		case parts[0] == "session" && method == http.MethodPost:
			return must(h.CreateSession(ctx, req)), true
		case parts[0] == "albums" && method == http.MethodGet:
			return must(h.ListAlbums(ctx, req)), true
		case parts[0] == "photos" && method == http.MethodGet:
			return must(h.ListPhotos(ctx, req)), true
		}
	case 2:
		if parts[1] == "" {
			break
		}
		req.PathParameters["id"] = parts[1]
		switch {
		case parts[0] == "session" && method == http.MethodGet:
			return must(h.GetSession(ctx, req)), true
		case parts[0] == "session" && method == http.MethodDelete:
			return must(h.CancelSession(ctx, req)), true
		case parts[0] == "photos" && method == http.MethodGet:
			return must(h.GetPhoto(ctx, req)), true
		}
	case 3:
		if parts[0] == "albums" && parts[1] != "" && parts[2] == "photos" && method == http.MethodGet {
			req.PathParameters["id"] = parts[1]
			return must(h.ListAlbumPhotos(ctx, req)), true
		}
	}
	return events.APIGatewayProxyResponse{}, false
}

// corsResponse adds CORS headers for the configured frontend.
func (app *App) corsResponse(resp events.APIGatewayProxyResponse) events.APIGatewayProxyResponse {
	if resp.Headers == nil {
		resp.Headers = make(map[string]string)
	}
	resp.Headers["Access-Control-Allow-Origin"] = app.cfg.FrontendURL
	resp.Headers["Access-Control-Allow-Credentials"] = "true"
	resp.Headers["Access-Control-Allow-Methods"] = "GET,POST,DELETE,OPTIONS"
	resp.Headers["Access-Control-Allow-Headers"] = "Content-Type,Authorization,X-Request-Id"
	return resp
}

// must unwraps a handler response, turning a handler error into a 500.
func (app *App) must(ctx context.Context) func(events.APIGatewayProxyResponse, error) events.APIGatewayProxyResponse {
	return func(resp events.APIGatewayProxyResponse, err error) events.APIGatewayProxyResponse {
		if err != nil {
			return handler.InternalError(ctx, err)
		}
		return resp
	}
}
