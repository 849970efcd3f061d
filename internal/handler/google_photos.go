package handler

import (
	"context"
	"net/http"

	"github.com/aws/aws-lambda-go/events"

	"github.com/Sorbh/digital-photo-frame/internal/adapter"
	"github.com/Sorbh/digital-photo-frame/internal/auth"
	"github.com/Sorbh/digital-photo-frame/internal/cache"
	"github.com/Sorbh/digital-photo-frame/internal/logging"
	"github.com/Sorbh/digital-photo-frame/internal/model"
	"github.com/Sorbh/digital-photo-frame/internal/photos"
	"github.com/Sorbh/digital-photo-frame/internal/picker"
)

// GooglePhotosHandler serves the admin Google Photos endpoints: connection
// management, picker sessions and library browsing.
type GooglePhotosHandler struct {
	admin     *auth.AdminAuth
	service   *auth.Service
	tokens    picker.TokenProvider
	picker    *picker.Coordinator
	gateway   *photos.Gateway
	cache     *cache.Cache
	jwtSecret string
}

// NewGooglePhotosHandler creates a new GooglePhotosHandler. tokens supplies
// upstream credentials for library calls; it is normally the auth service.
func NewGooglePhotosHandler(admin *auth.AdminAuth, service *auth.Service, tokens picker.TokenProvider, coordinator *picker.Coordinator, gateway *photos.Gateway, c *cache.Cache, jwtSecret string) *GooglePhotosHandler {
	return &GooglePhotosHandler{
		admin:     admin,
		service:   service,
		tokens:    tokens,
		picker:    coordinator,
		gateway:   gateway,
		cache:     c,
		jwtSecret: jwtSecret,
	}
}

// photoView adds display URLs to a media item.
type photoView struct {
	model.MediaItem
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
	DownloadURL  string `json:"downloadUrl,omitempty"`
}

type albumView struct {
	model.Album
	CoverThumbnailURL string `json:"coverThumbnailUrl,omitempty"`
}

type pollingConfig struct {
	PollInterval int64 `json:"pollInterval"`
	TimeoutIn    int64 `json:"timeoutIn,omitempty"`
}

func photoViews(items []model.MediaItem) []photoView {
	views := make([]photoView, len(items))
	for i, item := range items {
		views[i] = photoViewOf(item)
	}
	return views
}

func photoViewOf(item model.MediaItem) photoView {
	return photoView{
		MediaItem:    item,
		ThumbnailURL: photos.ThumbnailURL(item.BaseURL, 0),
		DownloadURL:  photos.DownloadURL(item.BaseURL, int(item.Width), int(item.Height)),
	}
}

// authorize resolves the caller's admin session.
func (h *GooglePhotosHandler) authorize(ctx context.Context, req events.APIGatewayProxyRequest) (string, error) {
	sess, err := h.admin.Authenticate(ctx, SessionToken(req))
	if err != nil {
		return "", err
	}
	return sess.ID, nil
}

// Status reports whether the session is connected to Google Photos.
func (h *GooglePhotosHandler) Status(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	sid, err := h.authorize(ctx, req)
	if err != nil {
		return writeError(ctx, err), nil
	}
	authenticated, info, err := h.service.Status(ctx, sid)
	if err != nil {
		return writeError(ctx, err), nil
	}
	return jsonResponse(http.StatusOK, map[string]any{
		"authenticated": authenticated,
		"userInfo":      info,
	}), nil
}

// BeginAuth starts the OAuth flow and returns the consent URL.
func (h *GooglePhotosHandler) BeginAuth(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	sid, err := h.authorize(ctx, req)
	if err != nil {
		return writeError(ctx, err), nil
	}
	var body struct {
		RedirectURI string `json:"redirectUri"`
	}
	if err := decodeBody(req, &body); err != nil {
		return badRequest("INVALID_REQUEST", "request body must be JSON"), nil
	}

	authReq, err := h.service.BeginAuth(ctx, sid, body.RedirectURI)
	if err != nil {
		return writeError(ctx, err), nil
	}
	return jsonResponse(http.StatusOK, map[string]string{
		"authUrl": authReq.URL,
		"state":   authReq.State,
	}), nil
}

// Callback completes the OAuth flow. It relies on the session cookie rather
// than an admin check because the browser arrives from Google's consent page.
func (h *GooglePhotosHandler) Callback(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	q := req.QueryStringParameters
	if reason := q["error"]; reason != "" {
		logging.FromContext(ctx).Warn("google authorization denied", "reason", reason)
		return badRequest("AUTH_DENIED", "authorization was denied: "+reason), nil
	}
	if q["code"] == "" {
		return badRequest("INVALID_AUTH_CODE", "authorization code is required"), nil
	}

	sid, err := GetSessionID(req, h.jwtSecret)
	if err != nil {
		return writeError(ctx, auth.ErrUnauthorized), nil
	}

	tokens, err := h.service.CompleteAuth(ctx, sid, q["code"], q["state"])
	if err != nil {
		return writeError(ctx, err), nil
	}
	// Entries cached for a previously connected account on this partition are stale.
	h.cache.InvalidateUser(auth.UserIDFor(sid, tokens))

	return jsonResponse(http.StatusOK, map[string]any{
		"authenticated": true,
		"userInfo":      tokens.Profile(),
	}), nil
}

// Revoke disconnects Google Photos: tokens are revoked and cleared, cached
// responses dropped and pending picker sessions cancelled.
func (h *GooglePhotosHandler) Revoke(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	sid, err := h.authorize(ctx, req)
	if err != nil {
		return writeError(ctx, err), nil
	}
	userID, err := h.service.Disconnect(ctx, sid)
	if err != nil {
		return writeError(ctx, err), nil
	}

	invalidated := 0
	if userID != "" {
		invalidated = h.cache.InvalidateUser(userID)
	}
	cancelled := h.picker.CancelOwner(ctx, sid)

	logging.FromContext(ctx).Info("google photos disconnected",
		"cache_entries", invalidated,
		"picker_sessions", cancelled,
	)
	return jsonResponse(http.StatusOK, map[string]any{
		"authenticated":     false,
		"cancelledSessions": cancelled,
	}), nil
}

// userLookup finds a session's cache partition without refreshing tokens.
type userLookup interface {
	UserID(ctx context.Context, sessionID string) (string, error)
}

// ReleaseSession drops the session's cached library pages and cancels its
// picker sessions. The stored Google tokens go with the session record.
func (h *GooglePhotosHandler) ReleaseSession(ctx context.Context, sid string) {
	invalidated := 0
	if lookup, ok := h.tokens.(userLookup); ok {
		userID, err := lookup.UserID(ctx, sid)
		if err != nil {
			logging.FromContext(ctx).Warn("failed to resolve user for logout", "error", err)
		} else if userID != "" {
			invalidated = h.cache.InvalidateUser(userID)
		}
	}
	cancelled := h.picker.CancelOwner(ctx, sid)
	logging.FromContext(ctx).Info("released session state",
		"cache_entries", invalidated,
		"picker_sessions", cancelled,
	)
}

// CreateSession starts a picker session.
func (h *GooglePhotosHandler) CreateSession(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	sid, err := h.authorize(ctx, req)
	if err != nil {
		return writeError(ctx, err), nil
	}
	var body struct {
		DestinationPath string `json:"destinationPath"`
	}
	if err := decodeBody(req, &body); err != nil {
		return badRequest("INVALID_REQUEST", "request body must be JSON"), nil
	}

	ps, err := h.picker.Create(ctx, sid, body.DestinationPath)
	if err != nil {
		return writeError(ctx, err), nil
	}
	return jsonResponse(http.StatusOK, map[string]any{
		"sessionId": ps.ID,
		"pickerUrl": ps.PickerURI,
		"requestId": ps.RequestID,
		"pollingConfig": pollingConfig{
			PollInterval: ps.PollInterval.Milliseconds(),
			TimeoutIn:    ps.Timeout.Milliseconds(),
		},
	}), nil
}

// GetSession polls a picker session.
func (h *GooglePhotosHandler) GetSession(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	sid, err := h.authorize(ctx, req)
	if err != nil {
		return writeError(ctx, err), nil
	}
	id := req.PathParameters["id"]
	if id == "" {
		return badRequest("INVALID_REQUEST", "session id is required"), nil
	}

	res, err := h.picker.Poll(ctx, sid, id)
	if err != nil {
		return writeError(ctx, err), nil
	}
	if err := res.Err(); err != nil {
		return writeError(ctx, err), nil
	}

	data := map[string]any{
		"state":         res.State,
		"mediaItemsSet": res.MediaItemsSet(),
	}
	if res.MediaItemsSet() {
		data["mediaItems"] = photoViews(res.MediaItems)
	} else {
		data["pollingConfig"] = pollingConfig{PollInterval: res.PollInterval.Milliseconds()}
	}
	return jsonResponse(http.StatusOK, data), nil
}

// CancelSession cancels a pending picker session.
func (h *GooglePhotosHandler) CancelSession(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	sid, err := h.authorize(ctx, req)
	if err != nil {
		return writeError(ctx, err), nil
	}
	id := req.PathParameters["id"]
	if id == "" {
		return badRequest("INVALID_REQUEST", "session id is required"), nil
	}

	res, err := h.picker.Cancel(ctx, sid, id)
	if err != nil {
		return writeError(ctx, err), nil
	}
	return jsonResponse(http.StatusOK, map[string]any{"state": res.State}), nil
}

// credentials authorizes the caller and returns fresh Google credentials.
func (h *GooglePhotosHandler) credentials(ctx context.Context, req events.APIGatewayProxyRequest) (auth.Credentials, error) {
	sid, err := h.authorize(ctx, req)
	if err != nil {
		return auth.Credentials{}, err
	}
	return h.tokens.AccessToken(ctx, sid)
}

// ListAlbums returns one page of albums.
func (h *GooglePhotosHandler) ListAlbums(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	creds, err := h.credentials(ctx, req)
	if err != nil {
		return writeError(ctx, err), nil
	}
	size, token, err := pageQuery(req)
	if err != nil {
		return badRequest("INVALID_REQUEST", err.Error()), nil
	}

	page, err := h.gateway.ListAlbums(ctx, creds, size, token)
	if err != nil {
		return writeError(ctx, err), nil
	}
	albums := make([]albumView, len(page.Albums))
	for i, a := range page.Albums {
		albums[i] = albumView{Album: a, CoverThumbnailURL: photos.ThumbnailURL(a.CoverPhotoBaseURL, 0)}
	}
	return jsonResponse(http.StatusOK, map[string]any{
		"albums":        albums,
		"nextPageToken": page.NextPageToken,
	}), nil
}

// ListAlbumPhotos returns one page of an album's photos.
func (h *GooglePhotosHandler) ListAlbumPhotos(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	creds, err := h.credentials(ctx, req)
	if err != nil {
		return writeError(ctx, err), nil
	}
	albumID := req.PathParameters["id"]
	if albumID == "" {
		return badRequest("INVALID_REQUEST", "album id is required"), nil
	}
	size, token, err := pageQuery(req)
	if err != nil {
		return badRequest("INVALID_REQUEST", err.Error()), nil
	}

	page, err := h.gateway.ListAlbumPhotos(ctx, creds, albumID, size, token)
	if err != nil {
		return writeError(ctx, err), nil
	}
	return mediaPageResponse(page), nil
}

// ListPhotos returns one page of the library.
func (h *GooglePhotosHandler) ListPhotos(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	creds, err := h.credentials(ctx, req)
	if err != nil {
		return writeError(ctx, err), nil
	}
	size, token, err := pageQuery(req)
	if err != nil {
		return badRequest("INVALID_REQUEST", err.Error()), nil
	}

	page, err := h.gateway.ListLibraryPhotos(ctx, creds, size, token)
	if err != nil {
		return writeError(ctx, err), nil
	}
	return mediaPageResponse(page), nil
}

// GetPhoto returns one media item.
func (h *GooglePhotosHandler) GetPhoto(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	creds, err := h.credentials(ctx, req)
	if err != nil {
		return writeError(ctx, err), nil
	}
	id := req.PathParameters["id"]
	if id == "" {
		return badRequest("INVALID_REQUEST", "photo id is required"), nil
	}

	item, err := h.gateway.GetMediaItem(ctx, creds, id)
	if err != nil {
		return writeError(ctx, err), nil
	}
	return jsonResponse(http.StatusOK, photoViewOf(*item)), nil
}

func mediaPageResponse(page adapter.MediaPage) events.APIGatewayProxyResponse {
	return jsonResponse(http.StatusOK, map[string]any{
		"photos":        photoViews(page.MediaItems),
		"nextPageToken": page.NextPageToken,
	})
}
