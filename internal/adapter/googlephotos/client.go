package googlephotos

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"

	"github.com/Sorbh/digital-photo-frame/internal/adapter"
	"github.com/Sorbh/digital-photo-frame/internal/model"
)

const (
	DefaultPickerBaseURL  = "https://photospicker.googleapis.com/v1"
	DefaultLibraryBaseURL = "https://photoslibrary.googleapis.com/v1"
	DefaultTimeout        = 30 * time.Second

	// pickedPageSize is the page size used when listing picked items.
	pickedPageSize = 100
)

// Options configures a Client.
type Options struct {
	HTTPClient     *http.Client
	PickerBaseURL  string
	LibraryBaseURL string

	// Timeout bounds each call, including reading the response.
	Timeout time.Duration
}

// Client implements adapter.PickerAPI and adapter.LibraryAPI over HTTP.
type Client struct {
	httpClient *http.Client
	pickerURL  string
	libraryURL string
	timeout    time.Duration
}

var (
	_ adapter.PickerAPI  = (*Client)(nil)
	_ adapter.LibraryAPI = (*Client)(nil)
)

// New creates a Client.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.PickerBaseURL == "" {
		opts.PickerBaseURL = DefaultPickerBaseURL
	}
	if opts.LibraryBaseURL == "" {
		opts.LibraryBaseURL = DefaultLibraryBaseURL
	}
	return &Client{
		httpClient: opts.HTTPClient,
		pickerURL:  strings.TrimRight(opts.PickerBaseURL, "/"),
		libraryURL: strings.TrimRight(opts.LibraryBaseURL, "/"),
		timeout:    opts.Timeout,
	}
}

// CreateSession starts a picker session.
func (c *Client) CreateSession(ctx context.Context, accessToken, requestID string) (*adapter.PickingSession, error) {
	var out pickingSession
	q := url.Values{"requestId": {requestID}}
	if err := c.do(ctx, accessToken, http.MethodPost, c.pickerURL, "/sessions", q, struct{}{}, &out); err != nil {
		return nil, err
	}
	return out.toAdapter(), nil
}

// GetSession reads the current state of a picker session.
func (c *Client) GetSession(ctx context.Context, accessToken, sessionID string) (*adapter.PickingSession, error) {
	var out pickingSession
	if err := c.do(ctx, accessToken, http.MethodGet, c.pickerURL, "/sessions/"+url.PathEscape(sessionID), nil, nil, &out); err != nil {
		return nil, err
	}
	return out.toAdapter(), nil
}

// ListPickedItems returns one page of the session's picked items.
func (c *Client) ListPickedItems(ctx context.Context, accessToken, sessionID, pageToken string) (adapter.MediaPage, error) {
	q := url.Values{
		"sessionId": {sessionID},
		"pageSize":  {strconv.Itoa(pickedPageSize)},
	}
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}
	var out struct {
		MediaItems    []pickedMediaItem `json:"mediaItems"`
		NextPageToken string            `json:"nextPageToken"`
	}
	if err := c.do(ctx, accessToken, http.MethodGet, c.pickerURL, "/mediaItems", q, nil, &out); err != nil {
		return adapter.MediaPage{}, err
	}
	page := adapter.MediaPage{NextPageToken: out.NextPageToken, MediaItems: make([]model.MediaItem, 0, len(out.MediaItems))}
	for _, item := range out.MediaItems {
		page.MediaItems = append(page.MediaItems, item.toModel())
	}
	return page, nil
}

// DeleteSession deletes a picker session.
func (c *Client) DeleteSession(ctx context.Context, accessToken, sessionID string) error {
	return c.do(ctx, accessToken, http.MethodDelete, c.pickerURL, "/sessions/"+url.PathEscape(sessionID), nil, nil, nil)
}

// ListAlbums lists the library's albums.
func (c *Client) ListAlbums(ctx context.Context, accessToken string, pageSize int, pageToken string) (adapter.AlbumPage, error) {
	var out struct {
		Albums        []album `json:"albums"`
		NextPageToken string  `json:"nextPageToken"`
	}
	if err := c.do(ctx, accessToken, http.MethodGet, c.libraryURL, "/albums", pageQuery(pageSize, pageToken), nil, &out); err != nil {
		return adapter.AlbumPage{}, err
	}
	page := adapter.AlbumPage{NextPageToken: out.NextPageToken, Albums: make([]model.Album, 0, len(out.Albums))}
	for _, a := range out.Albums {
		page.Albums = append(page.Albums, a.toModel())
	}
	return page, nil
}

// ListMediaItems lists the library's media items.
func (c *Client) ListMediaItems(ctx context.Context, accessToken string, pageSize int, pageToken string) (adapter.MediaPage, error) {
	var out mediaItemList
	if err := c.do(ctx, accessToken, http.MethodGet, c.libraryURL, "/mediaItems", pageQuery(pageSize, pageToken), nil, &out); err != nil {
		return adapter.MediaPage{}, err
	}
	return out.toPage(), nil
}

// SearchAlbumMediaItems lists the media items of one album.
func (c *Client) SearchAlbumMediaItems(ctx context.Context, accessToken, albumID string, pageSize int, pageToken string) (adapter.MediaPage, error) {
	body := struct {
		AlbumID   string `json:"albumId"`
		PageSize  int    `json:"pageSize"`
		PageToken string `json:"pageToken,omitempty"`
	}{AlbumID: albumID, PageSize: pageSize, PageToken: pageToken}

	var out mediaItemList
	if err := c.do(ctx, accessToken, http.MethodPost, c.libraryURL, "/mediaItems:search", nil, body, &out); err != nil {
		return adapter.MediaPage{}, err
	}
	return out.toPage(), nil
}

// GetMediaItem reads a single media item.
func (c *Client) GetMediaItem(ctx context.Context, accessToken, mediaItemID string) (*model.MediaItem, error) {
	var out mediaItem
	if err := c.do(ctx, accessToken, http.MethodGet, c.libraryURL, "/mediaItems/"+url.PathEscape(mediaItemID), nil, nil, &out); err != nil {
		return nil, err
	}
	item := out.toModel()
	return &item, nil
}

func pageQuery(pageSize int, pageToken string) url.Values {
	q := url.Values{"pageSize": {strconv.Itoa(pageSize)}}
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}
	return q
}

// do performs one authorized JSON call. Non-2xx responses and transport
// failures come back as *adapter.UpstreamError.
func (c *Client) do(ctx context.Context, accessToken, method, baseURL, path string, query url.Values, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := method + " " + path

	target := baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", endpoint, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", endpoint, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := oauth2.NewClient(
		context.WithValue(ctx, oauth2.HTTPClient, c.httpClient),
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}),
	)
	resp, err := client.Do(req)
	if err != nil {
		return &adapter.UpstreamError{Endpoint: endpoint, Message: err.Error(), Err: err}
	}
	defer googleapi.CloseBody(resp)

	if err := googleapi.CheckResponse(resp); err != nil {
		return upstreamError(endpoint, err)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &adapter.UpstreamError{
			Status:   resp.StatusCode,
			Endpoint: endpoint,
			Message:  "malformed response: " + err.Error(),
			Err:      err,
		}
	}
	return nil
}

func upstreamError(endpoint string, err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return &adapter.UpstreamError{Endpoint: endpoint, Message: err.Error(), Err: err}
	}
	msg := gerr.Message
	if msg == "" {
		msg = http.StatusText(gerr.Code)
	}
	return &adapter.UpstreamError{
		Status:     gerr.Code,
		Endpoint:   endpoint,
		Message:    msg,
		RetryAfter: retryAfter(gerr.Header),
		Err:        err,
	}
}

// retryAfter parses a Retry-After header given in seconds.
func retryAfter(h http.Header) time.Duration {
	if h == nil {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(h.Get("Retry-After")))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
