package adapter

import (
	"context"
	"time"

	"github.com/Sorbh/digital-photo-frame/internal/model"
)

// PickingSession is the upstream view of a picker session.
type PickingSession struct {
	ID        string
	PickerURI string

	// PollInterval and TimeoutIn are upstream duration strings such as "5s".
	PollInterval string
	TimeoutIn    string

	MediaItemsSet bool
	ExpireTime    time.Time
}

// AlbumPage is one page of albums.
type AlbumPage struct {
	Albums        []model.Album `json:"albums"`
	NextPageToken string        `json:"nextPageToken,omitempty"`
}

// MediaPage is one page of media items.
type MediaPage struct {
	MediaItems    []model.MediaItem `json:"mediaItems"`
	NextPageToken string            `json:"nextPageToken,omitempty"`
}

// PickerAPI is the Google Photos Picker API. Every call is authorized with
// the caller's access token.
type PickerAPI interface {
	// CreateSession starts a picker session. requestID makes the call idempotent.
	CreateSession(ctx context.Context, accessToken, requestID string) (*PickingSession, error)

	GetSession(ctx context.Context, accessToken, sessionID string) (*PickingSession, error)

	// ListPickedItems returns one page of the items the user picked.
	ListPickedItems(ctx context.Context, accessToken, sessionID, pageToken string) (MediaPage, error)

	DeleteSession(ctx context.Context, accessToken, sessionID string) error
}

// LibraryAPI is the read-only part of the Google Photos Library API.
type LibraryAPI interface {
	ListAlbums(ctx context.Context, accessToken string, pageSize int, pageToken string) (AlbumPage, error)
	ListMediaItems(ctx context.Context, accessToken string, pageSize int, pageToken string) (MediaPage, error)
	SearchAlbumMediaItems(ctx context.Context, accessToken, albumID string, pageSize int, pageToken string) (MediaPage, error)

	// GetMediaItem returns ErrNotFound (possibly wrapped) for an unknown id.
	GetMediaItem(ctx context.Context, accessToken, mediaItemID string) (*model.MediaItem, error)
}
