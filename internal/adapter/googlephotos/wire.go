package googlephotos

import (
	"strconv"
	"strings"
	"time"

	"github.com/Sorbh/digital-photo-frame/internal/adapter"
	"github.com/Sorbh/digital-photo-frame/internal/model"
)

// JSON shapes of the Picker and Library APIs.

type pickingSession struct {
	ID            string `json:"id"`
	PickerURI     string `json:"pickerUri"`
	PollingConfig struct {
		PollInterval string `json:"pollInterval"`
		TimeoutIn    string `json:"timeoutIn"`
	} `json:"pollingConfig"`
	ExpireTime    time.Time `json:"expireTime"`
	MediaItemsSet bool      `json:"mediaItemsSet"`
}

func (s pickingSession) toAdapter() *adapter.PickingSession {
	return &adapter.PickingSession{
		ID:            s.ID,
		PickerURI:     s.PickerURI,
		PollInterval:  s.PollingConfig.PollInterval,
		TimeoutIn:     s.PollingConfig.TimeoutIn,
		MediaItemsSet: s.MediaItemsSet,
		ExpireTime:    s.ExpireTime,
	}
}

type pickedMediaItem struct {
	ID         string    `json:"id"`
	CreateTime time.Time `json:"createTime"`
	MediaFile  struct {
		BaseURL           string `json:"baseUrl"`
		MimeType          string `json:"mimeType"`
		Filename          string `json:"filename"`
		MediaFileMetadata struct {
			Width  flexInt `json:"width"`
			Height flexInt `json:"height"`
		} `json:"mediaFileMetadata"`
	} `json:"mediaFile"`
}

func (p pickedMediaItem) toModel() model.MediaItem {
	return withDefaults(model.MediaItem{
		ID:           p.ID,
		Filename:     p.MediaFile.Filename,
		BaseURL:      p.MediaFile.BaseURL,
		MimeType:     p.MediaFile.MimeType,
		Width:        int64(p.MediaFile.MediaFileMetadata.Width),
		Height:       int64(p.MediaFile.MediaFileMetadata.Height),
		CreationTime: p.CreateTime,
	})
}

type album struct {
	ID                    string  `json:"id"`
	Title                 string  `json:"title"`
	MediaItemsCount       flexInt `json:"mediaItemsCount"`
	CoverPhotoBaseURL     string  `json:"coverPhotoBaseUrl"`
	CoverPhotoMediaItemID string  `json:"coverPhotoMediaItemId"`
}

func (a album) toModel() model.Album {
	title := a.Title
	if title == "" {
		title = "Untitled Album"
	}
	return model.Album{
		ID:                    a.ID,
		Title:                 title,
		MediaItemsCount:       int64(a.MediaItemsCount),
		CoverPhotoBaseURL:     a.CoverPhotoBaseURL,
		CoverPhotoMediaItemID: a.CoverPhotoMediaItemID,
	}
}

type mediaItem struct {
	ID            string `json:"id"`
	Filename      string `json:"filename"`
	BaseURL       string `json:"baseUrl"`
	MimeType      string `json:"mimeType"`
	MediaMetadata struct {
		CreationTime time.Time `json:"creationTime"`
		Width        flexInt   `json:"width"`
		Height       flexInt   `json:"height"`
	} `json:"mediaMetadata"`
}

func (m mediaItem) toModel() model.MediaItem {
	return withDefaults(model.MediaItem{
		ID:           m.ID,
		Filename:     m.Filename,
		BaseURL:      m.BaseURL,
		MimeType:     m.MimeType,
		Width:        int64(m.MediaMetadata.Width),
		Height:       int64(m.MediaMetadata.Height),
		CreationTime: m.MediaMetadata.CreationTime,
	})
}

type mediaItemList struct {
	MediaItems    []mediaItem `json:"mediaItems"`
	NextPageToken string      `json:"nextPageToken"`
}

func (l mediaItemList) toPage() adapter.MediaPage {
	page := adapter.MediaPage{NextPageToken: l.NextPageToken, MediaItems: make([]model.MediaItem, 0, len(l.MediaItems))}
	for _, item := range l.MediaItems {
		page.MediaItems = append(page.MediaItems, item.toModel())
	}
	return page
}

func withDefaults(item model.MediaItem) model.MediaItem {
	if item.Filename == "" {
		item.Filename = "untitled"
	}
	if item.MimeType == "" {
		item.MimeType = "image/jpeg"
	}
	return item
}

// flexInt decodes int64 values that the APIs send either as JSON numbers or
// as decimal strings.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*f = flexInt(n)
	return nil
}
