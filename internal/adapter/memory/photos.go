package memory

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Sorbh/digital-photo-frame/internal/adapter"
	"github.com/Sorbh/digital-photo-frame/internal/model"
)

// Photos implements adapter.PickerAPI and adapter.LibraryAPI in memory.
// It backs DEV_MODE and tests. Picker sessions report their selection as
// set after CompleteAfterPolls status checks.
type Photos struct {
	mu sync.Mutex

	albums      []model.Album
	items       []model.MediaItem
	albumItems  map[string][]string
	sessions    map[string]*pickerSession
	pickedItems []model.MediaItem

	// CompleteAfterPolls is how many GetSession calls a session needs before
	// it reports mediaItemsSet. Zero completes on the first poll.
	CompleteAfterPolls int

	// PickedPageSize splits picked items into pages when positive.
	PickedPageSize int

	// CreateStatus makes CreateSession fail with that upstream status when non-zero.
	CreateStatus int

	calls map[string]int
}

type pickerSession struct {
	id       string
	polls    int
	complete bool
	deleted  bool
}

var (
	_ adapter.PickerAPI  = (*Photos)(nil)
	_ adapter.LibraryAPI = (*Photos)(nil)
)

// NewPhotos returns an empty fake.
func NewPhotos() *Photos {
	return &Photos{
		albumItems: make(map[string][]string),
		sessions:   make(map[string]*pickerSession),
		calls:      make(map[string]int),
	}
}

// NewSeededPhotos returns a fake with a small demo library, used in DEV_MODE.
func NewSeededPhotos() *Photos {
	p := NewPhotos()
	created := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	for i := 1; i <= 12; i++ {
		p.AddMediaItem(model.MediaItem{
			ID:           fmt.Sprintf("demo-%d", i),
			Filename:     fmt.Sprintf("IMG_%04d.jpg", i),
			BaseURL:      fmt.Sprintf("https://picsum.photos/seed/frame%d", i),
			MimeType:     "image/jpeg",
			Width:        1600,
			Height:       1200,
			CreationTime: created.Add(time.Duration(i) * time.Hour),
		})
	}
	p.AddAlbum(model.Album{ID: "demo-album-1", Title: "Summer"}, "demo-1", "demo-2", "demo-3", "demo-4")
	p.AddAlbum(model.Album{ID: "demo-album-2", Title: "Family"}, "demo-5", "demo-6")
	p.SetPickedItems("demo-1", "demo-2", "demo-3")
	p.CompleteAfterPolls = 2
	return p
}

// AddMediaItem adds an item to the library.
func (p *Photos) AddMediaItem(item model.MediaItem) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items = append(p.items, item)
}

// AddAlbum adds an album holding the given library items.
func (p *Photos) AddAlbum(a model.Album, itemIDs ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a.MediaItemsCount = int64(len(itemIDs))
	if len(itemIDs) > 0 {
		if item, ok := p.findItem(itemIDs[0]); ok {
			a.CoverPhotoBaseURL = item.BaseURL
			a.CoverPhotoMediaItemID = item.ID
		}
	}
	p.albums = append(p.albums, a)
	p.albumItems[a.ID] = append([]string(nil), itemIDs...)
}

// SetPickedItems sets the items every picker session returns.
func (p *Photos) SetPickedItems(itemIDs ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pickedItems = p.pickedItems[:0]
	for _, id := range itemIDs {
		if item, ok := p.findItem(id); ok {
			p.pickedItems = append(p.pickedItems, item)
		}
	}
}

// CompleteSession marks a picker session's selection as set.
func (p *Photos) CompleteSession(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.sessions[sessionID]; ok {
		s.complete = true
	}
}

// Calls returns how many times the named method was called.
func (p *Photos) Calls(method string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[method]
}

// Deleted reports whether DeleteSession was called for the session.
func (p *Photos) Deleted(sessionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[sessionID]
	return ok && s.deleted
}

func (p *Photos) CreateSession(ctx context.Context, accessToken, requestID string) (*adapter.PickingSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["CreateSession"]++

	if p.CreateStatus != 0 {
		return nil, &adapter.UpstreamError{
			Status:   p.CreateStatus,
			Endpoint: "POST /sessions",
			Message:  http.StatusText(p.CreateStatus),
		}
	}
	id := uuid.NewString()
	p.sessions[id] = &pickerSession{id: id}
	return &adapter.PickingSession{
		ID:           id,
		PickerURI:    "https://photos.google.com/picker/" + id,
		PollInterval: "5s",
		TimeoutIn:    "300s",
	}, nil
}

func (p *Photos) GetSession(ctx context.Context, accessToken, sessionID string) (*adapter.PickingSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["GetSession"]++

	s, ok := p.sessions[sessionID]
	if !ok || s.deleted {
		return nil, notFound("GET /sessions/{id}")
	}
	s.polls++
	if s.polls > p.CompleteAfterPolls {
		s.complete = true
	}
	return &adapter.PickingSession{
		ID:            s.id,
		PickerURI:     "https://photos.google.com/picker/" + s.id,
		PollInterval:  "5s",
		TimeoutIn:     "300s",
		MediaItemsSet: s.complete,
	}, nil
}

func (p *Photos) ListPickedItems(ctx context.Context, accessToken, sessionID, pageToken string) (adapter.MediaPage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["ListPickedItems"]++

	s, ok := p.sessions[sessionID]
	if !ok || s.deleted {
		return adapter.MediaPage{}, notFound("GET /mediaItems")
	}
	if !s.complete {
		return adapter.MediaPage{}, &adapter.UpstreamError{
			Status:   http.StatusBadRequest,
			Endpoint: "GET /mediaItems",
			Message:  "media items not set",
		}
	}
	size := p.PickedPageSize
	if size <= 0 {
		size = len(p.pickedItems) + 1
	}
	return paginate(p.pickedItems, size, pageToken)
}

func (p *Photos) DeleteSession(ctx context.Context, accessToken, sessionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["DeleteSession"]++

	s, ok := p.sessions[sessionID]
	if !ok {
		return notFound("DELETE /sessions/{id}")
	}
	s.deleted = true
	return nil
}

func (p *Photos) ListAlbums(ctx context.Context, accessToken string, pageSize int, pageToken string) (adapter.AlbumPage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["ListAlbums"]++

	start, err := offset(pageToken)
	if err != nil {
		return adapter.AlbumPage{}, err
	}
	start = min(start, len(p.albums))
	end := min(start+max(pageSize, 1), len(p.albums))
	page := adapter.AlbumPage{Albums: append([]model.Album{}, p.albums[start:end]...)}
	if end < len(p.albums) {
		page.NextPageToken = strconv.Itoa(end)
	}
	return page, nil
}

func (p *Photos) ListMediaItems(ctx context.Context, accessToken string, pageSize int, pageToken string) (adapter.MediaPage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["ListMediaItems"]++
	return paginate(p.items, pageSize, pageToken)
}

func (p *Photos) SearchAlbumMediaItems(ctx context.Context, accessToken, albumID string, pageSize int, pageToken string) (adapter.MediaPage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["SearchAlbumMediaItems"]++

	ids, ok := p.albumItems[albumID]
	if !ok {
		return adapter.MediaPage{}, notFound("POST /mediaItems:search")
	}
	items := make([]model.MediaItem, 0, len(ids))
	for _, id := range ids {
		if item, ok := p.findItem(id); ok {
			items = append(items, item)
		}
	}
	return paginate(items, pageSize, pageToken)
}

func (p *Photos) GetMediaItem(ctx context.Context, accessToken, mediaItemID string) (*model.MediaItem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["GetMediaItem"]++

	item, ok := p.findItem(mediaItemID)
	if !ok {
		return nil, notFound("GET /mediaItems/{id}")
	}
	return &item, nil
}

// caller holds p.mu
func (p *Photos) findItem(id string) (model.MediaItem, bool) {
	for _, item := range p.items {
		if item.ID == id {
			return item, true
		}
	}
	return model.MediaItem{}, false
}

func paginate(items []model.MediaItem, pageSize int, pageToken string) (adapter.MediaPage, error) {
	start, err := offset(pageToken)
	if err != nil {
		return adapter.MediaPage{}, err
	}
	start = min(start, len(items))
	end := min(start+max(pageSize, 1), len(items))
	page := adapter.MediaPage{MediaItems: append([]model.MediaItem{}, items[start:end]...)}
	if end < len(items) {
		page.NextPageToken = strconv.Itoa(end)
	}
	return page, nil
}

func offset(pageToken string) (int, error) {
	if pageToken == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(pageToken)
	if err != nil || n < 0 {
		return 0, &adapter.UpstreamError{Status: http.StatusBadRequest, Endpoint: "page", Message: "invalid page token"}
	}
	return n, nil
}

func notFound(endpoint string) error {
	return &adapter.UpstreamError{Status: http.StatusNotFound, Endpoint: endpoint, Message: "not found"}
}
