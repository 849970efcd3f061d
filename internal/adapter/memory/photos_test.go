package memory

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/Sorbh/digital-photo-frame/internal/adapter"
)

func TestPhotos_PickerLifecycle(t *testing.T) {
	p := NewSeededPhotos()
	ctx := context.Background()

	s, err := p.CreateSession(ctx, "tok", "req-1")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	for i := 0; i < p.CompleteAfterPolls; i++ {
		got, err := p.GetSession(ctx, "tok", s.ID)
		if err != nil {
			t.Fatalf("GetSession failed: %v", err)
		}
		if got.MediaItemsSet {
			t.Fatalf("poll %d: selection should not be set yet", i+1)
		}
	}
	got, _ := p.GetSession(ctx, "tok", s.ID)
	if !got.MediaItemsSet {
		t.Fatal("selection should be set after the configured polls")
	}

	page, err := p.ListPickedItems(ctx, "tok", s.ID, "")
	if err != nil {
		t.Fatalf("ListPickedItems failed: %v", err)
	}
	if len(page.MediaItems) != 3 || page.NextPageToken != "" {
		t.Errorf("unexpected picked page %+v", page)
	}

	if err := p.DeleteSession(ctx, "tok", s.ID); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	if !p.Deleted(s.ID) {
		t.Error("expected session to be deleted")
	}
	if _, err := p.GetSession(ctx, "tok", s.ID); !errors.Is(err, adapter.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestPhotos_PickedItemsPaging(t *testing.T) {
	p := NewSeededPhotos()
	p.PickedPageSize = 2
	p.CompleteAfterPolls = 0
	ctx := context.Background()

	s, _ := p.CreateSession(ctx, "tok", "req-1")
	_, _ = p.GetSession(ctx, "tok", s.ID)

	first, err := p.ListPickedItems(ctx, "tok", s.ID, "")
	if err != nil || len(first.MediaItems) != 2 || first.NextPageToken == "" {
		t.Fatalf("unexpected first page %+v, %v", first, err)
	}
	second, err := p.ListPickedItems(ctx, "tok", s.ID, first.NextPageToken)
	if err != nil || len(second.MediaItems) != 1 || second.NextPageToken != "" {
		t.Fatalf("unexpected second page %+v, %v", second, err)
	}
}

func TestPhotos_CreateStatus(t *testing.T) {
	p := NewPhotos()
	p.CreateStatus = http.StatusTooManyRequests

	_, err := p.CreateSession(context.Background(), "tok", "req-1")
	if adapter.StatusOf(err) != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", err)
	}
}

func TestPhotos_Library(t *testing.T) {
	p := NewSeededPhotos()
	ctx := context.Background()

	albums, err := p.ListAlbums(ctx, "tok", 1, "")
	if err != nil || len(albums.Albums) != 1 || albums.NextPageToken != "1" {
		t.Fatalf("unexpected albums %+v, %v", albums, err)
	}
	if albums.Albums[0].MediaItemsCount != 4 || albums.Albums[0].CoverPhotoMediaItemID != "demo-1" {
		t.Errorf("unexpected album %+v", albums.Albums[0])
	}

	photos, err := p.SearchAlbumMediaItems(ctx, "tok", "demo-album-2", 10, "")
	if err != nil || len(photos.MediaItems) != 2 {
		t.Fatalf("unexpected album photos %+v, %v", photos, err)
	}
	if _, err := p.SearchAlbumMediaItems(ctx, "tok", "nope", 10, ""); !errors.Is(err, adapter.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	library, err := p.ListMediaItems(ctx, "tok", 5, "10")
	if err != nil || len(library.MediaItems) != 2 || library.NextPageToken != "" {
		t.Fatalf("unexpected library page %+v, %v", library, err)
	}

	item, err := p.GetMediaItem(ctx, "tok", "demo-7")
	if err != nil || item.Filename != "IMG_0007.jpg" {
		t.Fatalf("unexpected item %+v, %v", item, err)
	}
	if _, err := p.GetMediaItem(ctx, "tok", "nope"); !errors.Is(err, adapter.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if p.Calls("GetMediaItem") != 2 {
		t.Errorf("expected 2 GetMediaItem calls, got %d", p.Calls("GetMediaItem"))
	}
}

func TestPhotos_BadPageToken(t *testing.T) {
	p := NewSeededPhotos()
	if _, err := p.ListMediaItems(context.Background(), "tok", 5, "abc"); adapter.StatusOf(err) != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}
