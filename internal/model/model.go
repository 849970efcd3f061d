package model

import "time"

// TokenSet is the OAuth token material for one connected Google account.
// It is only ever persisted encrypted.
type TokenSet struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Expiry       int64  `json:"expiry_date,omitempty"` // Unix milliseconds, 0 means unknown
	UserEmail    string `json:"user_email,omitempty"`
	UserName     string `json:"user_name,omitempty"`
}

// UserInfo is the profile shown in the admin UI.
type UserInfo struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Profile returns the profile attached to the token set, or nil when none was fetched.
func (t *TokenSet) Profile() *UserInfo {
	if t == nil || (t.UserEmail == "" && t.UserName == "") {
		return nil
	}
	return &UserInfo{Email: t.UserEmail, Name: t.UserName}
}

// PickerState is the lifecycle state of a picker session.
type PickerState string

const (
	PickerPending   PickerState = "pending"
	PickerCompleted PickerState = "completed"
	PickerTimedOut  PickerState = "timed_out"
	PickerCancelled PickerState = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s PickerState) Terminal() bool {
	return s != PickerPending
}

// PickerSession is a server-tracked handle on one upstream picker interaction.
type PickerSession struct {
	ID              string        `json:"sessionId"`
	PickerURI       string        `json:"pickerUrl"`
	RequestID       string        `json:"requestId"`
	AccessToken     string        `json:"-"`
	OwnerID         string        `json:"-"`
	UserID          string        `json:"-"`
	DestinationPath string        `json:"destinationPath,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	PollInterval    time.Duration `json:"-"`
	Timeout         time.Duration `json:"-"`
	State           PickerState   `json:"state"`
	MediaItems      []MediaItem   `json:"mediaItems,omitempty"`
}

// Album is a read-only projection of an upstream album.
type Album struct {
	ID                    string `json:"id"`
	Title                 string `json:"title"`
	MediaItemsCount       int64  `json:"mediaItemsCount"`
	CoverPhotoBaseURL     string `json:"coverPhotoBaseUrl,omitempty"`
	CoverPhotoMediaItemID string `json:"coverPhotoMediaItemId,omitempty"`
}

// MediaItem is a read-only projection of an upstream photo or video.
type MediaItem struct {
	ID           string    `json:"id"`
	Filename     string    `json:"filename"`
	BaseURL      string    `json:"baseUrl"`
	MimeType     string    `json:"mimeType"`
	Width        int64     `json:"width,omitempty"`
	Height       int64     `json:"height,omitempty"`
	CreationTime time.Time `json:"creationTime,omitzero"`
}
