package channel

import (
	"time"

	"github.com/openquill/voxsignal/internal/errors"
)

const (
	// ErrChannelFull is returned when a join would exceed max occupancy.
	ErrChannelFull errors.Code = "channel full"
)

// MediaType classifies a media stream or broadcast source.
type MediaType string

const (
	MediaAudio   MediaType = "audio"
	MediaVideo   MediaType = "video"
	MediaScreen  MediaType = "screen"
	MediaSpotify MediaType = "spotify"
	MediaYoutube MediaType = "youtube"
)

func (t MediaType) Valid() bool {
	switch t {
	case MediaAudio, MediaVideo, MediaScreen, MediaSpotify, MediaYoutube:
		return true
	}
	return false
}

// Broadcastable reports whether the type may be shared as a room-wide
// broadcast. Only external feeds qualify; user-originated audio/video/screen
// travel peer to peer and are never brokered as broadcasts.
func (t MediaType) Broadcastable() bool {
	return t == MediaSpotify || t == MediaYoutube
}

// MediaStream is one announced stream, owned exclusively by its ChannelUser.
type MediaStream struct {
	StreamID string
	Type     MediaType
	OwnerID  string
	Enabled  bool
}

// ChannelUser is the in-room state of one member. Values returned from
// MediaChannel accessors are deep copies; mutating them has no effect on
// the channel.
type ChannelUser struct {
	UserID        string
	DisplayName   string
	RoomID        string
	JoinedAt      time.Time
	Speaking      bool
	Muted         bool
	VideoEnabled  bool
	ScreenSharing bool
	Streams       map[string]MediaStream
}

func (u *ChannelUser) clone() ChannelUser {
	cp := *u
	cp.Streams = make(map[string]MediaStream, len(u.Streams))
	for id, s := range u.Streams {
		cp.Streams[id] = s
	}
	return cp
}

// Broadcast is the single shared external media feed of a room.
type Broadcast struct {
	Type          MediaType
	MediaID       string
	BroadcasterID string
	StartedAt     time.Time
	Viewers       map[string]struct{}
}

func (b *Broadcast) clone() Broadcast {
	cp := *b
	cp.Viewers = make(map[string]struct{}, len(b.Viewers))
	for id := range b.Viewers {
		cp.Viewers[id] = struct{}{}
	}
	return cp
}

// StatusUpdate is a partial member-status change; nil fields are untouched.
type StatusUpdate struct {
	Speaking      *bool
	Muted         *bool
	VideoEnabled  *bool
	ScreenSharing *bool
}
