package channel

import (
	"sync"
	"time"

	"github.com/openquill/voxsignal/internal/errors"
)

// MediaChannel holds the authoritative membership and stream state for one
// real-time room. All mutations serialize through a single mutex; callers
// holding the Manager registry lock must not call into a channel (lock order
// is registry before channel, and the registry lock is released first).
type MediaChannel struct {
	roomID       string
	maxOccupancy int
	createdAt    time.Time

	mu        sync.Mutex
	users     map[string]*ChannelUser
	broadcast *Broadcast
}

func NewMediaChannel(roomID string, maxOccupancy int) *MediaChannel {
	return &MediaChannel{
		roomID:       roomID,
		maxOccupancy: maxOccupancy,
		createdAt:    time.Now(),
		users:        make(map[string]*ChannelUser),
	}
}

func (c *MediaChannel) RoomID() string { return c.roomID }

func (c *MediaChannel) MaxOccupancy() int { return c.maxOccupancy }

func (c *MediaChannel) CreatedAt() time.Time { return c.createdAt }

// AddUser adds a member. Re-joining is a no-op returning the existing state
// with created=false. A join that would exceed max occupancy fails with
// ErrChannelFull and mutates nothing.
func (c *MediaChannel) AddUser(userID, displayName string) (ChannelUser, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if u, ok := c.users[userID]; ok {
		return u.clone(), false, nil
	}
	if len(c.users) >= c.maxOccupancy {
		return ChannelUser{}, false, errors.Newf(ErrChannelFull,
			"room %s is at capacity (%d)", c.roomID, c.maxOccupancy)
	}

	u := &ChannelUser{
		UserID:      userID,
		DisplayName: displayName,
		RoomID:      c.roomID,
		JoinedAt:    time.Now(),
		Streams:     make(map[string]MediaStream),
	}
	c.users[userID] = u
	return u.clone(), true, nil
}

// RemoveUser removes a member along with every stream they own. An active
// broadcast owned by the departing user is deliberately left running; only
// StopMediaBroadcast clears it.
func (c *MediaChannel) RemoveUser(userID string) (ChannelUser, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	u, ok := c.users[userID]
	if !ok {
		return ChannelUser{}, false
	}
	delete(c.users, userID)
	if c.broadcast != nil {
		delete(c.broadcast.Viewers, userID)
	}
	return u.clone(), true
}

// AddUserStream registers a stream for a member. An existing stream with the
// same id is overwritten silently, last writer wins.
func (c *MediaChannel) AddUserStream(userID, streamID string, mediaType MediaType) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	u, ok := c.users[userID]
	if !ok {
		return false
	}
	u.Streams[streamID] = MediaStream{
		StreamID: streamID,
		Type:     mediaType,
		OwnerID:  userID,
		Enabled:  true,
	}
	return true
}

func (c *MediaChannel) RemoveUserStream(userID, streamID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	u, ok := c.users[userID]
	if !ok {
		return false
	}
	if _, ok := u.Streams[streamID]; !ok {
		return false
	}
	delete(u.Streams, streamID)
	return true
}

// StartMediaBroadcast sets the room's shared feed. Non-broadcastable types
// fail and leave any running broadcast untouched. There is no ownership
// check: any member may replace the current broadcast (last writer wins).
func (c *MediaChannel) StartMediaBroadcast(userID string, mediaType MediaType, mediaID string) bool {
	if !mediaType.Broadcastable() {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.broadcast = &Broadcast{
		Type:          mediaType,
		MediaID:       mediaID,
		BroadcasterID: userID,
		StartedAt:     time.Now(),
		Viewers:       map[string]struct{}{userID: {}},
	}
	return true
}

// StopMediaBroadcast clears the active broadcast. Idempotent.
func (c *MediaChannel) StopMediaBroadcast() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.broadcast = nil
}

// JoinBroadcast marks a member as a viewer of the active broadcast.
func (c *MediaChannel) JoinBroadcast(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broadcast == nil {
		return false
	}
	if _, ok := c.users[userID]; !ok {
		return false
	}
	c.broadcast.Viewers[userID] = struct{}{}
	return true
}

// UpdateUserStatus applies a partial status change; only non-nil fields
// are touched.
func (c *MediaChannel) UpdateUserStatus(userID string, upd StatusUpdate) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	u, ok := c.users[userID]
	if !ok {
		return false
	}
	if upd.Speaking != nil {
		u.Speaking = *upd.Speaking
	}
	if upd.Muted != nil {
		u.Muted = *upd.Muted
	}
	if upd.VideoEnabled != nil {
		u.VideoEnabled = *upd.VideoEnabled
	}
	if upd.ScreenSharing != nil {
		u.ScreenSharing = *upd.ScreenSharing
	}
	return true
}

func (c *MediaChannel) HasUser(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.users[userID]
	return ok
}

func (c *MediaChannel) User(userID string) (ChannelUser, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	u, ok := c.users[userID]
	if !ok {
		return ChannelUser{}, false
	}
	return u.clone(), true
}

// Users returns a point-in-time copy of the membership.
func (c *MediaChannel) Users() []ChannelUser {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]ChannelUser, 0, len(c.users))
	for _, u := range c.users {
		out = append(out, u.clone())
	}
	return out
}

func (c *MediaChannel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.users)
}

func (c *MediaChannel) ActiveBroadcast() (Broadcast, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broadcast == nil {
		return Broadcast{}, false
	}
	return c.broadcast.clone(), true
}
