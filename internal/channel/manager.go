package channel

import (
	"sync"

	"github.com/openquill/voxsignal/internal/log"
)

// DefaultMaxOccupancy is the per-room member cap when none is requested.
const DefaultMaxOccupancy = 20

// Manager is the process-wide registry of media channels, keyed by room id.
// The registry mutex guards only insert/lookup/remove of whole channels;
// per-channel state has its own lock.
type Manager struct {
	mu       sync.RWMutex
	channels map[string]*MediaChannel
	logger   *log.Logger
}

func NewManager(logger *log.Logger) *Manager {
	return &Manager{
		channels: make(map[string]*MediaChannel),
		logger:   logger,
	}
}

// CreateChannel creates the channel for a room, or returns the existing one.
// A different maxOccupancy on a repeat call is ignored. maxOccupancy <= 0
// selects DefaultMaxOccupancy.
func (m *Manager) CreateChannel(roomID string, maxOccupancy int) *MediaChannel {
	if maxOccupancy <= 0 {
		maxOccupancy = DefaultMaxOccupancy
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if ch, ok := m.channels[roomID]; ok {
		return ch
	}

	ch := NewMediaChannel(roomID, maxOccupancy)
	m.channels[roomID] = ch
	m.logger.Info("Channel created",
		log.String("roomId", roomID),
		log.Int("maxOccupancy", maxOccupancy))
	return ch
}

func (m *Manager) GetChannel(roomID string) (*MediaChannel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[roomID]
	return ch, ok
}

// RemoveChannel drops a room from the registry. Rooms are never reaped
// automatically on empty; removal is always an explicit call.
func (m *Manager) RemoveChannel(roomID string) (*MediaChannel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.channels[roomID]
	if !ok {
		return nil, false
	}
	delete(m.channels, roomID)
	m.logger.Info("Channel removed", log.String("roomId", roomID))
	return ch, true
}

// UserChannels lists every room the user is currently a member of.
// Linear scan over all channels; fine at tens-to-hundreds of rooms.
func (m *Manager) UserChannels(userID string) []string {
	m.mu.RLock()
	chans := make([]*MediaChannel, 0, len(m.channels))
	for _, ch := range m.channels {
		chans = append(chans, ch)
	}
	m.mu.RUnlock()

	var rooms []string
	for _, ch := range chans {
		if ch.HasUser(userID) {
			rooms = append(rooms, ch.RoomID())
		}
	}
	return rooms
}

func (m *Manager) Rooms() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rooms := make([]string, 0, len(m.channels))
	for roomID := range m.channels {
		rooms = append(rooms, roomID)
	}
	return rooms
}

// HandleStreamUpdate registers a stream in an existing room. Rooms are
// never auto-created on delegation.
func (m *Manager) HandleStreamUpdate(roomID, userID, streamID string, mediaType MediaType) bool {
	ch, ok := m.GetChannel(roomID)
	if !ok {
		return false
	}
	return ch.AddUserStream(userID, streamID, mediaType)
}

func (m *Manager) RemoveStream(roomID, userID, streamID string) bool {
	ch, ok := m.GetChannel(roomID)
	if !ok {
		return false
	}
	return ch.RemoveUserStream(userID, streamID)
}

func (m *Manager) StartBroadcast(roomID, userID string, mediaType MediaType, mediaID string) bool {
	ch, ok := m.GetChannel(roomID)
	if !ok {
		return false
	}
	return ch.StartMediaBroadcast(userID, mediaType, mediaID)
}

func (m *Manager) StopBroadcast(roomID string) bool {
	ch, ok := m.GetChannel(roomID)
	if !ok {
		return false
	}
	ch.StopMediaBroadcast()
	return true
}

func (m *Manager) UpdateUserStatus(roomID, userID string, upd StatusUpdate) bool {
	ch, ok := m.GetChannel(roomID)
	if !ok {
		return false
	}
	return ch.UpdateUserStatus(userID, upd)
}
