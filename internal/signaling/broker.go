package signaling

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/openquill/voxsignal/internal/channel"
	"github.com/openquill/voxsignal/internal/errors"
	"github.com/openquill/voxsignal/internal/log"
	"github.com/openquill/voxsignal/internal/monitor"
)

const (
	ErrUnknownChannel = errors.Code("signaling: unknown channel")
	ErrNotInChannel   = errors.Code("signaling: user not in channel")
)

const (
	mediaGroupPrefix = "media_"
	userGroupPrefix  = "user_"
)

// Outbound events fanned out to channel members.
const (
	EventChannelJoined     = "channel_joined"
	EventUserJoined        = "user_joined_channel"
	EventUserLeft          = "user_left_channel"
	EventStreamUpdated     = "stream_updated"
	EventBroadcastStarted  = "broadcast_started"
	EventBroadcastStopped  = "broadcast_stopped"
	EventUserStatusUpdated = "user_status_updated"
	EventOffer             = "offer"
	EventAnswer            = "answer"
	EventICECandidate      = "ice_candidate"
)

func MediaGroup(roomID string) string { return mediaGroupPrefix + roomID }

func UserGroup(userID string) string { return userGroupPrefix + userID }

// RoomFromMediaGroup extracts the room ID, false for non-media groups.
func RoomFromMediaGroup(group string) (string, bool) {
	if !strings.HasPrefix(group, mediaGroupPrefix) {
		return "", false
	}
	return strings.TrimPrefix(group, mediaGroupPrefix), true
}

// Session is one authenticated gateway connection.
type Session interface {
	ID() string
	UserID() string
	DisplayName() string
	Send(event string, data any)
	Subscribe(group string)
	Unsubscribe(group string)
	Groups() []string
}

// Publisher fans events out to every session subscribed to a group.
type Publisher interface {
	Publish(group, event string, data any)
	PublishExcept(group, exceptID, event string, data any)
}

type UserPayload struct {
	UserID       string    `json:"user_id"`
	DisplayName  string    `json:"display_name"`
	RoomID       string    `json:"room_id"`
	JoinedAt     time.Time `json:"joined_at"`
	Speaking     bool      `json:"speaking"`
	Muted        bool      `json:"muted"`
	VideoEnabled bool      `json:"video_enabled"`
	ScreenShare  bool      `json:"screen_share"`
}

type StreamPayload struct {
	RoomID    string `json:"room_id"`
	UserID    string `json:"user_id"`
	StreamID  string `json:"stream_id"`
	MediaType string `json:"media_type"`
	Active    bool   `json:"active"`
}

type BroadcastPayload struct {
	RoomID        string    `json:"room_id"`
	BroadcasterID string    `json:"broadcaster_id"`
	MediaType     string    `json:"media_type"`
	MediaID       string    `json:"media_id"`
	StartedAt     time.Time `json:"started_at"`
}

type StatusPayload struct {
	RoomID string               `json:"room_id"`
	UserID string               `json:"user_id"`
	Status channel.StatusUpdate `json:"status"`
}

type RelayPayload struct {
	FromUserID string          `json:"from_user_id"`
	RoomID     string          `json:"room_id"`
	Payload    json.RawMessage `json:"payload"`
}

func userPayload(u channel.ChannelUser) UserPayload {
	return UserPayload{
		UserID:       u.UserID,
		DisplayName:  u.DisplayName,
		RoomID:       u.RoomID,
		JoinedAt:     u.JoinedAt,
		Speaking:     u.Speaking,
		Muted:        u.Muted,
		VideoEnabled: u.VideoEnabled,
		ScreenShare:  u.ScreenSharing,
	}
}

// Broker ties the gateway's sessions to channel state: membership,
// stream fan-out and point-to-point SDP/ICE relay.
type Broker struct {
	manager *channel.Manager
	monitor *monitor.Monitor
	issuer  *CredentialIssuer
	pub     Publisher
	logger  *log.Logger
}

func NewBroker(
	manager *channel.Manager,
	mon *monitor.Monitor,
	issuer *CredentialIssuer,
	pub Publisher,
	logger *log.Logger,
) *Broker {
	return &Broker{
		manager: manager,
		monitor: mon,
		issuer:  issuer,
		pub:     pub,
		logger:  logger,
	}
}

func (b *Broker) OnJoin(sess Session, roomID string) error {
	ch, ok := b.manager.GetChannel(roomID)
	if !ok {
		return errors.Newf(ErrUnknownChannel, "room %s", roomID)
	}

	user, created, err := ch.AddUser(sess.UserID(), sess.DisplayName())
	if err != nil {
		joinRejections.Add(context.Background(), 1)
		return err
	}

	sess.Subscribe(MediaGroup(roomID))

	if created {
		b.monitor.RecordUserJoined(roomID, sess.UserID())
		b.pub.PublishExcept(MediaGroup(roomID), sess.ID(), EventUserJoined, userPayload(user))
		channelJoins.Add(context.Background(), 1)
	}

	// roster snapshot so the joiner can render the channel immediately
	users := ch.Users()
	roster := make([]UserPayload, 0, len(users))
	for _, u := range users {
		roster = append(roster, userPayload(u))
	}
	joined := map[string]any{
		"room_id": roomID,
		"users":   roster,
	}
	if bc, ok := ch.ActiveBroadcast(); ok {
		joined["broadcast"] = broadcastPayload(roomID, bc)
	}
	sess.Send(EventChannelJoined, joined)

	b.logger.Info("user joined channel",
		log.String("room_id", roomID),
		log.String("user_id", sess.UserID()),
		log.Bool("rejoin", !created))

	return nil
}

func (b *Broker) OnLeave(sess Session, roomID string) error {
	ch, ok := b.manager.GetChannel(roomID)
	if !ok {
		return errors.Newf(ErrUnknownChannel, "room %s", roomID)
	}

	user, ok := ch.RemoveUser(sess.UserID())
	// drop the room group and any sub-group derived from it
	for _, group := range sess.Groups() {
		if strings.HasPrefix(group, MediaGroup(roomID)) {
			sess.Unsubscribe(group)
		}
	}
	if !ok {
		return errors.New(ErrNotInChannel, "user not in channel")
	}

	b.monitor.RecordUserLeft(roomID, sess.UserID())
	b.pub.Publish(MediaGroup(roomID), EventUserLeft, userPayload(user))
	channelLeaves.Add(context.Background(), 1)

	b.logger.Info("user left channel",
		log.String("room_id", roomID),
		log.String("user_id", sess.UserID()))

	return nil
}

// OnDisconnect runs the leave path for every channel the session was
// still in, then flags the drop as a connection issue.
func (b *Broker) OnDisconnect(sess Session) {
	for _, group := range sess.Groups() {
		roomID, ok := RoomFromMediaGroup(group)
		if !ok {
			continue
		}
		if err := b.OnLeave(sess, roomID); err != nil {
			b.logger.Warn("cleanup leave failed",
				log.String("room_id", roomID),
				log.String("user_id", sess.UserID()),
				log.Error(err))
		}
		b.monitor.RecordConnectionIssue(roomID, sess.UserID())
	}
}

func (b *Broker) OnStreamUpdate(sess Session, roomID, streamID string, mediaType channel.MediaType, active bool) error {
	var ok bool
	if active {
		ok = b.manager.HandleStreamUpdate(roomID, sess.UserID(), streamID, mediaType)
	} else {
		ok = b.manager.RemoveStream(roomID, sess.UserID(), streamID)
	}
	if !ok {
		return errors.New(ErrNotInChannel, "user not in channel")
	}

	b.pub.PublishExcept(MediaGroup(roomID), sess.ID(), EventStreamUpdated, StreamPayload{
		RoomID:    roomID,
		UserID:    sess.UserID(),
		StreamID:  streamID,
		MediaType: string(mediaType),
		Active:    active,
	})
	return nil
}

func (b *Broker) OnStartBroadcast(sess Session, roomID string, mediaType channel.MediaType, mediaID string) error {
	if !b.manager.StartBroadcast(roomID, sess.UserID(), mediaType, mediaID) {
		return errors.Newf(ErrNotInChannel, "broadcast %s in room %s", mediaType, roomID)
	}

	ch, _ := b.manager.GetChannel(roomID)
	bc, ok := ch.ActiveBroadcast()
	if !ok {
		return errors.New(ErrUnknownChannel, "channel state missing")
	}

	b.pub.Publish(MediaGroup(roomID), EventBroadcastStarted, broadcastPayload(roomID, bc))
	broadcastStarts.Add(context.Background(), 1)

	b.logger.Info("broadcast started",
		log.String("room_id", roomID),
		log.String("broadcaster_id", sess.UserID()),
		log.String("media_type", string(mediaType)),
		log.String("media_id", mediaID))

	return nil
}

func (b *Broker) OnStopBroadcast(sess Session, roomID string) error {
	if !b.manager.StopBroadcast(roomID) {
		return errors.Newf(ErrUnknownChannel, "room %s", roomID)
	}

	b.pub.Publish(MediaGroup(roomID), EventBroadcastStopped, map[string]any{
		"room_id": roomID,
		"user_id": sess.UserID(),
	})
	return nil
}

func (b *Broker) OnStatusUpdate(sess Session, roomID string, upd channel.StatusUpdate) error {
	if !b.manager.UpdateUserStatus(roomID, sess.UserID(), upd) {
		return errors.New(ErrNotInChannel, "user not in channel")
	}

	if upd.Speaking != nil {
		b.monitor.RecordSpeakingState(roomID, sess.UserID(), *upd.Speaking)
	}

	b.pub.PublishExcept(MediaGroup(roomID), sess.ID(), EventUserStatusUpdated, StatusPayload{
		RoomID: roomID,
		UserID: sess.UserID(),
		Status: upd,
	})
	return nil
}

func (b *Broker) OnOffer(sess Session, roomID, targetUserID string, payload json.RawMessage) {
	b.relay(sess, roomID, targetUserID, EventOffer, payload)
}

func (b *Broker) OnAnswer(sess Session, roomID, targetUserID string, payload json.RawMessage) {
	b.relay(sess, roomID, targetUserID, EventAnswer, payload)
}

func (b *Broker) OnICECandidate(sess Session, roomID, targetUserID string, payload json.RawMessage) {
	b.relay(sess, roomID, targetUserID, EventICECandidate, payload)
}

// relay sends point-to-point so only the target's sessions see SDP
// and candidate blobs.
func (b *Broker) relay(sess Session, roomID, targetUserID, event string, payload json.RawMessage) {
	b.pub.Publish(UserGroup(targetUserID), event, RelayPayload{
		FromUserID: sess.UserID(),
		RoomID:     roomID,
		Payload:    payload,
	})
	relayedMessages.Add(context.Background(), 1)
}

func (b *Broker) IssueCredentials(userID string) (*Credentials, error) {
	return b.issuer.Issue(userID)
}

func broadcastPayload(roomID string, bc channel.Broadcast) BroadcastPayload {
	return BroadcastPayload{
		RoomID:        roomID,
		BroadcasterID: bc.BroadcasterID,
		MediaType:     string(bc.Type),
		MediaID:       bc.MediaID,
		StartedAt:     bc.StartedAt,
	}
}
