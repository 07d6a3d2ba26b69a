package gateway

import (
	"encoding/json"

	"github.com/go-playground/validator/v10"

	"github.com/openquill/voxsignal/internal/channel"
	"github.com/openquill/voxsignal/internal/errors"
	"github.com/openquill/voxsignal/internal/signaling"
	"github.com/openquill/voxsignal/internal/validation"
)

const (
	ErrUnknownEvent = errors.Code("gateway: unknown event")
	ErrInvalidData  = errors.Code("gateway: invalid event data")
	ErrRateLimited  = errors.Code("gateway: rate limited")
)

// Inbound events accepted from clients.
const (
	EventJoinChannel    = "join_channel"
	EventLeaveChannel   = "leave_channel"
	EventStreamUpdate   = "stream_update"
	EventStartBroadcast = "start_broadcast"
	EventStopBroadcast  = "stop_broadcast"
	EventStatusUpdate   = "status_update"
	EventOffer          = "offer"
	EventAnswer         = "answer"
	EventICECandidate   = "ice_candidate"

	EventError = "error"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	validation.MustRegister(v)
	return v
}

// Envelope is the tagged-union wire format, both directions.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type inboundEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type roomData struct {
	RoomID string `json:"room_id" validate:"required,voxid"`
}

type streamUpdateData struct {
	RoomID    string `json:"room_id" validate:"required,voxid"`
	StreamID  string `json:"stream_id" validate:"required,voxid"`
	MediaType string `json:"media_type" validate:"required,oneof=audio video screen"`
	Active    bool   `json:"active"`
}

type startBroadcastData struct {
	RoomID    string `json:"room_id" validate:"required,voxid"`
	MediaType string `json:"media_type" validate:"required,oneof=spotify youtube"`
	MediaID   string `json:"media_id" validate:"required,max=256"`
}

type statusUpdateData struct {
	RoomID       string `json:"room_id" validate:"required,voxid"`
	Speaking     *bool  `json:"speaking"`
	Muted        *bool  `json:"muted"`
	VideoEnabled *bool  `json:"video_enabled"`
	ScreenShare  *bool  `json:"screen_share"`
}

type relayData struct {
	RoomID       string          `json:"room_id" validate:"required,voxid"`
	TargetUserID string          `json:"target_user_id" validate:"required,voxid"`
	Payload      json.RawMessage `json:"payload" validate:"required"`
}

type errorData struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}

// EventSink receives parsed client events. *signaling.Broker is the
// production implementation.
type EventSink interface {
	OnJoin(sess signaling.Session, roomID string) error
	OnLeave(sess signaling.Session, roomID string) error
	OnDisconnect(sess signaling.Session)
	OnStreamUpdate(sess signaling.Session, roomID, streamID string, mediaType channel.MediaType, active bool) error
	OnStartBroadcast(sess signaling.Session, roomID string, mediaType channel.MediaType, mediaID string) error
	OnStopBroadcast(sess signaling.Session, roomID string) error
	OnStatusUpdate(sess signaling.Session, roomID string, upd channel.StatusUpdate) error
	OnOffer(sess signaling.Session, roomID, targetUserID string, payload json.RawMessage)
	OnAnswer(sess signaling.Session, roomID, targetUserID string, payload json.RawMessage)
	OnICECandidate(sess signaling.Session, roomID, targetUserID string, payload json.RawMessage)
}

func shouldBind(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return errors.New(ErrInvalidData, "data required")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrap(ErrInvalidData, err, "unmarshal event data")
	}
	if err := validate.Struct(v); err != nil {
		return errors.Wrap(ErrInvalidData, err, "validate event data")
	}
	return nil
}

func dispatch(sink EventSink, sess signaling.Session, env inboundEnvelope) error {
	switch env.Event {
	case EventJoinChannel:
		var data roomData
		if err := shouldBind(env.Data, &data); err != nil {
			return err
		}
		return sink.OnJoin(sess, data.RoomID)

	case EventLeaveChannel:
		var data roomData
		if err := shouldBind(env.Data, &data); err != nil {
			return err
		}
		return sink.OnLeave(sess, data.RoomID)

	case EventStreamUpdate:
		var data streamUpdateData
		if err := shouldBind(env.Data, &data); err != nil {
			return err
		}
		return sink.OnStreamUpdate(sess, data.RoomID, data.StreamID, channel.MediaType(data.MediaType), data.Active)

	case EventStartBroadcast:
		var data startBroadcastData
		if err := shouldBind(env.Data, &data); err != nil {
			return err
		}
		return sink.OnStartBroadcast(sess, data.RoomID, channel.MediaType(data.MediaType), data.MediaID)

	case EventStopBroadcast:
		var data roomData
		if err := shouldBind(env.Data, &data); err != nil {
			return err
		}
		return sink.OnStopBroadcast(sess, data.RoomID)

	case EventStatusUpdate:
		var data statusUpdateData
		if err := shouldBind(env.Data, &data); err != nil {
			return err
		}
		return sink.OnStatusUpdate(sess, data.RoomID, channel.StatusUpdate{
			Speaking:      data.Speaking,
			Muted:         data.Muted,
			VideoEnabled:  data.VideoEnabled,
			ScreenSharing: data.ScreenShare,
		})

	case EventOffer, EventAnswer, EventICECandidate:
		var data relayData
		if err := shouldBind(env.Data, &data); err != nil {
			return err
		}
		switch env.Event {
		case EventOffer:
			sink.OnOffer(sess, data.RoomID, data.TargetUserID, data.Payload)
		case EventAnswer:
			sink.OnAnswer(sess, data.RoomID, data.TargetUserID, data.Payload)
		case EventICECandidate:
			sink.OnICECandidate(sess, data.RoomID, data.TargetUserID, data.Payload)
		}
		return nil

	default:
		return errors.Newf(ErrUnknownEvent, "event %q", env.Event)
	}
}
