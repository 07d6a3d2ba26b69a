package signaling

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openquill/voxsignal/internal/channel"
	"github.com/openquill/voxsignal/internal/errors"
	"github.com/openquill/voxsignal/internal/log"
	"github.com/openquill/voxsignal/internal/monitor"
)

type sentEvent struct {
	group    string
	exceptID string
	event    string
	data     any
}

type fakePublisher struct {
	events []sentEvent
}

func (p *fakePublisher) Publish(group, event string, data any) {
	p.events = append(p.events, sentEvent{group: group, event: event, data: data})
}

func (p *fakePublisher) PublishExcept(group, exceptID, event string, data any) {
	p.events = append(p.events, sentEvent{group: group, exceptID: exceptID, event: event, data: data})
}

func (p *fakePublisher) byEvent(event string) []sentEvent {
	var out []sentEvent
	for _, e := range p.events {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

type fakeSession struct {
	id          string
	userID      string
	displayName string
	groups      map[string]struct{}
	sent        []sentEvent
}

func newFakeSession(id, userID string) *fakeSession {
	return &fakeSession{
		id:          id,
		userID:      userID,
		displayName: "name-" + userID,
		groups:      make(map[string]struct{}),
	}
}

func (s *fakeSession) ID() string          { return s.id }
func (s *fakeSession) UserID() string      { return s.userID }
func (s *fakeSession) DisplayName() string { return s.displayName }

func (s *fakeSession) Send(event string, data any) {
	s.sent = append(s.sent, sentEvent{event: event, data: data})
}

func (s *fakeSession) Subscribe(group string)   { s.groups[group] = struct{}{} }
func (s *fakeSession) Unsubscribe(group string) { delete(s.groups, group) }

func (s *fakeSession) Groups() []string {
	out := make([]string, 0, len(s.groups))
	for g := range s.groups {
		out = append(out, g)
	}
	return out
}

type brokerFixture struct {
	broker  *Broker
	manager *channel.Manager
	monitor *monitor.Monitor
	pub     *fakePublisher
}

func newBrokerFixture(t *testing.T) *brokerFixture {
	logger := log.NewTest(t)
	manager := channel.NewManager(logger.Module("manager"))
	mon := monitor.New(monitor.Config{}, logger.Module("monitor"))
	pub := &fakePublisher{}

	issuer := NewCredentialIssuer(Config{TURNSecret: "test-secret"})
	broker := NewBroker(manager, mon, issuer, pub, logger.Module("broker"))

	return &brokerFixture{
		broker:  broker,
		manager: manager,
		monitor: mon,
		pub:     pub,
	}
}

func TestBroker_OnJoin(t *testing.T) {
	f := newBrokerFixture(t)
	f.manager.CreateChannel("camp-1", 2)

	s1 := newFakeSession("c1", "u1")
	require.NoError(t, f.broker.OnJoin(s1, "camp-1"))

	assert.Contains(t, s1.groups, "media_camp-1")

	// joiner gets a roster snapshot, peers get the join event
	require.Len(t, s1.sent, 1)
	assert.Equal(t, EventChannelJoined, s1.sent[0].event)

	joins := f.pub.byEvent(EventUserJoined)
	require.Len(t, joins, 1)
	assert.Equal(t, "media_camp-1", joins[0].group)
	assert.Equal(t, "c1", joins[0].exceptID)

	report, ok := f.monitor.ChannelReport("camp-1")
	require.True(t, ok)
	assert.Equal(t, 1, report.CurrentUsers)
}

func TestBroker_OnJoinUnknownChannel(t *testing.T) {
	f := newBrokerFixture(t)

	err := f.broker.OnJoin(newFakeSession("c1", "u1"), "nope")
	assert.True(t, errors.Is(err, ErrUnknownChannel))
}

func TestBroker_OnJoinRejoinDoesNotDoubleCount(t *testing.T) {
	f := newBrokerFixture(t)
	f.manager.CreateChannel("camp-1", 2)

	s1 := newFakeSession("c1", "u1")
	require.NoError(t, f.broker.OnJoin(s1, "camp-1"))
	require.NoError(t, f.broker.OnJoin(s1, "camp-1"))

	assert.Len(t, f.pub.byEvent(EventUserJoined), 1)

	report, _ := f.monitor.ChannelReport("camp-1")
	assert.Equal(t, 1, report.CurrentUsers)
	assert.Equal(t, int64(1), report.TotalJoins)
}

func TestBroker_OnJoinFullChannel(t *testing.T) {
	f := newBrokerFixture(t)
	f.manager.CreateChannel("camp-1", 2)

	require.NoError(t, f.broker.OnJoin(newFakeSession("c1", "u1"), "camp-1"))
	require.NoError(t, f.broker.OnJoin(newFakeSession("c2", "u2"), "camp-1"))

	s3 := newFakeSession("c3", "u3")
	err := f.broker.OnJoin(s3, "camp-1")
	assert.True(t, errors.Is(err, channel.ErrChannelFull))
	assert.NotContains(t, s3.groups, "media_camp-1")

	report, _ := f.monitor.ChannelReport("camp-1")
	assert.Equal(t, 2, report.CurrentUsers)
	assert.Equal(t, 2, report.PeakUsers)
}

func TestBroker_OnLeave(t *testing.T) {
	f := newBrokerFixture(t)
	f.manager.CreateChannel("camp-1", 5)

	s1 := newFakeSession("c1", "u1")
	require.NoError(t, f.broker.OnJoin(s1, "camp-1"))
	require.NoError(t, f.broker.OnLeave(s1, "camp-1"))

	assert.NotContains(t, s1.groups, "media_camp-1")
	assert.Len(t, f.pub.byEvent(EventUserLeft), 1)

	report, _ := f.monitor.ChannelReport("camp-1")
	assert.Equal(t, 0, report.CurrentUsers)

	err := f.broker.OnLeave(s1, "camp-1")
	assert.True(t, errors.Is(err, ErrNotInChannel))
}

func TestBroker_OnLeaveDropsDerivedGroups(t *testing.T) {
	f := newBrokerFixture(t)
	f.manager.CreateChannel("camp-1", 5)

	s1 := newFakeSession("c1", "u1")
	require.NoError(t, f.broker.OnJoin(s1, "camp-1"))
	s1.Subscribe(MediaGroup("camp-1") + ":screen")
	s1.Subscribe(UserGroup("u1"))

	require.NoError(t, f.broker.OnLeave(s1, "camp-1"))

	assert.NotContains(t, s1.groups, "media_camp-1")
	assert.NotContains(t, s1.groups, "media_camp-1:screen")
	assert.Contains(t, s1.groups, "user_u1")
}

func TestBroker_OnDisconnectCleansUp(t *testing.T) {
	f := newBrokerFixture(t)
	f.manager.CreateChannel("camp-1", 5)
	f.manager.CreateChannel("camp-2", 5)

	s1 := newFakeSession("c1", "u1")
	s1.Subscribe(UserGroup("u1"))
	require.NoError(t, f.broker.OnJoin(s1, "camp-1"))
	require.NoError(t, f.broker.OnJoin(s1, "camp-2"))

	f.broker.OnDisconnect(s1)

	for _, room := range []string{"camp-1", "camp-2"} {
		ch, _ := f.manager.GetChannel(room)
		assert.False(t, ch.HasUser("u1"))

		report, _ := f.monitor.ChannelReport(room)
		assert.Equal(t, 0, report.CurrentUsers)
		assert.Equal(t, int64(1), report.ConnectionIssues)
		assert.Equal(t, int64(1), report.Users["u1"].ConnectionDrops)
	}

	// the personal group stays, only media groups are cleaned
	assert.Contains(t, s1.groups, "user_u1")
}

func TestBroker_OnStreamUpdate(t *testing.T) {
	f := newBrokerFixture(t)
	f.manager.CreateChannel("camp-1", 5)

	s1 := newFakeSession("c1", "u1")
	require.NoError(t, f.broker.OnJoin(s1, "camp-1"))

	require.NoError(t, f.broker.OnStreamUpdate(s1, "camp-1", "s1", channel.MediaVideo, true))

	updates := f.pub.byEvent(EventStreamUpdated)
	require.Len(t, updates, 1)
	payload := updates[0].data.(StreamPayload)
	assert.Equal(t, "s1", payload.StreamID)
	assert.True(t, payload.Active)

	require.NoError(t, f.broker.OnStreamUpdate(s1, "camp-1", "s1", channel.MediaVideo, false))
	updates = f.pub.byEvent(EventStreamUpdated)
	require.Len(t, updates, 2)
	assert.False(t, updates[1].data.(StreamPayload).Active)

	err := f.broker.OnStreamUpdate(newFakeSession("c2", "ghost"), "camp-1", "s2", channel.MediaAudio, true)
	assert.True(t, errors.Is(err, ErrNotInChannel))
}

func TestBroker_Broadcast(t *testing.T) {
	f := newBrokerFixture(t)
	f.manager.CreateChannel("camp-1", 5)

	s1 := newFakeSession("c1", "u1")
	require.NoError(t, f.broker.OnJoin(s1, "camp-1"))

	err := f.broker.OnStartBroadcast(s1, "camp-1", channel.MediaAudio, "m1")
	assert.True(t, errors.Is(err, ErrNotInChannel))
	assert.Empty(t, f.pub.byEvent(EventBroadcastStarted))

	require.NoError(t, f.broker.OnStartBroadcast(s1, "camp-1", channel.MediaSpotify, "track-1"))

	started := f.pub.byEvent(EventBroadcastStarted)
	require.Len(t, started, 1)
	payload := started[0].data.(BroadcastPayload)
	assert.Equal(t, "u1", payload.BroadcasterID)
	assert.Equal(t, "track-1", payload.MediaID)
	// broadcast events reach everyone including the broadcaster
	assert.Empty(t, started[0].exceptID)

	require.NoError(t, f.broker.OnStopBroadcast(s1, "camp-1"))
	assert.Len(t, f.pub.byEvent(EventBroadcastStopped), 1)
}

func TestBroker_OnStatusUpdate(t *testing.T) {
	f := newBrokerFixture(t)
	f.manager.CreateChannel("camp-1", 5)

	s1 := newFakeSession("c1", "u1")
	require.NoError(t, f.broker.OnJoin(s1, "camp-1"))

	speaking := true
	require.NoError(t, f.broker.OnStatusUpdate(s1, "camp-1", channel.StatusUpdate{Speaking: &speaking}))

	updates := f.pub.byEvent(EventUserStatusUpdated)
	require.Len(t, updates, 1)
	assert.Equal(t, "c1", updates[0].exceptID)

	ch, _ := f.manager.GetChannel("camp-1")
	u, _ := ch.User("u1")
	assert.True(t, u.Speaking)

	report, _ := f.monitor.ChannelReport("camp-1")
	assert.True(t, report.Users["u1"].Speaking)
}

func TestBroker_Relay(t *testing.T) {
	f := newBrokerFixture(t)

	s1 := newFakeSession("c1", "u1")
	sdp := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)

	f.broker.OnOffer(s1, "camp-1", "u2", sdp)
	f.broker.OnAnswer(s1, "camp-1", "u1", json.RawMessage(`{}`))
	f.broker.OnICECandidate(s1, "camp-1", "u2", json.RawMessage(`{}`))

	offers := f.pub.byEvent(EventOffer)
	require.Len(t, offers, 1)
	assert.Equal(t, "user_u2", offers[0].group)

	payload := offers[0].data.(RelayPayload)
	assert.Equal(t, "u1", payload.FromUserID)
	assert.Equal(t, "camp-1", payload.RoomID)
	assert.JSONEq(t, string(sdp), string(payload.Payload))

	require.Len(t, f.pub.byEvent(EventAnswer), 1)
	require.Len(t, f.pub.byEvent(EventICECandidate), 1)
}

func TestRoomFromMediaGroup(t *testing.T) {
	room, ok := RoomFromMediaGroup("media_camp-1")
	assert.True(t, ok)
	assert.Equal(t, "camp-1", room)

	_, ok = RoomFromMediaGroup("user_u1")
	assert.False(t, ok)
}
