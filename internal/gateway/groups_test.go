package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openquill/voxsignal/internal/log"
)

type fakeSub struct {
	id     string
	events []Envelope
}

func (f *fakeSub) ID() string { return f.id }

func (f *fakeSub) Send(event string, data any) {
	f.events = append(f.events, Envelope{Event: event, Data: data})
}

func TestRegistry_PublishReachesGroupMembers(t *testing.T) {
	r := NewRegistry(log.NewTest(t))

	a := &fakeSub{id: "a"}
	b := &fakeSub{id: "b"}
	c := &fakeSub{id: "c"}

	r.Subscribe("media_camp-1", a)
	r.Subscribe("media_camp-1", b)
	r.Subscribe("media_camp-2", c)

	r.Publish("media_camp-1", "ping", nil)

	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)
	assert.Empty(t, c.events)
}

func TestRegistry_PublishExcept(t *testing.T) {
	r := NewRegistry(log.NewTest(t))

	a := &fakeSub{id: "a"}
	b := &fakeSub{id: "b"}
	r.Subscribe("g", a)
	r.Subscribe("g", b)

	r.PublishExcept("g", "a", "ping", nil)

	assert.Empty(t, a.events)
	assert.Len(t, b.events, 1)
}

func TestRegistry_PublishUnknownGroup(t *testing.T) {
	r := NewRegistry(log.NewTest(t))
	r.Publish("nope", "ping", nil)
}

func TestRegistry_Unsubscribe(t *testing.T) {
	r := NewRegistry(log.NewTest(t))

	a := &fakeSub{id: "a"}
	r.Subscribe("g1", a)
	r.Subscribe("g2", a)

	r.Unsubscribe("g1", "a")
	assert.ElementsMatch(t, []string{"g2"}, r.Groups("a"))

	r.Publish("g1", "ping", nil)
	assert.Empty(t, a.events)
}

func TestRegistry_RemoveConn(t *testing.T) {
	r := NewRegistry(log.NewTest(t))

	a := &fakeSub{id: "a"}
	b := &fakeSub{id: "b"}
	r.Subscribe("g1", a)
	r.Subscribe("g2", a)
	r.Subscribe("g1", b)

	r.RemoveConn("a")

	assert.Empty(t, r.Groups("a"))
	r.Publish("g1", "ping", nil)
	r.Publish("g2", "ping", nil)
	assert.Empty(t, a.events)
	assert.Len(t, b.events, 1)
}
