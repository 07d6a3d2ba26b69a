package gateway

import (
	"sync"

	"github.com/openquill/voxsignal/internal/log"
)

// subscriber is what the registry needs from a connection.
type subscriber interface {
	ID() string
	Send(event string, data any)
}

// Registry tracks which connections listen to which groups and fans
// events out to them. It is the gateway-side half of fan-out; the
// broker only sees group names.
type Registry struct {
	mu     sync.RWMutex
	groups map[string]map[string]subscriber
	conns  map[string]map[string]struct{}
	logger *log.Logger
}

func NewRegistry(logger *log.Logger) *Registry {
	return &Registry{
		groups: make(map[string]map[string]subscriber),
		conns:  make(map[string]map[string]struct{}),
		logger: logger,
	}
}

func (r *Registry) Subscribe(group string, conn subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.groups[group]
	if !ok {
		members = make(map[string]subscriber)
		r.groups[group] = members
	}
	members[conn.ID()] = conn

	groups, ok := r.conns[conn.ID()]
	if !ok {
		groups = make(map[string]struct{})
		r.conns[conn.ID()] = groups
	}
	groups[group] = struct{}{}
}

func (r *Registry) Unsubscribe(group string, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.unsubscribeLocked(group, connID)
}

func (r *Registry) unsubscribeLocked(group, connID string) {
	if members, ok := r.groups[group]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.groups, group)
		}
	}
	if groups, ok := r.conns[connID]; ok {
		delete(groups, group)
	}
}

// RemoveConn drops the connection from every group it joined.
func (r *Registry) RemoveConn(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for group := range r.conns[connID] {
		r.unsubscribeLocked(group, connID)
	}
	delete(r.conns, connID)
}

func (r *Registry) Groups(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.conns[connID]))
	for group := range r.conns[connID] {
		out = append(out, group)
	}
	return out
}

func (r *Registry) Publish(group, event string, data any) {
	r.PublishExcept(group, "", event, data)
}

func (r *Registry) PublishExcept(group, exceptID, event string, data any) {
	r.mu.RLock()
	targets := make([]subscriber, 0, len(r.groups[group]))
	for id, conn := range r.groups[group] {
		if id == exceptID {
			continue
		}
		targets = append(targets, conn)
	}
	r.mu.RUnlock()

	for _, conn := range targets {
		conn.Send(event, data)
	}
}
