package services

import (
	"context"
	"sync"

	"github.com/skillup-labs/skillup-live/internal/push"
)

type busEvent struct {
	Room  string
	Event string
	Data  any
}

// recordingBus captures emissions for assertions. Safe for concurrent use
// because lifecycle fanout runs detached.
type recordingBus struct {
	mu     sync.Mutex
	events []busEvent
}

func (b *recordingBus) EmitToAll(event string, data any) { b.record("all", event, data) }

func (b *recordingBus) EmitToAdmins(event string, data any) { b.record("admins", event, data) }

func (b *recordingBus) EmitToSession(sessionID, event string, data any) {
	b.record("session:"+sessionID, event, data)
}

func (b *recordingBus) EmitToUser(userID, event string, data any) {
	b.record("user:"+userID, event, data)
}

func (b *recordingBus) record(room, event string, data any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, busEvent{Room: room, Event: event, Data: data})
}

func (b *recordingBus) snapshot() []busEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]busEvent(nil), b.events...)
}

func (b *recordingBus) has(room, event string) bool {
	for _, e := range b.snapshot() {
		if e.Room == room && e.Event == event {
			return true
		}
	}
	return false
}

func (b *recordingBus) count(room, event string) int {
	var n int
	for _, e := range b.snapshot() {
		if e.Room == room && e.Event == event {
			n++
		}
	}
	return n
}

// recordingNotifier captures lifecycle announcements.
type recordingNotifier struct {
	mu    sync.Mutex
	sends []SendNotificationInput
}

func (n *recordingNotifier) Send(_ context.Context, input SendNotificationInput) (*SendResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sends = append(n.sends, input)
	return &SendResult{Status: "sent"}, nil
}

func (n *recordingNotifier) snapshot() []SendNotificationInput {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]SendNotificationInput(nil), n.sends...)
}

// fakeProvider returns scripted per-token outcomes, or a provider-level error.
type fakeProvider struct {
	mu       sync.Mutex
	err      error
	failWith map[string]error
	calls    [][]string
	lastMsg  push.Message
}

func (p *fakeProvider) SendMulticast(_ context.Context, msg push.Message, tokens []string) ([]push.Outcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls = append(p.calls, append([]string(nil), tokens...))
	p.lastMsg = msg
	if p.err != nil {
		return nil, p.err
	}

	outcomes := make([]push.Outcome, len(tokens))
	for i, token := range tokens {
		outcomes[i] = push.Outcome{Token: token, Err: p.failWith[token]}
	}
	return outcomes, nil
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// recordingRevoker captures credential revocations.
type recordingRevoker struct {
	mu          sync.Mutex
	deviceCalls []string
	userCalls   []string
	keeps       [][]string
}

func (r *recordingRevoker) RevokeDevice(_ context.Context, deviceSessionID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deviceCalls = append(r.deviceCalls, deviceSessionID)
	return 1, nil
}

func (r *recordingRevoker) RevokeUser(_ context.Context, userID string, keep ...string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.userCalls = append(r.userCalls, userID)
	r.keeps = append(r.keeps, append([]string(nil), keep...))
	return 1, nil
}
