package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DatanoiseTV/personamcp/internal/chat"
	"github.com/DatanoiseTV/personamcp/internal/conversation"
	"github.com/DatanoiseTV/personamcp/internal/orgchart"
)

// ErrTooManySessions is returned when the session limit is reached.
var ErrTooManySessions = errors.New("maximum open sessions reached")

// ErrSessionNotFound is returned for unknown session or chart ids.
var ErrSessionNotFound = errors.New("session not found")

// Thread is the behavior shared by single and group chat sessions.
type Thread interface {
	ID() string
	Send(ctx context.Context, text string) (chat.Turn, error)
	Reset()
	Messages() []conversation.Message
	Busy() bool
	Title() string
	SetTitle(title string)
	Save(ctx context.Context) (conversation.Conversation, error)
	Export(now time.Time) (conversation.Transcript, error)
}

type openThread struct {
	thread       Thread
	openedAt     time.Time
	lastActivity time.Time
}

// SessionManager holds the open chat sessions and chart editors. Both live
// only in memory until saved.
type SessionManager struct {
	mu      sync.RWMutex
	chats   map[string]*openThread
	editors map[string]*orgchart.Editor
	max     int
	now     func() time.Time
}

// NewSessionManager creates a registry allowing up to max open sessions.
func NewSessionManager(max int) *SessionManager {
	if max <= 0 {
		max = DefaultMaxSessions
	}
	return &SessionManager{
		chats:   make(map[string]*openThread),
		editors: make(map[string]*orgchart.Editor),
		max:     max,
		now:     time.Now,
	}
}

func (sm *SessionManager) full() bool {
	return len(sm.chats)+len(sm.editors) >= sm.max
}

// OpenChat registers t and returns its session id.
func (sm *SessionManager) OpenChat(t Thread) (string, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.full() {
		return "", ErrTooManySessions
	}
	id := "chat-" + uuid.NewString()[:8]
	now := sm.now()
	sm.chats[id] = &openThread{thread: t, openedAt: now, lastActivity: now}
	return id, nil
}

// Chat returns the session with id and marks it active.
func (sm *SessionManager) Chat(id string) (Thread, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ot, ok := sm.chats[id]
	if !ok {
		return nil, fmt.Errorf("chat %q: %w", id, ErrSessionNotFound)
	}
	ot.lastActivity = sm.now()
	return ot.thread, nil
}

// CloseChat drops the session with id.
func (sm *SessionManager) CloseChat(id string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if _, ok := sm.chats[id]; !ok {
		return fmt.Errorf("chat %q: %w", id, ErrSessionNotFound)
	}
	delete(sm.chats, id)
	return nil
}

// ChatInfo describes an open chat session.
type ChatInfo struct {
	SessionID      string    `json:"sessionId"`
	ConversationID string    `json:"conversationId,omitempty"`
	Title          string    `json:"title"`
	Messages       int       `json:"messages"`
	Group          bool      `json:"group"`
	LastActivity   time.Time `json:"lastActivity"`
}

// Chats lists the open chat sessions.
func (sm *SessionManager) Chats() []ChatInfo {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	out := make([]ChatInfo, 0, len(sm.chats))
	for id, ot := range sm.chats {
		_, group := ot.thread.(*chat.GroupSession)
		out = append(out, ChatInfo{
			SessionID:      id,
			ConversationID: ot.thread.ID(),
			Title:          ot.thread.Title(),
			Messages:       len(ot.thread.Messages()),
			Group:          group,
			LastActivity:   ot.lastActivity,
		})
	}
	return out
}

// OpenEditor registers an editor for chartID. An editor already open for the
// chart is returned instead.
func (sm *SessionManager) OpenEditor(chartID string, open func() *orgchart.Editor) (*orgchart.Editor, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if e, ok := sm.editors[chartID]; ok {
		return e, nil
	}
	if sm.full() {
		return nil, ErrTooManySessions
	}
	e := open()
	sm.editors[chartID] = e
	return e, nil
}

// Editor returns the open editor for chartID.
func (sm *SessionManager) Editor(chartID string) (*orgchart.Editor, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	e, ok := sm.editors[chartID]
	if !ok {
		return nil, fmt.Errorf("chart %q is not open: %w", chartID, ErrSessionNotFound)
	}
	return e, nil
}

// CloseEditor discards the editor for chartID and any unsaved edits.
func (sm *SessionManager) CloseEditor(chartID string) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	_, ok := sm.editors[chartID]
	delete(sm.editors, chartID)
	return ok
}
