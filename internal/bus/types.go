package bus

import "time"

// InboundEvent is a platform webhook payload normalized by a channel
// adapter. The router consumes these; nothing platform-specific survives
// past this point.
type InboundEvent struct {
	EventID     string            `json:"event_id"`
	Channel     string            `json:"channel"`      // "telegram", "discord", "slack"
	PrincipalID string            `json:"principal_id"` // sender user id
	ScopeID     string            `json:"scope_id"`     // chat / channel / workspace id
	ThreadKey   string            `json:"thread_key,omitempty"`
	Mentioned   bool              `json:"mentioned"` // explicit @mention or DM
	FromBot     bool              `json:"from_bot"`  // any bot principal, our own included
	Broadcast   bool              `json:"broadcast"` // thread reply also surfaced outside the thread
	Text        string            `json:"text"`
	Timestamp   time.Time         `json:"timestamp"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// PrincipalKey derives the composite rate-limit key for the event's sender,
// scoped by channel so ids from different platforms never collide.
func (e InboundEvent) PrincipalKey() string {
	return e.Channel + ":" + e.PrincipalID
}

// ScopeKey derives the conversation-cache key. Threaded messages key on the
// thread so each thread keeps its own remote conversation; elsewhere the
// (principal, chat) pair is the conversation boundary.
func (e InboundEvent) ScopeKey() string {
	if e.ThreadKey != "" {
		return e.Channel + ":" + e.PrincipalID + ":" + e.ScopeID + ":" + e.ThreadKey
	}
	return e.Channel + ":" + e.PrincipalID + ":" + e.ScopeID
}

// OutboundMessage is a reply to be delivered by a channel adapter.
type OutboundMessage struct {
	Channel   string            `json:"channel"`
	ChatID    string            `json:"chat_id"`
	ThreadKey string            `json:"thread_key,omitempty"`
	Text      string            `json:"text"`
	Citations []string          `json:"citations,omitempty"`
	Starter   []string          `json:"starter,omitempty"` // starter questions, rendered instead of Text
	Metadata  map[string]string `json:"metadata,omitempty"`
}
