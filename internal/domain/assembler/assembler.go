// Package assembler implements the batch assembler (C5): projects a queued
// batch into the structured LLM input and maintains each conversation's
// bounded in-memory history.
package assembler

import (
	"strings"
	"sync"
	"time"

	"github.com/relaywing/mediator/internal/domain/entity"
)

const historyCap = 100
const recentHistoryLimit = 50

// HistoryEntry is one record in a conversation's bounded ring and one entry
// of structuredContext's recentHistory/queueMessages arrays.
type HistoryEntry struct {
	MessageID  string    `json:"messageId"`
	Content    string    `json:"content"`
	SenderName string    `json:"senderName"`
	SenderID   string    `json:"senderId"`
	Timestamp  time.Time `json:"timestamp"`
	Role       string    `json:"role"` // "assistant" or "user"
}

// Summary is structuredContext.summary.
type Summary struct {
	MessageCount    int     `json:"messageCount"`
	UserCount       int     `json:"userCount"`
	TimespanSeconds float64 `json:"timespanSeconds"`
	HasHighPriority bool    `json:"hasHighPriority"`
}

// StructuredContext is the JSON-shaped object C2 serializes into its prompt.
type StructuredContext struct {
	Summary       Summary        `json:"summary"`
	QueueMessages []HistoryEntry `json:"queueMessages"`
	RecentHistory []HistoryEntry `json:"recentHistory"`
}

// Assembled is the full output of Assemble: the chosen main content plus
// the structured context to hand to the LLM client.
type Assembled struct {
	MainContent string
	Context     StructuredContext
}

// Assembler holds per-conversation bounded history rings.
type Assembler struct {
	mu      sync.Mutex
	history map[string][]HistoryEntry
	botID   string
}

// New constructs an Assembler. botID is compared case-insensitively against
// each message's SenderID to derive the assistant/user role.
func New(botID string) *Assembler {
	return &Assembler{
		history: make(map[string][]HistoryEntry),
		botID:   botID,
	}
}

// Assemble projects a batch snapshot into the structured LLM input.
// conversationID selects the history ring recentHistory is read from; the
// caller passes the batch's contextId (all messages in a batch share it,
// and for simple deployments it equals conversationId).
func (a *Assembler) Assemble(conversationID string, batch []entity.QueuedMessage) Assembled {
	mainContent := lastHighPriorityOrLastContent(batch)

	queueMessages := make([]HistoryEntry, 0, len(batch))
	var highPriority bool
	userSet := make(map[string]bool)
	for _, m := range batch {
		queueMessages = append(queueMessages, a.toEntry(m))
		if m.IsHighPriority {
			highPriority = true
		}
		userSet[m.SenderID] = true
	}

	var timespan float64
	if len(batch) > 0 {
		timespan = batch[len(batch)-1].ReceivedAt.Sub(batch[0].ReceivedAt).Seconds()
	}

	a.mu.Lock()
	recent := append([]HistoryEntry(nil), a.history[conversationID]...)
	a.mu.Unlock()
	if len(recent) > recentHistoryLimit {
		recent = recent[len(recent)-recentHistoryLimit:]
	}

	return Assembled{
		MainContent: mainContent,
		Context: StructuredContext{
			Summary: Summary{
				MessageCount:    len(batch),
				UserCount:       len(userSet),
				TimespanSeconds: timespan,
				HasHighPriority: highPriority,
			},
			QueueMessages: queueMessages,
			RecentHistory: recent,
		},
	}
}

// CommitBatch appends every message in the batch to the bounded history
// ring for conversationID.
func (a *Assembler) CommitBatch(conversationID string, batch []entity.QueuedMessage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, m := range batch {
		a.appendLocked(conversationID, a.toEntry(m))
	}
}

// CommitReply appends the final chosen reply text as an assistant-role
// history entry.
func (a *Assembler) CommitReply(conversationID, content string, at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.appendLocked(conversationID, HistoryEntry{
		Content:   content,
		SenderID:  a.botID,
		Timestamp: at,
		Role:      "assistant",
	})
}

func (a *Assembler) appendLocked(conversationID string, e HistoryEntry) {
	ring := a.history[conversationID]
	ring = append(ring, e)
	if len(ring) > historyCap {
		ring = ring[len(ring)-historyCap:]
	}
	a.history[conversationID] = ring
}

func (a *Assembler) toEntry(m entity.QueuedMessage) HistoryEntry {
	role := "user"
	if strings.EqualFold(m.SenderID, a.botID) {
		role = "assistant"
	}
	return HistoryEntry{
		MessageID:  m.ID,
		Content:    m.Content,
		SenderName: m.SenderDisplayName,
		SenderID:   m.SenderID,
		Timestamp:  m.ReceivedAt,
		Role:       role,
	}
}

func lastHighPriorityOrLastContent(batch []entity.QueuedMessage) string {
	if len(batch) == 0 {
		return ""
	}
	for i := len(batch) - 1; i >= 0; i-- {
		if batch[i].IsHighPriority {
			return batch[i].Content
		}
	}
	return batch[len(batch)-1].Content
}
