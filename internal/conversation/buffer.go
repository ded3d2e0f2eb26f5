// Package conversation stores multi-turn chat context and assembles it into
// a single plain-string prompt for the llama-server /completion endpoint.
//
// Prompts are rendered as alternating role-tagged blocks (ChatML markers by
// default) so chat-tuned models can distinguish speakers. The assembled
// string is always plain text, never a structured messages payload.
package conversation

import (
	"strings"
	"sync"
	"time"
)

// Role identifies the speaker of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single message in the conversation. Immutable once created.
type Turn struct {
	Role      Role
	Text      string
	Timestamp time.Time
}

// TagSet is the role-marker vocabulary used when rendering prompts. The
// markers are configurable but always internally consistent within one
// assembled prompt.
type TagSet struct {
	UserOpen      string
	AssistantOpen string
	Close         string
}

// ChatMLTags is the default marker vocabulary.
func ChatMLTags() TagSet {
	return TagSet{
		UserOpen:      "<|im_start|>user\n",
		AssistantOpen: "<|im_start|>assistant\n",
		Close:         "<|im_end|>\n",
	}
}

// Buffer is session-only conversation memory. It keeps completed
// user/assistant pairs, bounded by a pair cap and a character cap, and is
// never persisted across restarts.
//
// Writes happen only on the task-completion path (single writer); the
// RWMutex exists so concurrent readers always observe whole pairs.
type Buffer struct {
	mu       sync.RWMutex
	turns    []Turn
	maxTurns int
	maxChars int
	tags     TagSet
	clock    func() time.Time
}

// New constructs a Buffer. maxTurns is the number of prior pairs to keep
// (0 disables memory entirely); maxChars bounds the assembled prompt length.
func New(maxTurns, maxChars int, tags TagSet) *Buffer {
	if tags.UserOpen == "" || tags.AssistantOpen == "" || tags.Close == "" {
		tags = ChatMLTags()
	}
	return &Buffer{
		maxTurns: maxTurns,
		maxChars: maxChars,
		tags:     tags,
		clock:    time.Now,
	}
}

// AddUser appends a user turn.
func (b *Buffer) AddUser(text string) { b.add(RoleUser, text) }

// AddAssistant appends an assistant turn, completing the current pair.
func (b *Buffer) AddAssistant(text string) { b.add(RoleAssistant, text) }

func (b *Buffer) add(role Role, text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.maxTurns == 0 {
		return
	}
	b.turns = append(b.turns, Turn{Role: role, Text: text, Timestamp: b.clock()})
	// Drop whole pairs from the oldest end until within the pair cap.
	for b.pairCountLocked() > b.maxTurns {
		b.turns = b.turns[2:]
	}
}

// TurnCount reports the number of completed user/assistant pairs.
func (b *Buffer) TurnCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.pairCountLocked()
}

// pairCountLocked counts completed pairs: a user turn followed by an
// assistant turn. A trailing unanswered user turn is not a pair.
func (b *Buffer) pairCountLocked() int {
	n := 0
	for i := 0; i+1 < len(b.turns); i++ {
		if b.turns[i].Role == RoleUser && b.turns[i+1].Role == RoleAssistant {
			n++
			i++
		}
	}
	return n
}

// Clear empties all stored turns. Called when the user clears the chat
// thread or switches templates.
func (b *Buffer) Clear() {
	b.mu.Lock()
	b.turns = nil
	b.mu.Unlock()
}

// Turns returns an immutable snapshot of the stored turns.
func (b *Buffer) Turns() []Turn {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Turn, len(b.turns))
	copy(out, b.turns)
	return out
}

// Assemble renders the stored pairs plus newMsg as a role-tagged prompt.
//
// Pairs are included oldest to newest. When the assembled string would
// exceed the character cap, whole pairs are dropped from the oldest end
// until it fits; the new message itself is never trimmed. If the new
// message alone exceeds the cap, it is returned unmodified with
// trimmed=false: the size limit cannot be satisfied and the caller must
// not be misled into thinking trimming took place.
func (b *Buffer) Assemble(newMsg string) (prompt string, trimmed bool) {
	b.mu.RLock()
	pairs := b.pairsLocked()
	maxTurns := b.maxTurns
	maxChars := b.maxChars
	tags := b.tags
	b.mu.RUnlock()

	if maxTurns == 0 || len(pairs) == 0 {
		return newMsg, false
	}

	// The size limit cannot be satisfied when the message itself is over
	// it; no amount of trimming helps, so report trimmed=false.
	if maxChars > 0 && len(newMsg) > maxChars {
		return newMsg, false
	}

	tail := tags.UserOpen + newMsg + tags.Close + tags.AssistantOpen

	for len(pairs) > 0 {
		var sb strings.Builder
		for _, p := range pairs {
			sb.WriteString(tags.UserOpen)
			sb.WriteString(p.user)
			sb.WriteString(tags.Close)
			sb.WriteString(tags.AssistantOpen)
			sb.WriteString(p.assistant)
			sb.WriteString(tags.Close)
		}
		sb.WriteString(tail)
		if maxChars <= 0 || sb.Len() <= maxChars {
			return sb.String(), trimmed
		}
		pairs = pairs[1:]
		trimmed = true
	}
	// Every prior pair was dropped by the char cap. Send the message raw
	// rather than emitting a lone context-free tail.
	return newMsg, trimmed
}

type pair struct{ user, assistant string }

func (b *Buffer) pairsLocked() []pair {
	var out []pair
	for i := 0; i+1 < len(b.turns); i++ {
		if b.turns[i].Role == RoleUser && b.turns[i+1].Role == RoleAssistant {
			out = append(out, pair{user: b.turns[i].Text, assistant: b.turns[i+1].Text})
			i++
		}
	}
	return out
}
