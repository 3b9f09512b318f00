package types

// Conversation is an immutable ordered sequence of messages. Every method
// that "changes" a conversation returns a new value; the receiver is never
// modified, so a Conversation can be shared between goroutines freely.
type Conversation struct {
	msgs []Message
}

// NewConversation copies msgs into a new conversation.
func NewConversation(msgs ...Message) Conversation {
	return Conversation{msgs: cloneMessages(msgs)}
}

// Len returns the number of messages.
func (c Conversation) Len() int { return len(c.msgs) }

// At returns the i-th message.
func (c Conversation) At(i int) Message { return c.msgs[i].clone() }

// Messages returns a copy of the underlying messages.
func (c Conversation) Messages() []Message { return cloneMessages(c.msgs) }

// Last returns the newest message.
func (c Conversation) Last() (Message, bool) {
	if len(c.msgs) == 0 {
		return Message{}, false
	}
	return c.msgs[len(c.msgs)-1].clone(), true
}

// Append returns a conversation with msgs added after the existing ones.
func (c Conversation) Append(msgs ...Message) Conversation {
	out := make([]Message, 0, len(c.msgs)+len(msgs))
	out = append(out, c.msgs...)
	out = append(out, msgs...)
	return Conversation{msgs: cloneMessages(out)}
}

// HasToolMessages reports whether any tool-related message is present.
func (c Conversation) HasToolMessages() bool {
	for _, m := range c.msgs {
		if m.Role == RoleTool || m.HasToolCalls() {
			return true
		}
	}
	return false
}

func cloneMessages(msgs []Message) []Message {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.clone()
	}
	return out
}
