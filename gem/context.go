package gem

// Turn is one message of a conversation.
type Turn struct {
	Role Role   `json:"role" yaml:"role"`
	Text string `json:"text" yaml:"text"`
}

// Context is an ordered conversation history.
//
// It belongs to the caller. A Session holding a Context appends to it after
// each exchange and never copies it, so two requests must not use the same
// Context at the same time. Context does no locking.
type Context struct {
	turns []Turn
}

// NewContext returns a history seeded with turns.
func NewContext(turns ...Turn) *Context {
	return &Context{turns: append([]Turn(nil), turns...)}
}

func (c *Context) Append(role Role, text string) {
	c.turns = append(c.turns, Turn{Role: role, Text: text})
}

// Turns returns a copy of the history.
func (c *Context) Turns() []Turn {
	if c == nil {
		return nil
	}
	return append([]Turn(nil), c.turns...)
}

func (c *Context) Len() int {
	if c == nil {
		return 0
	}
	return len(c.turns)
}

// Last returns the most recent turn.
func (c *Context) Last() (Turn, bool) {
	if c == nil || len(c.turns) == 0 {
		return Turn{}, false
	}
	return c.turns[len(c.turns)-1], true
}

func (c *Context) Reset() {
	c.turns = nil
}
