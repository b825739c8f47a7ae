package mcp

import "sync"

// maxCounterValue caps the session counter. The counter only distinguishes
// "never incremented" from "incremented at least once".
const maxCounterValue = 1

// SessionCounter is a small piece of per-server session state. Each MCP
// server instance owns its own counter, so two servers on the same store do
// not share it.
type SessionCounter struct {
	mu    sync.Mutex
	value int
}

func NewSessionCounter() *SessionCounter {
	return &SessionCounter{}
}

func (c *SessionCounter) Get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Increment bumps the counter, capped at maxCounterValue, and returns the
// new value.
func (c *SessionCounter) Increment() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.value < maxCounterValue {
		c.value++
	}
	return c.value
}

func (c *SessionCounter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = 0
}
