package agent

import (
	"crypto/rand"
	"fmt"
	"strings"
	"sync/atomic"
)

const idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// randomSuffix returns n lowercase alphanumeric characters read from
// crypto/rand. Used wherever an identifier needs to be unguessable and
// collision-resistant without the weight of a full UUID.
func randomSuffix(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing is effectively unrecoverable on any real
		// platform; fall back to a fixed, clearly-degenerate suffix rather
		// than panicking mid-run.
		for i := range buf {
			buf[i] = 'x'
		}
		return string(buf)
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return string(out)
}

// NewAgentID builds an agent identifier of the form
// {parentPrefix}{name}-{6 lowercase alphanumeric}. parentPrefix is empty
// for a top-level agent and is the parent's own agent-id plus "/" for a
// nested one, so child identifiers visually nest under their ancestry.
func NewAgentID(parentPrefix, name string) string {
	name = sanitizeIDComponent(name)
	return fmt.Sprintf("%s%s-%s", parentPrefix, name, randomSuffix(6))
}

// ChildPrefix returns the parentPrefix to pass to NewAgentID for a direct
// child of agentID.
func ChildPrefix(agentID string) string {
	return agentID + "/"
}

func sanitizeIDComponent(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "agent"
	}
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune('-')
		default:
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}

// promptCounter tracks, per agent-id, the number of prompts issued so far
// so prompt-ids stay stable and monotonic within a single process.
type promptCounter struct {
	agentID string
	n       int64
}

// newPromptCounter returns a counter seeded at zero for agentID.
func newPromptCounter(agentID string) *promptCounter {
	return &promptCounter{agentID: agentID}
}

// Next returns the prompt-id for the next turn: {agentId}#{turnCounter}.
// turnCounter starts at 1 and increments once per call.
func (c *promptCounter) Next() string {
	n := atomic.AddInt64(&c.n, 1)
	return fmt.Sprintf("%s#%d", c.agentID, n)
}

// Current returns the most recently issued prompt-id without advancing the
// counter. Returns "" if Next has never been called.
func (c *promptCounter) Current() string {
	n := atomic.LoadInt64(&c.n)
	if n == 0 {
		return ""
	}
	return fmt.Sprintf("%s#%d", c.agentID, n)
}

// NewCallID builds a tool-call identifier of the form {promptId}-{index}.
// Adapters that receive a provider-native call ID (e.g. Anthropic's
// tool_use blocks, which carry their own id) should use that id directly
// instead of calling this; it exists for the local text-parsing adapter
// and any provider that doesn't supply one.
func NewCallID(promptID string, index int) string {
	return fmt.Sprintf("%s-%d", promptID, index)
}
