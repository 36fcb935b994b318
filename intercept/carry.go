package intercept

import (
	"sync"

	stash "github.com/dan-strohschein/stash"
)

// keyCarry delivers the fingerprint computed during the executing phase
// to the executed phase of the same command. Entries are keyed by the
// command's identity and are read-once: Take removes what it returns, so
// a command abandoned between the two phases leaves at most one stale
// entry, which Discard clears on the command's failure path.
type keyCarry struct {
	pending sync.Map // *stash.Command -> string fingerprint
}

func newKeyCarry() *keyCarry {
	return &keyCarry{}
}

// Put records the pending fingerprint for a command.
func (c *keyCarry) Put(cmd *stash.Command, key string) {
	c.pending.Store(cmd, key)
}

// Take returns and removes the pending fingerprint for a command.
func (c *keyCarry) Take(cmd *stash.Command) (string, bool) {
	value, ok := c.pending.LoadAndDelete(cmd)
	if !ok {
		return "", false
	}
	return value.(string), true
}

// Discard drops the pending fingerprint for a command, if any.
func (c *keyCarry) Discard(cmd *stash.Command) {
	c.pending.Delete(cmd)
}
