package kernel

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Context holds state scoped to one Kernel instance and shared with its
// clients. It currently carries the idempotency cache mapping client supplied
// keys to the id of the entity they created.
type Context struct {
	idempotency *lru.Cache[string, string]
}

func newContext(size int) (*Context, error) {
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create idempotency cache: %w", err)
	}
	return &Context{idempotency: cache}, nil
}

// Recall returns the value remembered for key.
func (c *Context) Recall(key string) (string, bool) {
	return c.idempotency.Get(key)
}

// Remember stores value under key, evicting the oldest key when full.
func (c *Context) Remember(key, value string) {
	c.idempotency.Add(key, value)
}

// Forget drops key.
func (c *Context) Forget(key string) {
	c.idempotency.Remove(key)
}

// Len returns the number of remembered keys.
func (c *Context) Len() int {
	return c.idempotency.Len()
}
