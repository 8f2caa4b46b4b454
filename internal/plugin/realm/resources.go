package realm

import (
	"sync"

	"github.com/google/uuid"
)

// ResourceTable holds transient code resources addressed by a unique
// "blob:<uuid>" address. Every published address must be released.
type ResourceTable struct {
	mu        sync.Mutex
	resources map[string]string
}

// NewResourceTable creates an empty table.
func NewResourceTable() *ResourceTable {
	return &ResourceTable{resources: make(map[string]string)}
}

// Publish stores code and returns its address.
func (t *ResourceTable) Publish(code string) string {
	addr := "blob:" + uuid.NewString()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resources[addr] = code
	return addr
}

// Lookup returns the code at addr.
func (t *ResourceTable) Lookup(addr string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	code, ok := t.resources[addr]
	return code, ok
}

// Release drops the resource at addr. Releasing an unknown address is a
// no-op.
func (t *ResourceTable) Release(addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.resources, addr)
}

// Len returns the number of live resources.
func (t *ResourceTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.resources)
}
