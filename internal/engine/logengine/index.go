package logengine

import (
	"sync"

	"github.com/google/btree"
)

// commandPos locates the bytes of one encoded command within its generation
// file: [offset, offset+length).
type commandPos struct {
	gen    uint64
	offset uint64
	length uint64
}

type indexEntry struct {
	key string
	pos commandPos
}

// index is the in-memory Key -> CommandPos map. It is kept in an ordered
// tree (rather than a plain Go map) per the design notes' recommendation:
// an ordered structure makes the compactor's sequential scan a simple
// in-order walk instead of a separate sort pass, and keeps per-key lookup
// logarithmic instead of relying on map iteration order being undefined.
type index struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[indexEntry]
}

func newIndex() *index {
	return &index{
		tree: btree.NewG[indexEntry](32, func(a, b indexEntry) bool {
			return a.key < b.key
		}),
	}
}

func (idx *index) get(key string) (commandPos, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.tree.Get(indexEntry{key: key})
	return e.pos, ok
}

// set installs pos for key, returning the previously indexed position (if
// any) so the caller can account for its length as stale bytes.
func (idx *index) set(key string, pos commandPos) (commandPos, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	old, existed := idx.tree.ReplaceOrInsert(indexEntry{key: key, pos: pos})
	return old.pos, existed
}

// remove deletes key, returning the position it pointed at (if any).
func (idx *index) remove(key string) (commandPos, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	old, existed := idx.tree.Delete(indexEntry{key: key})
	return old.pos, existed
}

func (idx *index) len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.tree.Len()
}

// snapshot returns every entry in key order. Used by the compactor, which
// holds the writer lock for the duration of the call so no Set/Remove can
// race with the copy that follows.
func (idx *index) snapshot() []indexEntry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	entries := make([]indexEntry, 0, idx.tree.Len())
	idx.tree.Ascend(func(e indexEntry) bool {
		entries = append(entries, e)
		return true
	})
	return entries
}

// applyCompaction installs the post-copy positions produced by the
// compactor in a single exclusive pass.
func (idx *index) applyCompaction(entries []indexEntry) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, e := range entries {
		idx.tree.ReplaceOrInsert(e)
	}
}
