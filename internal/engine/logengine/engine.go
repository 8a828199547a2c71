// Package logengine is the append-only, multi-generation log-structured
// storage engine: every Set/Remove is appended as a record to the current
// generation file, an in-memory ordered index maps each live key to its
// record's location, and a compaction rewrites live records into a fresh
// generation once stale bytes cross a threshold. The compaction runs inline,
// in the Set or Remove call that pushed the counter over the threshold.
package logengine

import (
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/launix-de/kvs/internal/engine"
)

// Engine is the log-structured implementation of engine.Engine. The index
// and writerState are shared across every Clone of a given Engine; only the
// reader handle cache is per-clone, since a single *os.File used from
// multiple goroutines concurrently would race on its seek offset (ReadAt
// sidesteps that for the read path but the cache itself is not meant to be
// shared by concurrent callers).
type Engine struct {
	dir string

	index  *index
	writer *writerState

	readers        *readerSet // this handle's own cache, used by Get
	compactReaders *readerSet // dedicated cache for the compactor's copy pass

	compactionThreshold uint64
	fsyncOverride       *bool

	logger   *zerolog.Logger
	metrics  Metrics
	notifier Notifier
}

// Open loads (or creates) a log-structured store rooted at dir, replaying
// every existing generation into a fresh index before accepting requests.
func Open(dir string, opts ...Option) (*Engine, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, engine.Wrap(engine.IO, err)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, engine.Wrap(engine.IO, err)
	}

	e := &Engine{dir: absDir, index: newIndex()}
	for _, opt := range opts {
		opt(e)
	}

	gens, err := discoverGenerations(absDir)
	if err != nil {
		return nil, engine.Wrap(engine.IO, err)
	}

	var staleTotal uint64
	for _, gen := range gens {
		stale, err := replayGeneration(absDir, gen, e.index)
		if err != nil {
			return nil, engine.Wrap(engine.IO, err)
		}
		staleTotal += stale
	}

	nextGen := uint64(1)
	if len(gens) > 0 {
		nextGen = gens[len(gens)-1] + 1
	}

	fsync := false
	if e.fsyncOverride != nil {
		fsync = *e.fsyncOverride
	}
	writer, err := openWriter(absDir, nextGen, fsync)
	if err != nil {
		return nil, engine.Wrap(engine.IO, err)
	}
	writer.staleBytes = staleTotal

	e.writer = writer
	e.readers = newReaderSet(absDir)
	e.compactReaders = newReaderSet(absDir)

	if e.logger != nil {
		e.logger.Info().Str("dir", absDir).Int("generations", len(gens)).Msg("log engine opened")
	}

	return e, nil
}

// Get resolves key against the index, then reads its record from whichever
// generation it currently lives in. The only lock this path touches is the
// index's read lock; it never waits on the writer.
func (e *Engine) Get(key string) (string, bool, error) {
	pos, ok := e.index.get(key)
	if !ok {
		return "", false, nil
	}
	cmd, err := e.readers.readCommand(pos)
	if err != nil {
		return "", false, engine.Wrap(engine.MissingLogFile, err)
	}
	return cmd.value, true, nil
}

// Set appends a Set record, then installs its position in the index. The
// writer lock is held across both the append and the index update so a
// concurrent compaction snapshot can never observe the new record counted
// twice (once live, once in the generation it superseded).
func (e *Engine) Set(key, value string) error {
	e.writer.mu.Lock()
	pos, err := e.writer.append(setCommand(key, value))
	if err != nil {
		e.writer.mu.Unlock()
		return engine.Wrap(engine.IO, err)
	}
	old, existed := e.index.set(key, pos)
	if existed {
		e.writer.staleBytes += old.length
	}
	needsCompaction := e.overCompactionThreshold()
	e.writer.mu.Unlock()

	if e.metrics != nil {
		e.metrics.IncOps("set")
	}
	if e.notifier != nil {
		e.notifier.Publish(Event{Kind: EventSet, Key: key})
	}
	if needsCompaction {
		if err := e.compact(); err != nil {
			return engine.Wrap(engine.IO, err)
		}
	}
	return nil
}

// Remove deletes key's record. Removing an absent key is a KeyNotFound
// error, per the command's own semantics: unlike Set, a Remove that finds
// nothing to remove is not itself logged.
func (e *Engine) Remove(key string) error {
	e.writer.mu.Lock()
	if _, ok := e.index.get(key); !ok {
		e.writer.mu.Unlock()
		return engine.ErrKeyNotFound
	}
	pos, err := e.writer.append(removeCommand(key))
	if err != nil {
		e.writer.mu.Unlock()
		return engine.Wrap(engine.IO, err)
	}
	// The remove record itself is immediately dead weight: it must be
	// replayed to know the key is gone, but it never serves a future Get.
	e.writer.staleBytes += pos.length
	old, existed := e.index.remove(key)
	if existed {
		e.writer.staleBytes += old.length
	}
	needsCompaction := e.overCompactionThreshold()
	e.writer.mu.Unlock()

	if e.metrics != nil {
		e.metrics.IncOps("remove")
	}
	if e.notifier != nil {
		e.notifier.Publish(Event{Kind: EventRemove, Key: key})
	}
	if needsCompaction {
		if err := e.compact(); err != nil {
			return engine.Wrap(engine.IO, err)
		}
	}
	return nil
}

// overCompactionThreshold must be called with writer.mu held. It also reports
// the current stale-bytes count to the metrics sink, if any.
func (e *Engine) overCompactionThreshold() bool {
	if e.metrics != nil {
		e.metrics.SetStaleBytes(float64(e.writer.staleBytes))
	}
	threshold := e.compactionThreshold
	if threshold == 0 {
		threshold = defaultCompactionThreshold
	}
	return e.writer.staleBytes > threshold
}

// Clone returns a handle sharing this Engine's index and writer but owning
// its own reader cache, so one connection's sequence of reads never evicts
// or races another's.
func (e *Engine) Clone() engine.Engine {
	return &Engine{
		dir:                 e.dir,
		index:               e.index,
		writer:              e.writer,
		readers:             newReaderSet(e.dir),
		compactReaders:      e.compactReaders,
		compactionThreshold: e.compactionThreshold,
		logger:              e.logger,
		metrics:             e.metrics,
		notifier:            e.notifier,
	}
}

// Close releases this handle's reader cache only; the write generation's
// file stays open until CloseWriter is called. Clones should be closed as
// their connections end.
func (e *Engine) Close() error {
	e.readers.closeAll()
	return nil
}

// CloseWriter releases the current generation's write handle. Only the
// original Engine returned by Open should call this, once no clone is left
// in use.
func (e *Engine) CloseWriter() error {
	e.compactReaders.closeAll()
	return e.writer.close()
}

// Len reports the number of live keys, used by the server's periodic
// metrics sampling and by tests.
func (e *Engine) Len() int {
	return e.index.len()
}
