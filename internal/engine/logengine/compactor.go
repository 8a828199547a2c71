package logengine

import (
	"io"
	"os"
)

// defaultCompactionThreshold is the stale-byte trigger used when no
// WithCompactionThreshold option is given: the Set/Remove that pushes the
// writer's stale-bytes counter above it runs a compaction before returning.
const defaultCompactionThreshold = 1024 * 1024 // 1 MiB

// compact rewrites every live entry into a fresh generation and unlinks the
// generations it superseded. It holds the writer lock for its entire
// duration — per the design notes' "simplest correct scheme" — which blocks
// new Set/Remove calls but not Get, since the index is only locked briefly
// at the very end to install the post-copy positions.
func (e *Engine) compact() error {
	e.writer.mu.Lock()
	defer e.writer.mu.Unlock()

	threshold := e.compactionThreshold
	if threshold == 0 {
		threshold = defaultCompactionThreshold
	}
	if e.writer.staleBytes <= threshold {
		// Another goroutine's compaction already ran while we were
		// waiting on the writer lock; nothing left to reclaim.
		return nil
	}

	nextGen := e.writer.currentGen + 1
	nextFile, err := os.OpenFile(genPath(e.dir, nextGen), os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	entries := e.index.snapshot()
	rewritten := make([]indexEntry, 0, len(entries))
	var cursor uint64
	for _, entry := range entries {
		src, err := e.compactReaders.get(entry.pos.gen)
		if err != nil {
			nextFile.Close()
			os.Remove(genPath(e.dir, nextGen))
			return err
		}
		n, err := io.Copy(nextFile, io.NewSectionReader(src, int64(entry.pos.offset), int64(entry.pos.length)))
		if err != nil {
			nextFile.Close()
			os.Remove(genPath(e.dir, nextGen))
			return err
		}
		rewritten = append(rewritten, indexEntry{
			key: entry.key,
			pos: commandPos{gen: nextGen, offset: cursor, length: uint64(n)},
		})
		cursor += uint64(n)
	}

	// Install the new positions before unlinking anything: once this
	// returns, no new Get can resolve to a superseded generation.
	e.index.applyCompaction(rewritten)

	oldGen := e.writer.currentGen
	if err := e.writer.close(); err != nil {
		return err
	}
	e.writer.file = nextFile
	e.writer.currentGen = nextGen
	e.writer.offset = cursor
	e.writer.staleBytes = 0

	for gen := uint64(1); gen <= oldGen; gen++ {
		e.compactReaders.evict(gen)
		os.Remove(genPath(e.dir, gen))
	}

	if e.metrics != nil {
		e.metrics.IncCompactions()
		e.metrics.SetStaleBytes(0)
	}
	if e.logger != nil {
		e.logger.Info().Uint64("generation", nextGen).Int("entries", len(rewritten)).Msg("compaction complete")
	}
	if e.notifier != nil {
		e.notifier.Publish(compactionEvent(nextGen))
	}

	return nil
}
