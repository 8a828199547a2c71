package logengine

import (
	"encoding/json"
	"os"
	"sync"
)

// writerState is the single-writer side of the engine: the file handle for
// the current generation, the stale-bytes counter, and the generation
// counter, all guarded by one mutex. Shared across every Clone of an Engine.
type writerState struct {
	mu         sync.Mutex
	dir        string
	file       *os.File
	currentGen uint64
	offset     uint64
	staleBytes uint64
	fsync      bool
}

func openWriter(dir string, gen uint64, fsync bool) (*writerState, error) {
	f, err := os.OpenFile(genPath(dir, gen), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &writerState{
		dir:        dir,
		file:       f,
		currentGen: gen,
		offset:     uint64(info.Size()),
		fsync:      fsync,
	}, nil
}

// append must be called with w.mu held. It writes cmd to the current
// generation and returns where it landed.
func (w *writerState) append(cmd command) (commandPos, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return commandPos{}, err
	}
	n, err := w.file.Write(data)
	if err != nil {
		return commandPos{}, err
	}
	if w.fsync {
		if err := w.file.Sync(); err != nil {
			return commandPos{}, err
		}
	}
	pos := commandPos{gen: w.currentGen, offset: w.offset, length: uint64(n)}
	w.offset += uint64(n)
	return pos, nil
}

func (w *writerState) close() error {
	return w.file.Close()
}
