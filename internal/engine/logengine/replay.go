package logengine

import (
	"encoding/json"
	"io"
	"os"
)

// replayGeneration streams every command out of gen's file in order,
// applying each to idx exactly as the live Set/Remove path would, and
// returns the number of stale bytes the replay displaced. The decoder
// tracks byte offsets via json.Decoder.InputOffset so each command's
// CommandPos can be recorded without loading the whole file into memory.
func replayGeneration(dir string, gen uint64, idx *index) (staleBytes uint64, err error) {
	f, err := os.Open(genPath(dir, gen))
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	var pos int64
	for {
		var cmd command
		if err := dec.Decode(&cmd); err != nil {
			if err == io.EOF {
				break
			}
			return staleBytes, err
		}
		end := dec.InputOffset()
		length := uint64(end - pos)

		switch cmd.kind {
		case cmdSet:
			old, existed := idx.set(cmd.key, commandPos{gen: gen, offset: uint64(pos), length: length})
			if existed {
				staleBytes += old.length
			}
		case cmdRemove:
			old, existed := idx.remove(cmd.key)
			if existed {
				staleBytes += old.length
			}
		}
		pos = end
	}
	return staleBytes, nil
}
