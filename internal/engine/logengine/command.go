package logengine

import (
	"encoding/json"
	"fmt"
)

// commandKind tags the two record types that ever hit the log.
type commandKind int

const (
	cmdSet commandKind = iota
	cmdRemove
)

// command is one log record. It is deliberately distinct from wire.Request:
// the wire protocol and the on-disk format are different concerns that only
// happen to share a similar tagged-union shape.
type command struct {
	kind  commandKind
	key   string
	value string
}

func setCommand(key, value string) command { return command{kind: cmdSet, key: key, value: value} }
func removeCommand(key string) command     { return command{kind: cmdRemove, key: key} }

func (c command) MarshalJSON() ([]byte, error) {
	switch c.kind {
	case cmdSet:
		return json.Marshal(struct {
			Set [2]string `json:"Set"`
		}{[2]string{c.key, c.value}})
	case cmdRemove:
		return json.Marshal(struct {
			Rm string `json:"Rm"`
		}{c.key})
	default:
		return nil, fmt.Errorf("logengine: unknown command kind %d", c.kind)
	}
}

func (c *command) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch {
	case raw["Set"] != nil:
		var kv [2]string
		if err := json.Unmarshal(raw["Set"], &kv); err != nil {
			return err
		}
		*c = command{kind: cmdSet, key: kv[0], value: kv[1]}
	case raw["Rm"] != nil:
		var key string
		if err := json.Unmarshal(raw["Rm"], &key); err != nil {
			return err
		}
		*c = command{kind: cmdRemove, key: key}
	default:
		return fmt.Errorf("logengine: log record has no recognized key")
	}
	return nil
}
