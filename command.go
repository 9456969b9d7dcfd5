/*
 * Copyright 2024 ACRONYM Group.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package aciserver

import (
	"bytes"
	"encoding/json"
)

// Command is the parsed form of one wire-protocol command object
// (spec.md §4.6). Fields irrelevant to Cmd's kind are left zero.
type Command struct {
	Cmd string

	UniqueID    value
	HasUniqueID bool
	NoAck       bool

	DBKey       string
	Key         string
	Val         value
	Index       int
	Num         int

	ID    string
	Token string

	IDToken string

	EventID     value
	Destination string
	Origin      string
	Data        value
}

// commandRequiredFields lists, for every known cmd tag, the fields
// (beyond cmd) that ParseCommand treats as mandatory.
var commandRequiredFields = map[string][]string{
	"write_to_disk":   {"db_key"},
	"read_from_disk":  {"db_key"},
	"list_keys":       {"db_key"},
	"get_value":       {"db_key", "key"},
	"set_value":       {"db_key", "key", "val"},
	"get_index":       {"db_key", "key", "index"},
	"set_index":       {"db_key", "key", "val", "index"},
	"append_list":     {"db_key", "key", "val"},
	"get_list_length": {"db_key", "key"},
	"get_recent":      {"db_key", "key", "num"},
	"create_database": {"db_key"},
	"a_auth":          {"id", "token"},
	"g_auth":          {"id_token"},
	"event":           {"event_id", "destination", "origin", "data"},
}

// ParseCommand decodes raw into a Command, validating the required
// fields of its cmd tag. Extra fields are ignored, per spec.md §4.6.
func ParseCommand(raw []byte) (*Command, error) {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, newErr(errBadJSON, "invalid JSON: %v", err)
	}
	return parseCommandObject(obj)
}

func parseCommandObject(obj map[string]any) (*Command, error) {
	cmdRaw, ok := obj["cmd"]
	if !ok {
		return nil, newErr(errBadPacket, "command object missing %q", "cmd")
	}
	cmdStr, ok := cmdRaw.(string)
	if !ok {
		return nil, newErr(errBadPacket, "command tag is not a string, got %v", cmdRaw)
	}
	required, known := commandRequiredFields[cmdStr]
	if !known {
		return nil, newErr(errBadPacket, "unknown command tag %q", cmdStr)
	}
	for _, field := range required {
		if _, present := obj[field]; !present {
			return nil, newErr(errArgumentsNotPresent, "%s: missing required field %q", cmdStr, field)
		}
	}

	c := &Command{Cmd: cmdStr}
	if u, ok := obj["unique_id"]; ok {
		c.UniqueID = u
		c.HasUniqueID = true
	}
	if na, ok := obj["no_ack"].(bool); ok {
		c.NoAck = na
	}

	var err error
	switch cmdStr {
	case "write_to_disk", "read_from_disk", "list_keys", "create_database":
		c.DBKey, err = stringField(obj, cmdStr, "db_key")
	case "get_value", "get_list_length":
		if c.DBKey, err = stringField(obj, cmdStr, "db_key"); err == nil {
			c.Key, err = stringField(obj, cmdStr, "key")
		}
	case "set_value":
		if c.DBKey, err = stringField(obj, cmdStr, "db_key"); err == nil {
			if c.Key, err = stringField(obj, cmdStr, "key"); err == nil {
				c.Val = obj["val"]
			}
		}
	case "get_index":
		if c.DBKey, err = stringField(obj, cmdStr, "db_key"); err == nil {
			if c.Key, err = stringField(obj, cmdStr, "key"); err == nil {
				c.Index, err = intField(obj, cmdStr, "index")
			}
		}
	case "set_index":
		if c.DBKey, err = stringField(obj, cmdStr, "db_key"); err == nil {
			if c.Key, err = stringField(obj, cmdStr, "key"); err == nil {
				c.Val = obj["val"]
				c.Index, err = intField(obj, cmdStr, "index")
			}
		}
	case "append_list":
		if c.DBKey, err = stringField(obj, cmdStr, "db_key"); err == nil {
			if c.Key, err = stringField(obj, cmdStr, "key"); err == nil {
				c.Val = obj["val"]
			}
		}
	case "get_recent":
		if c.DBKey, err = stringField(obj, cmdStr, "db_key"); err == nil {
			if c.Key, err = stringField(obj, cmdStr, "key"); err == nil {
				c.Num, err = intField(obj, cmdStr, "num")
			}
		}
	case "a_auth":
		if c.ID, err = stringField(obj, cmdStr, "id"); err == nil {
			c.Token, err = stringField(obj, cmdStr, "token")
		}
	case "g_auth":
		c.IDToken, err = stringField(obj, cmdStr, "id_token")
	case "event":
		c.EventID = obj["event_id"]
		if c.Destination, err = stringField(obj, cmdStr, "destination"); err == nil {
			if c.Origin, err = stringField(obj, cmdStr, "origin"); err == nil {
				c.Data = obj["data"]
			}
		}
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ParseCommandBatch decodes raw as either a single command object or an
// array of command objects, per spec.md §4.8 step 3. rawElements holds
// each element's own undecoded bytes, so an "event" forward can carry on
// the original JSON untouched rather than a re-marshaled copy. Each
// element that fails to parse is reported at its own index rather than
// aborting the whole batch.
func ParseCommandBatch(raw []byte) (cmds []*Command, rawElements [][]byte, errs []error, isArray bool, err error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, nil, nil, false, newErr(errBadJSON, "empty payload")
	}
	switch trimmed[0] {
	case '{':
		var obj map[string]any
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return nil, nil, nil, false, newErr(errBadJSON, "invalid JSON: %v", err)
		}
		c, e := parseCommandObject(obj)
		return []*Command{c}, [][]byte{trimmed}, []error{e}, false, nil
	case '[':
		var elems []json.RawMessage
		if err := json.Unmarshal(trimmed, &elems); err != nil {
			return nil, nil, nil, false, newErr(errBadJSON, "invalid JSON: %v", err)
		}
		cmds = make([]*Command, len(elems))
		rawElements = make([][]byte, len(elems))
		errs = make([]error, len(elems))
		for i, el := range elems {
			rawElements[i] = []byte(el)
			var obj map[string]any
			if err := json.Unmarshal(el, &obj); err != nil {
				errs[i] = newErr(errBadPacket, "batch element %d is not an object", i)
				continue
			}
			cmds[i], errs[i] = parseCommandObject(obj)
		}
		return cmds, rawElements, errs, true, nil
	default:
		return nil, nil, nil, false, newErr(errBadPacket, "command payload is neither an object nor an array")
	}
}

func stringField(obj map[string]any, cmd, field string) (string, error) {
	v, ok := obj[field].(string)
	if !ok {
		return "", newErr(errBadPacket, "%s: field %q is not a string, got %v", cmd, field, obj[field])
	}
	return v, nil
}

func intField(obj map[string]any, cmd, field string) (int, error) {
	f, ok := obj[field].(float64)
	if !ok {
		return 0, newErr(errBadPacket, "%s: field %q is not a number, got %v", cmd, field, obj[field])
	}
	return int(f), nil
}
