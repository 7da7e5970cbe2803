package domain

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/danielgtaylor/huma/v2"
)

// ID is an opaque identifier. The remote store uses numbers, but callers
// never do arithmetic on it; both JSON numbers and strings decode.
type ID string

func (id ID) String() string { return string(id) }

func (id ID) IsZero() bool { return id == "" }

func (id ID) MarshalJSON() ([]byte, error) {
	if id == "" {
		return []byte("null"), nil
	}
	if isNumber(string(id)) {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	if !isNumber(string(data)) {
		return fmt.Errorf("invalid id %s", data)
	}
	*id = ID(data)
	return nil
}

// Schema leaves the type open so numeric and string ids both validate.
func (ID) Schema(huma.Registry) *huma.Schema {
	return &huma.Schema{Description: "Opaque identifier (number or string)"}
}

func isNumber(s string) bool {
	if s == "" {
		return false
	}
	var n json.Number
	if err := json.Unmarshal([]byte(s), &n); err != nil {
		return false
	}
	return n.String() == s
}

// IDList is a list of ids that tolerates one level of nesting on decode:
// [1,2], [[1],[2,3]] and [1,[2]] all flatten to [1 2 ...].
type IDList []ID

func (l *IDList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}
	var outer []json.RawMessage
	if err := json.Unmarshal(data, &outer); err != nil {
		return fmt.Errorf("id list: %w", err)
	}
	res := IDList{}
	for _, raw := range outer {
		raw = bytes.TrimSpace(raw)
		if len(raw) > 0 && raw[0] == '[' {
			var inner []ID
			if err := json.Unmarshal(raw, &inner); err != nil {
				return fmt.Errorf("id list: nested: %w", err)
			}
			for _, id := range inner {
				if id != "" {
					res = append(res, id)
				}
			}
			continue
		}
		var id ID
		if err := json.Unmarshal(raw, &id); err != nil {
			return fmt.Errorf("id list: %w", err)
		}
		if id != "" {
			res = append(res, id)
		}
	}
	*l = res
	return nil
}

// Set returns the list as a membership set.
func (l IDList) Set() map[ID]struct{} {
	set := make(map[ID]struct{}, len(l))
	for _, id := range l {
		set[id] = struct{}{}
	}
	return set
}

func (l IDList) Contains(id ID) bool {
	for _, v := range l {
		if v == id {
			return true
		}
	}
	return false
}
