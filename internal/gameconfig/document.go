package gameconfig

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

var errNotObject = errors.New("configuration is not a JSON object")

// member is one top-level key with the byte range of its value.
type member struct {
	key   string
	start int64
	end   int64
}

// document is a parsed top-level JSON object that can be edited in place.
// Only replaced values change; all other bytes are kept as they were.
type document struct {
	data    []byte
	members []member
	// tail is where new members are inserted: after the last value or after '{'.
	tail int64
}

func parseDocument(data []byte) (*document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errNotObject
	}

	doc := &document{data: data, tail: dec.InputOffset()}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("failed to parse configuration key: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, errNotObject
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("failed to parse value of %q: %w", key, err)
		}
		end := dec.InputOffset()
		doc.members = append(doc.members, member{key: key, start: end - int64(len(raw)), end: end})
		doc.tail = end
	}

	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("unexpected data after configuration object")
	}
	return doc, nil
}

// raw returns the current value bytes for key.
func (d *document) raw(key string) ([]byte, bool) {
	for _, m := range d.members {
		if m.key == key {
			return d.data[m.start:m.end], true
		}
	}
	return nil, false
}

type edit struct {
	start int64
	end   int64
	text  []byte
	order int
}

// apply returns a copy of the document with values replaced, and missing keys
// appended in the given order.
func (d *document) apply(keys []string, values map[string][]byte) []byte {
	var edits []edit
	inserts := 0
	for i, key := range keys {
		value := values[key]
		replaced := false
		for _, m := range d.members {
			if m.key == key {
				edits = append(edits, edit{start: m.start, end: m.end, text: value, order: i})
				replaced = true
			}
		}
		if replaced {
			continue
		}

		var text strings.Builder
		if len(d.members) > 0 || inserts > 0 {
			text.WriteString(",")
		}
		keyJSON, _ := json.Marshal(key)
		text.WriteString("\n  ")
		text.Write(keyJSON)
		text.WriteString(": ")
		text.Write(value)
		edits = append(edits, edit{start: d.tail, end: d.tail, text: []byte(text.String()), order: i})
		inserts++
	}

	sort.SliceStable(edits, func(i, j int) bool {
		if edits[i].start != edits[j].start {
			return edits[i].start < edits[j].start
		}
		return edits[i].order < edits[j].order
	})

	var out bytes.Buffer
	out.Grow(len(d.data) + 64)
	cursor := int64(0)
	for _, e := range edits {
		out.Write(d.data[cursor:e.start])
		out.Write(e.text)
		cursor = e.end
	}
	out.Write(d.data[cursor:])
	if inserts > 0 && len(d.members) == 0 {
		return insertNewlineBeforeClose(out.Bytes())
	}
	return out.Bytes()
}

// insertNewlineBeforeClose keeps "{}" documents readable after members were added.
func insertNewlineBeforeClose(data []byte) []byte {
	idx := bytes.LastIndexByte(data, '}')
	if idx <= 0 || data[idx-1] == '\n' {
		return data
	}
	out := make([]byte, 0, len(data)+1)
	out = append(out, data[:idx]...)
	out = append(out, '\n')
	return append(out, data[idx:]...)
}
