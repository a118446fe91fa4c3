/*
SPDX-License-Identifier: Apache-2.0

Copyright 2026 SakDb

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package field

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Separator is the single byte dividing a field record line's header
// from its payload.
const Separator = '&'

// ErrSeparatorInHeader is returned by Encode when a field's header JSON
// would contain the separator byte, which would make the line
// impossible to split unambiguously on decode.
var ErrSeparatorInHeader = errors.New("field: separator present in header")

// ErrMalformedRecord is returned by Decode when a non-blank line cannot
// be parsed as HEADER & PAYLOAD.
var ErrMalformedRecord = errors.New("field: malformed record line")

// header is marshaled with fixed key order t, k, c and no whitespace;
// encoding/json preserves struct declaration order for unkeyed structs.
type header struct {
	TS  float64 `json:"t"`
	Key string  `json:"k"`
	CRC string  `json:"c"`
}

// marshalCompact JSON-encodes v without HTML-escaping `&`, `<`, `>` —
// the stock escaping that json.Marshal performs by default would hide
// a literal '&' in a header's key and defeat the separator check below.
func marshalCompact(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Encode serializes fr as one line per field: `{"t":ts,"k":key,"c":crc}&"payload"`,
// each terminated by a newline, with one trailing blank line. Encoding
// is deterministic: fields are emitted in fr's existing order, no
// sorting or reordering is performed.
func Encode(fr *FieldRecord) (string, error) {
	var b strings.Builder
	if fr != nil {
		for _, f := range fr.Fields {
			h := header{TS: f.TS, Key: f.Key, CRC: f.CRC}
			headerBytes, err := marshalCompact(h)
			if err != nil {
				return "", fmt.Errorf("field: marshal header for key %q: %w", f.Key, err)
			}
			if strings.ContainsRune(string(headerBytes), Separator) {
				return "", fmt.Errorf("%w: key %q", ErrSeparatorInHeader, f.Key)
			}
			payloadBytes, err := marshalCompact(f.Payload)
			if err != nil {
				return "", fmt.Errorf("field: marshal payload for key %q: %w", f.Key, err)
			}
			b.Write(headerBytes)
			b.WriteRune(Separator)
			b.Write(payloadBytes)
			b.WriteByte('\n')
		}
	}
	// Final blank line aids textual diffs, per spec.
	b.WriteByte('\n')
	return b.String(), nil
}

// Decode parses data as produced by Encode. Empty or whitespace-only
// lines are ignored. An input with no non-blank lines yields (nil, nil).
func Decode(data string) (*FieldRecord, error) {
	var fields []Field

	scanner := bufio.NewScanner(strings.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		idx := strings.IndexRune(line, Separator)
		if idx < 0 {
			return nil, fmt.Errorf("%w: no separator in line %q", ErrMalformedRecord, line)
		}
		headerStr, payloadStr := line[:idx], line[idx+1:]

		var h header
		if err := json.Unmarshal([]byte(headerStr), &h); err != nil {
			return nil, fmt.Errorf("%w: header %q: %v", ErrMalformedRecord, headerStr, err)
		}
		var payload string
		if err := json.Unmarshal([]byte(payloadStr), &payload); err != nil {
			return nil, fmt.Errorf("%w: payload %q: %v", ErrMalformedRecord, payloadStr, err)
		}

		fields = append(fields, Field{TS: h.TS, Key: h.Key, CRC: h.CRC, Payload: payload})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("field: scan: %w", err)
	}

	if len(fields) == 0 {
		return nil, nil
	}
	return &FieldRecord{Fields: fields}, nil
}
