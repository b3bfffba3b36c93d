// Package canonjson produces the canonical JSON byte form shared by the
// license signature scheme and the baseline hash pipeline. Both the
// issuing service and any server-side auditor recompute hashes over
// this exact serialization, so the rules are pinned here and nowhere
// else: object keys sorted lexicographically, "," and ":" separators
// with no whitespace, UTF-8, no trailing newline, and number literals
// preserved verbatim from the input document.
package canonjson

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Marshal returns the canonical JSON encoding of v.
//
// v is first round-tripped through encoding/json so that struct field
// order is erased and map keys come out sorted. Numbers are decoded as
// json.Number, which re-encodes the original literal byte-for-byte
// (0.12 stays "0.12", never "0.12000000000000001").
func Marshal(v any) ([]byte, error) {
	plain, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonjson: marshal: %w", err)
	}
	return Canonicalize(plain)
}

// Canonicalize re-encodes raw JSON into canonical form. It fails on
// input that is not a single valid JSON value.
func Canonicalize(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("canonjson: decode: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("canonjson: trailing data after JSON value")
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("canonjson: encode: %w", err)
	}

	// json.Encoder appends a newline; canonical form carries none.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
