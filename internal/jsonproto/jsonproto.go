// Package jsonproto implements a small streaming JSON decode/encode
// protocol whose parsers can be chained: the output of one stage feeds
// the input of the next, so framing, decompression and JSON decoding
// can be composed without each stage knowing about the others.
package jsonproto

import (
	jsoniter "github.com/json-iterator/go"

	ovio "github.com/openvocs/ovio"
)

// State is the result of a single Decode call.
type State int

const (
	Progress State = iota
	Success
	Mismatch
	Error
	Answer
	AnswerClose
	Close
	Done
)

func (s State) String() string {
	switch s {
	case Progress:
		return "PROGRESS"
	case Success:
		return "SUCCESS"
	case Mismatch:
		return "MISMATCH"
	case Error:
		return "ERROR"
	case Answer:
		return "ANSWER"
	case AnswerClose:
		return "ANSWER_CLOSE"
	case Close:
		return "CLOSE"
	case Done:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// api is configured for stable, ascending key order on encode so two
// encodes of the same value always produce byte-identical output.
var api = jsoniter.Config{SortMapKeys: true}.Froze()

// Parser is the closed protocol every stage implements. There are
// exactly two concrete variants, reachable only via NewStrict and
// NewBuffered.
type Parser interface {
	Decode(data []byte) (any, State, error)
	Encode(v any) ([]byte, error)
	Buffering() bool
	HasBufferedData() bool
	EmptyOut() []byte
}

// Strict requires the entire input to be exactly one syntactically
// valid JSON value.
type Strict struct{}

// NewStrict returns a non-buffering parser.
func NewStrict() *Strict { return &Strict{} }

func (s *Strict) Decode(data []byte) (any, State, error) {
	var v any
	if err := api.Unmarshal(data, &v); err != nil {
		return nil, Mismatch, nil
	}
	return v, Success, nil
}

func (s *Strict) Encode(v any) ([]byte, error) {
	b, err := api.Marshal(v)
	if err != nil {
		return nil, ovio.WrapError("jsonproto.Strict.Encode", err)
	}
	return b, nil
}

func (s *Strict) Buffering() bool        { return false }
func (s *Strict) HasBufferedData() bool  { return false }
func (s *Strict) EmptyOut() []byte       { return nil }

// Buffered accumulates input across calls and extracts one complete
// top-level JSON object at a time by hand-rolled, string/escape-aware
// brace matching.
type Buffered struct {
	acc []byte
}

// NewBuffered returns a buffering parser with an empty accumulator.
func NewBuffered() *Buffered { return &Buffered{} }

func (b *Buffered) Buffering() bool { return true }

func (b *Buffered) HasBufferedData() bool {
	return len(skipWS(b.acc)) > 0
}

func (b *Buffered) EmptyOut() []byte {
	out := make([]byte, len(b.acc))
	copy(out, b.acc)
	return out
}

func (b *Buffered) Encode(v any) ([]byte, error) {
	out, err := api.Marshal(v)
	if err != nil {
		return nil, ovio.WrapError("jsonproto.Buffered.Encode", err)
	}
	return out, nil
}

// Decode appends data to the accumulator and attempts to extract one
// complete object. An all-whitespace accumulator yields PROGRESS, never
// MISMATCH. A MISMATCH leaves the accumulator untouched so the caller
// can inspect it via EmptyOut. Calling Decode(nil) repeatedly drains
// further complete objects already sitting in the accumulator.
func (b *Buffered) Decode(data []byte) (any, State, error) {
	b.acc = append(b.acc, data...)

	i := skipIndex(b.acc, 0)
	if i >= len(b.acc) {
		b.acc = b.acc[:0]
		return nil, Progress, nil
	}
	if b.acc[i] != '{' {
		return nil, Mismatch, nil
	}

	end, ok := matchBraces(b.acc, i)
	if !ok {
		return nil, Progress, nil
	}

	var v any
	if err := api.Unmarshal(b.acc[i:end+1], &v); err != nil {
		return nil, Mismatch, nil
	}

	rest := b.acc[end+1:]
	remaining := make([]byte, len(rest))
	copy(remaining, rest)
	b.acc = remaining

	return v, Success, nil
}

func isWS(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func skipIndex(data []byte, from int) int {
	i := from
	for i < len(data) && isWS(data[i]) {
		i++
	}
	return i
}

func skipWS(data []byte) []byte {
	i := skipIndex(data, 0)
	if i >= len(data) {
		return nil
	}
	return data[i:]
}

// matchBraces finds the index of the '{' at start's matching '}',
// respecting string literals and backslash escapes.
func matchBraces(data []byte, start int) (end int, ok bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(data); i++ {
		c := data[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

var (
	_ Parser = (*Strict)(nil)
	_ Parser = (*Buffered)(nil)
	_ Parser = (*Pipeline)(nil)
)
