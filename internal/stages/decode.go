package stages

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/miradorstack/mirador-audit/internal/models"
	"github.com/miradorstack/mirador-audit/internal/utils"
)

// maxJSONCandidates bounds how many opening brackets are tried in one response.
const maxJSONCandidates = 16

// JSONCandidates returns, in order of appearance, the balanced JSON objects
// and arrays found in text that are valid JSON. Prose and markdown fences
// around them are ignored. Raw control characters inside strings are escaped
// before validation.
func JSONCandidates(text string) [][]byte {
	var out [][]byte
	tried := 0
	for i := 0; i < len(text) && tried < maxJSONCandidates; i++ {
		if text[i] != '{' && text[i] != '[' {
			continue
		}
		tried++
		end, ok := balancedEnd(text, i)
		if !ok {
			continue
		}
		candidate := []byte(text[i:end])
		if !json.Valid(candidate) {
			candidate = escapeControlChars(candidate)
			if !json.Valid(candidate) {
				continue
			}
		}
		out = append(out, candidate)
		// Nested values of an accepted candidate are never better matches.
		i = end - 1
	}
	return out
}

// balancedEnd returns the index just past the bracket closing text[start].
func balancedEnd(text string, start int) (int, bool) {
	stack := make([]byte, 0, 8)
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != ch {
				return 0, false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}

func escapeControlChars(data []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(len(data) + 16)
	inString, escaped := false, false
	for _, ch := range data {
		if inString && !escaped && ch < 0x20 {
			switch ch {
			case '\n':
				buf.WriteString(`\n`)
			case '\r':
				buf.WriteString(`\r`)
			case '\t':
				buf.WriteString(`\t`)
			default:
				buf.WriteString(`\u00`)
				buf.WriteByte("0123456789abcdef"[ch>>4])
				buf.WriteByte("0123456789abcdef"[ch&0xf])
			}
			continue
		}
		buf.WriteByte(ch)
		switch {
		case escaped:
			escaped = false
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		}
	}
	return buf.Bytes()
}

var errNoCandidate = errors.New("no JSON value found")

// decodeEnvelope decodes the first candidate in text that is either an object
// carrying key or a bare array of records, which wrap turns into an envelope.
// Every attempt decodes into fresh values. Failures are KindDecode errors
// carrying a bounded preview of text.
func decodeEnvelope[E any, R any](stage models.Stage, text, key string, wrap func([]R) E) (E, error) {
	var zero E
	op := string(stage) + ".decode"
	if strings.TrimSpace(text) == "" {
		return zero, utils.NewKindError(utils.KindDecode, op, "empty response", nil)
	}

	lastErr := errNoCandidate
	for _, candidate := range JSONCandidates(text) {
		if candidate[0] == '[' {
			var items []R
			if err := json.Unmarshal(candidate, &items); err != nil {
				lastErr = err
				continue
			}
			return wrap(items), nil
		}
		if !hasField(candidate, key) {
			lastErr = errors.New("object has no " + key + " field")
			continue
		}
		var env E
		if err := json.Unmarshal(candidate, &env); err != nil {
			lastErr = err
			continue
		}
		return env, nil
	}
	return zero, utils.NewKindError(utils.KindDecode, op,
		"response does not match contract: "+utils.Preview(text, utils.PreviewLimit),
		errors.New(utils.Preview(lastErr.Error(), 128)))
}

func hasField(object []byte, key string) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(object, &fields); err != nil {
		return false
	}
	for name := range fields {
		if strings.EqualFold(name, key) {
			return true
		}
	}
	return false
}
