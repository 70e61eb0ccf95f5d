package adapter

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// shortID yields the 8-hex-char ids used for bracket-syntax tool calls.
func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// kiroToolCall is one tool invocation recovered from a CodeWhisperer
// response. Input stays a raw string for event-stream tool calls; bracket
// calls carry repaired JSON.
type kiroToolCall struct {
	ID    string
	Name  string
	Input string
}

// kiroParsed is the digested form of one CodeWhisperer response blob.
type kiroParsed struct {
	Content   string
	ToolCalls []kiroToolCall
}

const kiroEventSentinel = "event{"

// parseKiroEventStream walks the upstream byte blob. The blob has no length
// framing; each record is introduced by the literal "event{" token and the
// JSON payload ends at the smallest prefix that parses.
func parseKiroEventStream(raw []byte) kiroParsed {
	var parsed kiroParsed
	var content strings.Builder
	var current *kiroToolCall

	data := string(raw)
	for i := 0; i < len(data); {
		j := strings.Index(data[i:], kiroEventSentinel)
		if j < 0 {
			break
		}
		start := i + j + len(kiroEventSentinel) - 1 // keep the opening brace

		// The payload extends to the smallest parsing prefix, never to the
		// next sentinel: "event{" can appear inside a string value. Advancing
		// past the consumed payload also skips any sentinels buried in it.
		event, n, ok := smallestJSONPrefix(data[start:])
		if !ok {
			i = start + 1
			continue
		}
		i = start + n

		// Tool-use events carry name plus toolUseId; input arrives in
		// string fragments across events.
		if event.Get("name").Exists() && event.Get("toolUseId").Exists() {
			if current == nil {
				current = &kiroToolCall{
					ID:   event.Get("toolUseId").String(),
					Name: event.Get("name").String(),
				}
			}
			if in := event.Get("input"); in.Exists() {
				current.Input += in.String()
			}
			if event.Get("stop").Bool() {
				parsed.ToolCalls = append(parsed.ToolCalls, *current)
				current = nil
			}
			continue
		}

		if event.Get("followupPrompt").Exists() {
			continue
		}
		if c := event.Get("content"); c.Exists() {
			content.WriteString(strings.ReplaceAll(c.String(), `\n`, "\n"))
		}
	}
	if current != nil {
		parsed.ToolCalls = append(parsed.ToolCalls, *current)
	}

	parsed.Content = content.String()
	parsed.extractBracketToolCalls()
	return parsed
}

// smallestJSONPrefix finds the shortest prefix of block that parses as a
// JSON document and returns it with its byte length. Candidate close braces
// are probed one by one.
func smallestJSONPrefix(block string) (gjson.Result, int, bool) {
	for pos := 0; ; {
		j := strings.IndexByte(block[pos:], '}')
		if j < 0 {
			return gjson.Result{}, 0, false
		}
		pos += j + 1
		candidate := block[:pos]
		if json.Valid([]byte(candidate)) {
			return gjson.Parse(candidate), pos, true
		}
	}
}

const bracketCallPrefix = "[Called "
const bracketCallArgsMarker = " with args: "

// extractBracketToolCalls scans Content for "[Called <name> with args:
// <json>]" expressions, converts each into a tool call and strips it from
// the text.
func (p *kiroParsed) extractBracketToolCalls() {
	text := p.Content
	var out strings.Builder
	changed := false

	for {
		start := strings.Index(text, bracketCallPrefix)
		if start < 0 {
			break
		}
		rest := text[start+len(bracketCallPrefix):]
		argsAt := strings.Index(rest, bracketCallArgsMarker)
		if argsAt < 0 {
			out.WriteString(text[:start+len(bracketCallPrefix)])
			text = rest
			continue
		}
		name := strings.TrimSpace(rest[:argsAt])
		argsStart := argsAt + len(bracketCallArgsMarker)
		argsEnd, ok := findClosingBracket(rest[argsStart:])
		if !ok {
			// Unbalanced args never close under the nesting scan; the next
			// literal "]" terminates the expression so it can still be
			// dropped instead of leaking into the text.
			argsEnd = strings.IndexByte(rest[argsStart:], ']')
			if argsEnd < 0 {
				out.WriteString(text[:start+len(bracketCallPrefix)])
				text = rest
				continue
			}
		}

		argsText := rest[argsStart : argsStart+argsEnd]
		repaired, ok := repairJSON(argsText)
		if !ok {
			// Malformed beyond repair; drop the expression silently.
			out.WriteString(text[:start])
			text = rest[argsStart+argsEnd+1:]
			changed = true
			continue
		}

		p.ToolCalls = append(p.ToolCalls, kiroToolCall{
			ID:    "call_" + shortID(),
			Name:  name,
			Input: repaired,
		})
		out.WriteString(text[:start])
		text = rest[argsStart+argsEnd+1:]
		changed = true
	}
	out.WriteString(text)

	if changed {
		p.Content = strings.TrimSpace(collapseSpaces(out.String()))
	}
}

// findClosingBracket returns the offset of the "]" that closes the bracket
// expression, honouring JSON string literals, escapes and nesting.
func findClosingBracket(s string) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
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
		case '{', '[':
			depth++
		case '}':
			depth--
		case ']':
			if depth == 0 {
				return i, true
			}
			depth--
		}
	}
	return 0, false
}

var (
	unquotedKeyRe   = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_\-]*)(\s*:)`)
	unquotedValueRe = regexp.MustCompile(`(:\s*)([A-Za-z_][A-Za-z0-9_\-./]*)`)
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
)

// repairJSON best-effort fixes the malformed JSON models emit in bracket
// calls: unquoted keys, unquoted scalar values and trailing commas. The
// repaired text must parse; otherwise ok is false.
func repairJSON(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if json.Valid([]byte(s)) {
		return s, true
	}

	s = unquotedKeyRe.ReplaceAllString(s, `$1"$2"$3`)
	s = unquotedValueRe.ReplaceAllStringFunc(s, func(m string) string {
		sub := unquotedValueRe.FindStringSubmatch(m)
		v := sub[2]
		switch v {
		case "true", "false", "null":
			return m
		}
		if isNumeric(v) {
			return m
		}
		return sub[1] + `"` + v + `"`
	})
	s = trailingCommaRe.ReplaceAllString(s, `$1`)

	if json.Valid([]byte(s)) {
		return s, true
	}
	return "", false
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	dot := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '-' && i == 0 {
			continue
		}
		if c == '.' && !dot {
			dot = true
			continue
		}
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

var spaceRunRe = regexp.MustCompile(`\s{2,}`)

func collapseSpaces(s string) string {
	return spaceRunRe.ReplaceAllString(s, " ")
}
