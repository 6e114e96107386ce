// Package template implements the laszoo template model: a text-level
// merge system with two escape mechanisms. Variable holes ({{ name }},
// optionally with a default) are substituted from per-host bindings at
// render time. Quack regions ([[x body x]]) carry each host's private
// content and render verbatim unless the host has recorded an override.
//
// Parse produces a Document once; Render and Extract both operate on its
// Node list, so a template is parsed exactly once regardless of how many
// hosts render or diverge from it.
package template

import (
	"fmt"
	"strings"

	"github.com/laszoo/laszoo/internal/errs"
)

// Kind identifies the sort of Node.
type Kind int

const (
	// Literal is a byte span copied through unchanged.
	Literal Kind = iota
	// Hole is a {{ name [| default: "value"] }} substitution point.
	Hole
	// Quack is a [[x body x]] per-host override region.
	Quack
)

// Node is one element of a parsed template's linear structure.
type Node struct {
	Kind Kind

	// Literal holds the raw text for Kind == Literal.
	Literal string

	// Name and Default hold the binding name and optional default value
	// for Kind == Hole. Default is nil when no "| default: ..." clause
	// was present.
	Name    string
	Default *string

	// Body holds the verbatim (trimmed) inner text for Kind == Quack.
	Body string
}

// Document is a parsed template: an ordered sequence of nodes whose
// concatenated render reproduces the original text up to substitution.
type Document struct {
	Nodes []Node
}

// QuackCount returns the number of quack regions in the document. Quack
// regions are addressed by their 0-based position in source order.
func (d *Document) QuackCount() int {
	n := 0
	for _, node := range d.Nodes {
		if node.Kind == Quack {
			n++
		}
	}
	return n
}

const (
	holeOpen   = "{{"
	holeClose  = "}}"
	quackOpen  = "[[x"
	quackClose = "x]]"
)

// Source reconstructs the template text doc was parsed from (or an
// equivalent text for a document built programmatically, e.g. by Extract).
// Source(Parse(s)) reproduces s exactly for holes and non-blank quack
// bodies written in the canonical single-space form ("{{ name }}",
// "[[x body x]]"); other spacing is normalized to that form. An all-whitespace quack body canonicalizes to the single blank
// form "[[x x]]" rather than preserving the original whitespace run, since
// Parse already discards it. This round-trip underlies the idempotence
// invariant Extract relies on when writing a realigned template back to
// the shared tree.
func (d *Document) Source() string {
	var sb strings.Builder
	for _, node := range d.Nodes {
		switch node.Kind {
		case Literal:
			sb.WriteString(node.Literal)
		case Hole:
			sb.WriteString(holeOpen)
			sb.WriteString(" ")
			sb.WriteString(node.Name)
			if node.Default != nil {
				sb.WriteString(` | default: "`)
				sb.WriteString(escapeQuoted(*node.Default))
				sb.WriteString(`"`)
			}
			sb.WriteString(" ")
			sb.WriteString(holeClose)
		case Quack:
			sb.WriteString(quackOpen)
			sb.WriteString(" ")
			if node.Body != "" {
				sb.WriteString(node.Body)
				sb.WriteString(" ")
			}
			sb.WriteString(quackClose)
		}
	}
	return sb.String()
}

func escapeQuoted(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

// Parse scans src in one left-to-right pass and returns its Document.
// Returns errs.ErrMalformedTemplate for an unterminated hole or quack
// region, an invalid variable name, or nested tokens (a hole opened inside
// a quack body or vice versa).
func Parse(src string) (*Document, error) {
	var nodes []Node
	literalStart := 0
	i := 0

	flushLiteral := func(end int) {
		if end > literalStart {
			nodes = append(nodes, Node{Kind: Literal, Literal: src[literalStart:end]})
		}
	}

	for i < len(src) {
		switch {
		case strings.HasPrefix(src[i:], holeOpen):
			flushLiteral(i)
			node, next, err := parseHole(src, i)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, node)
			i = next
			literalStart = i

		case strings.HasPrefix(src[i:], quackOpen):
			flushLiteral(i)
			node, next, err := parseQuack(src, i)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, node)
			i = next
			literalStart = i

		default:
			i++
		}
	}
	flushLiteral(len(src))

	return &Document{Nodes: nodes}, nil
}

func isNameStart(b byte) bool {
	return b == '_' || (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}

func isNameChar(b byte) bool {
	return isNameStart(b) || (b >= '0' && b <= '9')
}

// parseHole parses a {{ name [| default: "value"] }} token starting at
// src[start:start+2] == "{{". Returns the node and the index just past
// the closing "}}".
func parseHole(src string, start int) (Node, int, error) {
	i := start + len(holeOpen)

	i = skipSpace(src, i)

	nameStart := i
	if i >= len(src) || !isNameStart(src[i]) {
		return Node{}, 0, fmt.Errorf("%w: invalid or missing variable name at offset %d", errs.ErrMalformedTemplate, start)
	}
	for i < len(src) && isNameChar(src[i]) {
		i++
	}
	name := src[nameStart:i]

	i = skipSpace(src, i)

	var def *string
	if i < len(src) && src[i] == '|' {
		i++
		i = skipSpace(src, i)

		const defaultKeyword = "default:"
		if !strings.HasPrefix(src[i:], defaultKeyword) {
			return Node{}, 0, fmt.Errorf("%w: expected %q after | at offset %d", errs.ErrMalformedTemplate, defaultKeyword, i)
		}
		i += len(defaultKeyword)
		i = skipSpace(src, i)

		value, next, err := parseQuotedString(src, i)
		if err != nil {
			return Node{}, 0, err
		}
		def = &value
		i = next

		i = skipSpace(src, i)
	}

	if err := rejectNestedOpen(src, start+len(holeOpen), i, holeClose); err != nil {
		return Node{}, 0, err
	}

	if !strings.HasPrefix(src[i:], holeClose) {
		return Node{}, 0, fmt.Errorf("%w: unterminated hole starting at offset %d", errs.ErrMalformedTemplate, start)
	}
	i += len(holeClose)

	return Node{Kind: Hole, Name: name, Default: def}, i, nil
}

// parseQuotedString parses a "..." string literal (with \" and \\
// escapes) starting at src[i] == '"'.
func parseQuotedString(src string, i int) (string, int, error) {
	if i >= len(src) || src[i] != '"' {
		return "", 0, fmt.Errorf("%w: expected quoted string at offset %d", errs.ErrMalformedTemplate, i)
	}
	i++
	var sb strings.Builder
	for i < len(src) {
		switch src[i] {
		case '"':
			return sb.String(), i + 1, nil
		case '\\':
			if i+1 >= len(src) {
				return "", 0, fmt.Errorf("%w: unterminated escape in default string", errs.ErrMalformedTemplate)
			}
			sb.WriteByte(src[i+1])
			i += 2
		default:
			sb.WriteByte(src[i])
			i++
		}
	}
	return "", 0, fmt.Errorf("%w: unterminated default string", errs.ErrMalformedTemplate)
}

// parseQuack parses a [[x body x]] token starting at src[start:start+3] ==
// "[[x". Returns the node and the index just past the closing "x]]".
func parseQuack(src string, start int) (Node, int, error) {
	i := start + len(quackOpen)
	bodyStart := i

	for {
		if i >= len(src) {
			return Node{}, 0, fmt.Errorf("%w: unterminated quack region starting at offset %d", errs.ErrMalformedTemplate, start)
		}
		if strings.HasPrefix(src[i:], quackClose) {
			body := src[bodyStart:i]
			if strings.TrimSpace(body) == "" {
				body = ""
			} else {
				body = strings.TrimSpace(body)
			}
			return Node{Kind: Quack, Body: body}, i + len(quackClose), nil
		}
		if strings.HasPrefix(src[i:], holeOpen) || strings.HasPrefix(src[i:], quackOpen) {
			return Node{}, 0, fmt.Errorf("%w: nested token inside quack region at offset %d", errs.ErrMalformedTemplate, i)
		}
		i++
	}
}

// rejectNestedOpen scans [from, to) for a quack-open marker, which would
// indicate a quack region was opened inside an in-progress hole.
func rejectNestedOpen(src string, from, to int, _ string) error {
	for j := from; j < to && j < len(src); j++ {
		if strings.HasPrefix(src[j:], quackOpen) {
			return fmt.Errorf("%w: nested token inside hole at offset %d", errs.ErrMalformedTemplate, j)
		}
	}
	return nil
}

func skipSpace(src string, i int) int {
	for i < len(src) && (src[i] == ' ' || src[i] == '\t' || src[i] == '\n' || src[i] == '\r') {
		i++
	}
	return i
}

// Render substitutes holes from bindings (falling back to declared
// defaults) and quack regions from quacks (keyed by 0-based quack index in
// source order). When isGroupTemplate is false, quack regions always
// render verbatim — the file is already host-owned, so there is nothing to
// override. Output is a pure function of (doc, bindings, quacks,
// isGroupTemplate): repeated calls with the same inputs byte-for-byte
// agree.
func Render(doc *Document, bindings map[string]string, quacks map[int]string, isGroupTemplate bool) (string, error) {
	var sb strings.Builder
	quackIndex := 0

	for _, node := range doc.Nodes {
		switch node.Kind {
		case Literal:
			sb.WriteString(node.Literal)

		case Hole:
			value, ok := bindings[node.Name]
			if !ok {
				if node.Default != nil {
					value = *node.Default
				} else {
					return "", fmt.Errorf("%w: %s", errs.ErrUnboundVariable, node.Name)
				}
			}
			sb.WriteString(value)

		case Quack:
			if isGroupTemplate {
				if content, ok := quacks[quackIndex]; ok {
					sb.WriteString(content)
				} else {
					sb.WriteString(node.Body)
				}
			} else {
				sb.WriteString(node.Body)
			}
			quackIndex++
		}
	}

	return sb.String(), nil
}
