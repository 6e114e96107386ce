package template

import "strings"

// ExtractResult is the outcome of Extract: the realigned document, the
// per-host quack bodies recovered from the user's edit, and whether the
// edit could not be cleanly attributed to the template's structure. In the
// degenerate case Document is a single literal node holding edited
// verbatim, matching the forward-style fallback spec.md §9 sanctions for
// pathological inputs (callers should log a warning and treat this like a
// forward sync).
type ExtractResult struct {
	Document   *Document
	Quacks     map[int]string
	Degenerate bool
}

// Extract recovers a new template and updated quack bodies from a rendered
// file the user has hand-edited. The algorithm walks the document in
// source order, anchoring on each non-quack node's expected rendered text:
// a quack region absorbs whatever text of the edited file falls between
// the anchors on either side of it (a diff-driven alignment against the
// template's static skeleton, per spec.md §9), a hole whose matched span
// equals its declared default is left alone, and any other mismatch
// becomes a literal edit to the template itself.
//
// Extract is idempotent: Extract(doc, bindings, quacks, isGroupTemplate,
// Render(doc, bindings, quacks, isGroupTemplate)) returns doc and quacks
// unchanged.
func Extract(doc *Document, bindings map[string]string, priorQuacks map[int]string, isGroupTemplate bool, edited string) (ExtractResult, error) {
	canonical, err := Render(doc, bindings, priorQuacks, isGroupTemplate)
	if err != nil {
		return ExtractResult{}, err
	}
	if canonical == edited {
		quacks := make(map[int]string, len(priorQuacks))
		for k, v := range priorQuacks {
			quacks[k] = v
		}
		return ExtractResult{Document: doc, Quacks: quacks}, nil
	}

	expected := make([]string, len(doc.Nodes))
	quackIndex := 0
	for i, node := range doc.Nodes {
		switch node.Kind {
		case Literal:
			expected[i] = node.Literal
		case Hole:
			value, ok := bindings[node.Name]
			if !ok {
				if node.Default != nil {
					value = *node.Default
				}
			}
			expected[i] = value
		case Quack:
			if isGroupTemplate {
				if content, ok := priorQuacks[quackIndex]; ok {
					expected[i] = content
				} else {
					expected[i] = node.Body
				}
			} else {
				expected[i] = node.Body
			}
			quackIndex++
		}
	}

	newNodes := make([]Node, len(doc.Nodes))
	copy(newNodes, doc.Nodes)
	newQuacks := make(map[int]string, len(priorQuacks))
	for k, v := range priorQuacks {
		newQuacks[k] = v
	}

	cursor := 0
	quackIndex = 0
	for i, node := range doc.Nodes {
		isLast := i == len(doc.Nodes)-1

		if node.Kind != Quack && strings.HasPrefix(edited[cursor:], expected[i]) {
			cursor += len(expected[i])
			continue
		}

		// Either this is a quack (always captured by searching ahead) or a
		// non-quack node whose text no longer matches at the cursor: in
		// both cases, find where the *next* anchor begins in edited and
		// treat everything up to it as this node's new content.
		var segment string
		if isLast {
			segment = edited[cursor:]
			cursor = len(edited)
		} else {
			nextAnchor, ok := nextNonQuackAnchor(doc.Nodes, expected, i+1)
			if !ok || nextAnchor == "" {
				segment = edited[cursor:]
				cursor = len(edited)
			} else {
				idx := strings.Index(edited[cursor:], nextAnchor)
				if idx < 0 {
					return degenerateResult(edited), nil
				}
				segment = edited[cursor : cursor+idx]
				cursor += idx
			}
		}

		switch node.Kind {
		case Quack:
			body := strings.TrimSpace(segment)
			newQuacks[quackIndex] = body
		case Hole:
			if node.Default != nil && segment == *node.Default {
				// Matches the declared default: absorbed, no template edit.
			} else {
				newNodes[i] = Node{Kind: Literal, Literal: segment}
			}
		case Literal:
			newNodes[i] = Node{Kind: Literal, Literal: segment}
		}

		if node.Kind == Quack {
			quackIndex++
		}
	}

	return ExtractResult{Document: &Document{Nodes: newNodes}, Quacks: newQuacks}, nil
}

func degenerateResult(edited string) ExtractResult {
	return ExtractResult{
		Document:   &Document{Nodes: []Node{{Kind: Literal, Literal: edited}}},
		Quacks:     map[int]string{},
		Degenerate: true,
	}
}

// nextNonQuackAnchor returns the expected text of the first non-quack node
// with non-empty expected text at or after index from. Quack nodes are
// skipped as anchors: their content is itself subject to change, so they
// cannot bound a search for another node's edit.
func nextNonQuackAnchor(nodes []Node, expected []string, from int) (string, bool) {
	for i := from; i < len(nodes); i++ {
		if nodes[i].Kind != Quack && expected[i] != "" {
			return expected[i], true
		}
	}
	return "", false
}
