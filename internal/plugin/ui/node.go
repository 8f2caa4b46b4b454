// Package ui defines the element tree that plugin header and body methods
// produce.
//
// Plugins build trees through the UI framework binding (createElement) or the
// markup runtime (jsx/jsxs). Both end up as Node values on the host side, so
// the host never touches realm objects while rendering.
package ui

import (
	"fmt"
	"strings"
)

// Sentinel node types.
const (
	// Fragment groups children without introducing an element.
	Fragment = "#fragment"

	// TextType marks a text leaf. Its content is in Node.Text.
	TextType = "#text"
)

// Handler is a function prop (onClick, onChange, ...) exposed to the host.
// Handlers bound to a realm serialize through that realm.
type Handler func(args ...any) error

// Node is one element of a rendered tree.
type Node struct {
	Type     string
	Key      string
	Props    map[string]any
	Children []Node
	Text     string
}

// Text returns a text leaf.
func Text(s string) Node {
	return Node{Type: TextType, Text: s}
}

// Element returns an element node with the given props and children.
func Element(tag string, props map[string]any, children ...Node) Node {
	if props == nil {
		props = make(map[string]any)
	}
	return Node{Type: tag, Props: props, Children: children}
}

// Group returns a fragment node.
func Group(children ...Node) Node {
	return Node{Type: Fragment, Children: children}
}

// IsZero reports whether n is the empty node (rendered as nothing).
func (n Node) IsZero() bool {
	return n.Type == "" && n.Text == "" && len(n.Children) == 0
}

// IsText reports whether n is a text leaf.
func (n Node) IsText() bool {
	return n.Type == TextType
}

// Prop returns a prop value.
func (n Node) Prop(name string) (any, bool) {
	if n.Props == nil {
		return nil, false
	}
	v, ok := n.Props[name]
	return v, ok
}

// StringProp returns a prop formatted as a string, or "" if absent.
func (n Node) StringProp(name string) string {
	v, ok := n.Prop(name)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Handler returns the function prop with the given name.
func (n Node) Handler(name string) (Handler, bool) {
	v, ok := n.Prop(name)
	if !ok {
		return nil, false
	}
	h, ok := v.(Handler)
	return h, ok
}

// Find returns the first node in depth-first order that matches.
func Find(root Node, match func(Node) bool) (Node, bool) {
	if match(root) {
		return root, true
	}
	for _, child := range root.Children {
		if n, ok := Find(child, match); ok {
			return n, true
		}
	}
	return Node{}, false
}

// FindAll returns every node in depth-first order that matches.
func FindAll(root Node, match func(Node) bool) []Node {
	var out []Node
	var walk func(Node)
	walk = func(n Node) {
		if match(n) {
			out = append(out, n)
		}
		for _, child := range n.Children {
			walk(child)
		}
	}
	walk(root)
	return out
}

// ByType matches nodes of the given element type.
func ByType(tag string) func(Node) bool {
	return func(n Node) bool { return n.Type == tag }
}

// ByProp matches nodes whose prop equals value.
func ByProp(name, value string) func(Node) bool {
	return func(n Node) bool {
		_, ok := n.Prop(name)
		return ok && n.StringProp(name) == value
	}
}

// PlainText concatenates the text leaves of the tree. Block-level elements
// are separated by newlines; pre keeps its content verbatim.
func PlainText(n Node) string {
	var b strings.Builder
	writeText(&b, n)
	return strings.TrimRight(b.String(), "\n")
}

var blockTypes = map[string]bool{
	"div": true, "p": true, "pre": true, "section": true, "header": true,
	"footer": true, "ul": true, "ol": true, "li": true, "h1": true, "h2": true,
	"h3": true, "h4": true, "br": true,
}

func writeText(b *strings.Builder, n Node) {
	if n.IsText() {
		b.WriteString(n.Text)
		return
	}
	block := blockTypes[n.Type]
	if block && b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
		b.WriteByte('\n')
	}
	for _, child := range n.Children {
		writeText(b, child)
	}
	if block && b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
		b.WriteByte('\n')
	}
}
