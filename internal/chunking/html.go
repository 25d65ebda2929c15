package chunking

import (
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/maxaizer/microgram/internal/clients/telegram"
	"golang.org/x/net/html"
)

const maxEntityLength = 10

var voidElements = map[string]bool{
	"br": true, "hr": true, "img": true, "input": true, "link": true, "meta": true, "wbr": true,
}

// node is either a run of raw text, an unbreakable atom (self-closing tag,
// stray end tag, comment) or an element with children.
type node struct {
	text     string
	atom     bool
	name     string
	open     string
	children []*node
}

func (n *node) isElement() bool {
	return n.name != ""
}

func (n *node) isText() bool {
	return !n.atom && !n.isElement()
}

func (n *node) closing() string {
	return "</" + n.name + ">"
}

func (n *node) length() int {
	if !n.isElement() {
		return utf8.RuneCountInString(n.text)
	}
	return utf8.RuneCountInString(n.open) + nodesLength(n.children) + utf8.RuneCountInString(n.closing())
}

func (n *node) render(sb *strings.Builder) {
	if !n.isElement() {
		sb.WriteString(n.text)
		return
	}
	sb.WriteString(n.open)
	for _, child := range n.children {
		child.render(sb)
	}
	sb.WriteString(n.closing())
}

func nodesLength(nodes []*node) int {
	total := 0
	for _, n := range nodes {
		total += n.length()
	}
	return total
}

func render(prefix string, nodes []*node, suffix string) string {
	var sb strings.Builder
	sb.WriteString(prefix)
	for _, n := range nodes {
		n.render(&sb)
	}
	sb.WriteString(suffix)
	return sb.String()
}

// parseHTML builds the element tree keeping every token's raw source, so
// rendering an unsplit tree reproduces well-formed input byte for byte.
// Elements still open at the end are closed.
func parseHTML(text string) []*node {
	root := &node{}
	stack := []*node{root}

	tokenizer := html.NewTokenizer(strings.NewReader(text))
	for {
		tokenType := tokenizer.Next()
		if tokenType == html.ErrorToken {
			break
		}
		raw := string(tokenizer.Raw())
		top := stack[len(stack)-1]

		switch tokenType {
		case html.TextToken:
			if last := lastChild(top); last != nil && last.isText() {
				last.text += raw
			} else {
				top.children = append(top.children, &node{text: raw})
			}
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			if voidElements[string(name)] {
				top.children = append(top.children, &node{text: raw, atom: true})
				continue
			}
			element := &node{name: string(name), open: raw}
			top.children = append(top.children, element)
			stack = append(stack, element)
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			index := len(stack) - 1
			for index > 0 && stack[index].name != string(name) {
				index--
			}
			if index == 0 {
				top.children = append(top.children, &node{text: raw, atom: true})
				continue
			}
			stack = stack[:index]
		default:
			top.children = append(top.children, &node{text: raw, atom: true})
		}
	}

	return root.children
}

func lastChild(n *node) *node {
	if len(n.children) == 0 {
		return nil
	}
	return n.children[len(n.children)-1]
}

// SplitHTML splits Telegram-flavoured HTML. Every chunk reopens the
// elements enclosing its first character and closes them at its end, so
// no chunk leaves a tag open.
func SplitHTML(text string, limit int) []string {
	if limit <= 0 {
		limit = telegram.MaxMessageLength
	}
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	s := &htmlSplitter{limit: limit}
	s.split(parseHTML(text), nil)
	return s.chunks
}

type htmlSplitter struct {
	limit  int
	chunks []string
}

func (s *htmlSplitter) split(nodes []*node, inside []*node) {
	var prefix, suffix strings.Builder
	for i := range inside {
		prefix.WriteString(inside[i].open)
		suffix.WriteString(inside[len(inside)-1-i].closing())
	}
	room := s.limit - utf8.RuneCountInString(prefix.String()) - utf8.RuneCountInString(suffix.String())

	for len(nodes) > 0 {
		if nodesLength(nodes) <= room {
			s.chunks = append(s.chunks, render(prefix.String(), nodes, suffix.String()))
			return
		}

		if c, ok := findCut(nodes, room); ok {
			var left []*node
			left, nodes = c.apply(nodes)
			s.chunks = append(s.chunks, render(prefix.String(), left, suffix.String()))
			continue
		}

		first := nodes[0]
		switch {
		case first.isElement():
			s.split(first.children, append(slices.Clip(inside), first))
			nodes = nodes[1:]
		case len(inside) > 0:
			// the enclosing tags leave no room, continue without them
			s.split(nodes, nil)
			return
		default:
			s.chunks = append(s.chunks, hardSplit(first.text, s.limit)...)
			nodes = nodes[1:]
		}
	}
}

// cut splits after rune index of text node, or after the whole node when
// index is negative.
type cut struct {
	node  int
	index int
}

func (c cut) apply(nodes []*node) (left, right []*node) {
	if c.index < 0 {
		return nodes[:c.node+1], nodes[c.node+1:]
	}

	runes := []rune(nodes[c.node].text)
	left = append(slices.Clone(nodes[:c.node]), &node{text: string(runes[:c.index+1])})
	if rest := runes[c.index+1:]; len(rest) > 0 {
		right = append(right, &node{text: string(rest)})
	}
	right = append(right, nodes[c.node+1:]...)
	return left, right
}

// findCut picks the last newline that fits, else the last space, else the
// last position that neither splits an entity nor a tag.
func findCut(nodes []*node, room int) (cut, bool) {
	newline, space, anywhere := cut{node: -1}, cut{node: -1}, cut{node: -1}

	length := 0
	for ti, n := range nodes {
		if length > room {
			break
		}

		if n.isText() {
			runes := []rune(n.text)
			inEntity := entityMask(runes)
			for ci, r := range runes {
				if length+ci+1 > room {
					break
				}
				switch r {
				case '\n':
					newline = cut{ti, ci}
				case ' ', '\t':
					space = cut{ti, ci}
				}
				if !inEntity[ci] {
					anywhere = cut{ti, ci}
				}
			}
			length += len(runes)
		} else {
			length += n.length()
		}

		if length <= room && ti < len(nodes)-1 {
			anywhere = cut{node: ti, index: -1}
		}
	}

	for _, c := range []cut{newline, space, anywhere} {
		if c.node >= 0 {
			return c, true
		}
	}
	return cut{}, false
}

// entityMask marks the runes after which a cut would split a character
// reference such as "&amp;".
func entityMask(runes []rune) []bool {
	mask := make([]bool, len(runes))
	for i := 0; i < len(runes); i++ {
		if runes[i] != '&' {
			continue
		}
		j := i + 1
		for j < len(runes) && j-i <= maxEntityLength && isEntityRune(runes[j]) {
			j++
		}
		if j < len(runes) && j > i+1 && runes[j] == ';' {
			for k := i; k < j; k++ {
				mask[k] = true
			}
			i = j
		}
	}
	return mask
}

func isEntityRune(r rune) bool {
	return r == '#' || ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9')
}

func hardSplit(text string, limit int) []string {
	var chunks []string
	runes := []rune(text)
	for len(runes) > limit {
		chunks = append(chunks, string(runes[:limit]))
		runes = runes[limit:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}
