package document

import (
	"fmt"
	"strconv"
	"strings"
)

// Segment is one step of a Path: either an object key or an array index.
type Segment struct {
	Key     string
	Index   int
	IsIndex bool
}

// Path addresses a node inside a document. Its text form uses dots for keys
// and brackets for indexes, e.g. party[0].ivs[5] or dexData.25.caughtCount.
// Keys that cannot be written bare are quoted: starterData["odd.key"].
type Path []Segment

// Root is the empty path, addressing the document itself.
var Root = Path(nil)

// Key returns a copy of p extended by an object key.
func (p Path) Key(k string) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, Segment{Key: k})
}

// Index returns a copy of p extended by an array index.
func (p Path) Index(i int) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, Segment{Index: i, IsIndex: true})
}

// Last returns the final segment of p and whether p is non-empty.
func (p Path) Last() (Segment, bool) {
	if len(p) == 0 {
		return Segment{}, false
	}
	return p[len(p)-1], true
}

// String renders p in dot/bracket form. The root path renders as "".
func (p Path) String() string {
	var b strings.Builder
	for i, s := range p {
		switch {
		case s.IsIndex:
			fmt.Fprintf(&b, "[%d]", s.Index)
		case bareKey(s.Key):
			if i > 0 {
				b.WriteByte('.')
			}
			b.WriteString(s.Key)
		default:
			fmt.Fprintf(&b, "[%s]", strconv.Quote(s.Key))
		}
	}
	return b.String()
}

func bareKey(k string) bool {
	return k != "" && !strings.ContainsAny(k, ".[]\"")
}

// ParsePath parses the text form produced by Path.String.
func ParsePath(s string) (Path, error) {
	var p Path
	i := 0
	for i < len(s) {
		switch s[i] {
		case '.':
			if i == 0 || i == len(s)-1 {
				return nil, fmt.Errorf("invalid path %q: misplaced '.'", s)
			}
			i++
		case '[':
			end := i + 1
			if end < len(s) && s[end] == '"' {
				quoted, err := strconv.QuotedPrefix(s[end:])
				if err != nil {
					return nil, fmt.Errorf("invalid path %q: %w", s, err)
				}
				key, _ := strconv.Unquote(quoted)
				end += len(quoted)
				if end >= len(s) || s[end] != ']' {
					return nil, fmt.Errorf("invalid path %q: unterminated key", s)
				}
				p = append(p, Segment{Key: key})
				i = end + 1
				continue
			}
			rb := strings.IndexByte(s[end:], ']')
			if rb < 0 {
				return nil, fmt.Errorf("invalid path %q: unterminated index", s)
			}
			n, err := strconv.Atoi(s[end : end+rb])
			if err != nil || n < 0 {
				return nil, fmt.Errorf("invalid path %q: bad index %q", s, s[end:end+rb])
			}
			p = append(p, Segment{Index: n, IsIndex: true})
			i = end + rb + 1
		default:
			end := i
			for end < len(s) && s[end] != '.' && s[end] != '[' {
				end++
			}
			p = append(p, Segment{Key: s[i:end]})
			i = end
		}
	}
	return p, nil
}

// Lookup returns the node addressed by p.
func (v *Value) Lookup(p Path) (*Value, bool) {
	cur := v
	for _, s := range p {
		if s.IsIndex {
			next := cur.Index(s.Index)
			if next == nil {
				return nil, false
			}
			cur = next
			continue
		}
		next, ok := cur.Get(s.Key)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// SetPath stores val at p. Every parent of p must already exist; the final
// segment may add a new object member or replace an existing array element.
func (v *Value) SetPath(p Path, val *Value) error {
	last, ok := p.Last()
	if !ok {
		return fmt.Errorf("cannot replace the document root")
	}
	parent, ok := v.Lookup(p[:len(p)-1])
	if !ok {
		return fmt.Errorf("parent of %s does not exist", p)
	}
	if last.IsIndex {
		if parent.Kind() != KindArray || last.Index >= len(parent.items) {
			return fmt.Errorf("index %s out of range", p)
		}
		parent.items[last.Index] = val
		return nil
	}
	if parent.Kind() != KindObject {
		return fmt.Errorf("parent of %s is %s, not object", p, parent.Kind())
	}
	parent.Set(last.Key, val)
	return nil
}

// PointerPath converts an RFC 6901 JSON pointer into a Path, treating a
// numeric token as an index when the node it applies to is an array.
func (v *Value) PointerPath(ptr string) Path {
	if ptr == "" {
		return Root
	}
	var p Path
	cur := v
	for _, tok := range strings.Split(strings.TrimPrefix(ptr, "/"), "/") {
		tok = strings.ReplaceAll(strings.ReplaceAll(tok, "~1", "/"), "~0", "~")
		if cur.Kind() == KindArray {
			if n, err := strconv.Atoi(tok); err == nil {
				p = p.Index(n)
				cur = cur.Index(n)
				continue
			}
		}
		p = p.Key(tok)
		cur, _ = cur.Get(tok)
	}
	return p
}
