// Package resource implements the worker resource-path grammar: parsing
// and printing the '/q/<db>/<chunk>', '/chk/<db>/<chunk>', and
// '/result/<hash>' paths used to address per-chunk queries, chunk
// tables, and coordinator results.
package resource

import (
	"strconv"
	"strings"
)

// Kind identifies the resource path's grammar production.
type Kind int

const (
	// Garbage marks any structurally malformed path, including an
	// empty db or hash — this implementation standardizes on GARBAGE
	// for every such case rather than the source's mixed GARBAGE/UNKNOWN
	// behavior.
	Garbage Kind = iota
	Unknown
	Query
	Chunk
	Result
)

func (k Kind) String() string {
	switch k {
	case Query:
		return "q"
	case Chunk:
		return "chk"
	case Result:
		return "result"
	case Unknown:
		return "UNKNOWN"
	default:
		return "GARBAGE"
	}
}

// Path is a parsed resource path.
type Path struct {
	Kind    Kind
	Db      string
	ChunkID int
	Hash    string
	KV      map[string]string
}

// garbageString is the sentinel re-serialized for Garbage/Unknown paths.
const garbageString = "GARBAGE"

// Parse parses a resource path string into a Path. Any deviation from
// the grammar yields Kind == Garbage.
func Parse(s string) Path {
	if s == "" || s[0] != '/' {
		return Path{Kind: Garbage}
	}
	body := s[1:]
	kvPart := ""
	if idx := strings.IndexAny(body, "?&"); idx >= 0 {
		kvPart = body[idx:]
		body = body[:idx]
	}
	segments := strings.Split(body, "/")

	var p Path
	switch segments[0] {
	case "q":
		p.Kind = Query
	case "chk":
		p.Kind = Chunk
	case "result":
		p.Kind = Result
	default:
		return Path{Kind: Garbage}
	}

	switch p.Kind {
	case Query, Chunk:
		if len(segments) != 3 || segments[1] == "" || segments[2] == "" {
			return Path{Kind: Garbage}
		}
		id, err := strconv.Atoi(segments[2])
		if err != nil {
			return Path{Kind: Garbage}
		}
		p.Db = segments[1]
		p.ChunkID = id
	case Result:
		if len(segments) != 2 || segments[1] == "" {
			return Path{Kind: Garbage}
		}
		p.Hash = segments[1]
	}

	if kvPart != "" {
		p.KV = parseKV(kvPart)
	}
	return p
}

func parseKV(s string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == '?' || r == '&' }) {
		if part == "" {
			continue
		}
		if eq := strings.IndexByte(part, '='); eq >= 0 {
			out[part[:eq]] = part[eq+1:]
		} else {
			out[part] = ""
		}
	}
	return out
}

// String renders Query/Chunk/Result paths in the form Parse accepts;
// Garbage/Unknown re-serialize to a fixed sentinel string. Key/value
// pairs are written in map iteration order, so a path with more than one
// of them is not reproduced byte for byte.
func (p Path) String() string {
	var b strings.Builder
	switch p.Kind {
	case Query, Chunk:
		b.WriteByte('/')
		b.WriteString(p.Kind.String())
		b.WriteByte('/')
		b.WriteString(p.Db)
		b.WriteByte('/')
		b.WriteString(strconv.Itoa(p.ChunkID))
	case Result:
		b.WriteString("/result/")
		b.WriteString(p.Hash)
	default:
		return garbageString
	}
	first := true
	for k, v := range p.KV {
		if first {
			b.WriteByte('?')
			first = false
		} else {
			b.WriteByte('&')
		}
		b.WriteString(k)
		if v != "" {
			b.WriteByte('=')
			b.WriteString(v)
		}
	}
	return b.String()
}
