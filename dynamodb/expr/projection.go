package expr

import "strings"

// Projection sets the projection expression. Duplicates are dropped keeping
// first-seen order. Names that are reserved words or not plain identifiers
// are replaced by #prj_N tokens; a dot is part of the name, not a path
// separator.
func (b *Builder) Projection(names ...string) *Builder {
	if b.err != nil {
		return b
	}
	seen := map[string]bool{}
	parts := make([]string, 0, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		if isIdentifier(name) && !IsReserved(name) {
			parts = append(parts, name)
			continue
		}
		parts = append(parts, b.name(prefixProjection, name))
	}
	if len(parts) == 0 {
		return b
	}
	b.set("projection", &b.out.Projection, strings.Join(parts, ","))
	return b
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case (c >= '0' && c <= '9') || c == '_':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
