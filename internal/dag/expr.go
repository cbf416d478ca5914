package dag

import "strings"

// ParseExprs splits a list of edge expressions ("X" or "X -> Y") into
// dependency pairs and standalone node names. Each side is trimmed of
// surrounding whitespace; empty tokens are ignored.
func ParseExprs(exprs []string, sep string) (edges []Edge, singles []string) {
	if sep == "" {
		sep = "->"
	}
	for _, expr := range exprs {
		segs := splitTrim(expr, sep)
		switch len(segs) {
		case 1:
			if segs[0] != "" {
				singles = append(singles, segs[0])
			}
		case 2:
			edges = append(edges, Edge{From: segs[0], To: segs[1]})
		}
	}
	return edges, singles
}

func splitTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
