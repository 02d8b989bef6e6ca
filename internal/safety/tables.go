package safety

import "strings"

// Functions whose argument list may contain FROM without naming a relation.
var fromArgumentFunctions = map[string]bool{
	"EXTRACT":   true,
	"TRIM":      true,
	"SUBSTRING": true,
	"SUBSTR":    true,
	"POSITION":  true,
	"OVERLAY":   true,
}

// Keywords that close a FROM clause at the current nesting level.
var fromClauseEnders = map[string]bool{
	"WHERE":     true,
	"GROUP":     true,
	"ORDER":     true,
	"HAVING":    true,
	"LIMIT":     true,
	"OFFSET":    true,
	"UNION":     true,
	"INTERSECT": true,
	"EXCEPT":    true,
	"WINDOW":    true,
	"QUALIFY":   true,
	"FETCH":     true,
	"SELECT":    true,
}

// Keywords that may sit between FROM/JOIN and the relation they introduce.
var relationPrefixes = map[string]bool{
	"LATERAL": true,
	"ONLY":    true,
}

type scope struct {
	relational bool
	inFrom     bool
}

// referencedTables walks significant tokens and returns every relation named
// after FROM, JOIN, TABLE or a comma inside a FROM list, in first-seen order. Names
// are compared case-insensitively for de-duplication. Schema-qualified names
// are returned as written (dotted) so they only match a table carrying that
// exact name. String literals in relation position, as used by file-reading
// shorthands, are returned too.
func referencedTables(tokens []token) []string {
	stack := []scope{{relational: true}}
	expect := false
	seen := map[string]bool{}
	var refs []string
	add := func(name string) {
		key := strings.ToLower(name)
		if seen[key] {
			return
		}
		seen[key] = true
		refs = append(refs, name)
	}

	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		top := &stack[len(stack)-1]
		switch tok.kind {
		case tokenLParen:
			next := ""
			if i+1 < len(tokens) {
				next = tokens[i+1].upper()
			}
			startsQuery := next == "SELECT" || next == "WITH" || next == "VALUES"
			if expect && !startsQuery {
				// Parenthesized join tree: relations follow directly.
				stack = append(stack, scope{relational: true, inFrom: true})
				continue
			}
			relational := true
			if i > 0 && tokens[i-1].kind == tokenWord && fromArgumentFunctions[tokens[i-1].upper()] && !startsQuery {
				relational = false
			}
			stack = append(stack, scope{relational: relational})
			expect = false
		case tokenRParen:
			if len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
			expect = false
		case tokenComma:
			expect = top.relational && top.inFrom
		case tokenWord:
			upper := tok.upper()
			if upper == "FROM" || upper == "JOIN" {
				if !top.relational || (upper == "FROM" && i > 0 && tokens[i-1].upper() == "DISTINCT") {
					continue
				}
				top.inFrom = true
				expect = true
				continue
			}
			if expect && relationPrefixes[upper] {
				continue
			}
			// TABLE name is shorthand for SELECT * FROM name and may appear
			// anywhere a query can.
			if upper == "TABLE" && top.relational {
				expect = true
				continue
			}
			if fromClauseEnders[upper] {
				top.inFrom = false
				expect = false
				continue
			}
			if expect {
				name, consumed := qualifiedName(tokens, i)
				add(name)
				i += consumed
				expect = false
			}
		case tokenQuotedIdent:
			if expect {
				name, consumed := qualifiedName(tokens, i)
				add(name)
				i += consumed
				expect = false
			}
		case tokenString:
			if expect {
				add(tok.body)
				expect = false
			}
		default:
			expect = false
		}
	}
	return refs
}

// qualifiedName reads name(.name)* starting at tokens[i] and reports how many
// extra tokens it consumed.
func qualifiedName(tokens []token, i int) (string, int) {
	parts := []string{tokens[i].body}
	consumed := 0
	for j := i + 1; j+1 < len(tokens); j += 2 {
		if tokens[j].kind != tokenDot {
			break
		}
		part := tokens[j+1]
		if part.kind != tokenWord && part.kind != tokenQuotedIdent {
			break
		}
		parts = append(parts, part.body)
		consumed += 2
	}
	return strings.Join(parts, "."), consumed
}
