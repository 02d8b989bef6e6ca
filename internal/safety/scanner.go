package safety

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokenWord tokenKind = iota
	tokenNumber
	tokenString
	tokenQuotedIdent
	tokenComment
	tokenOperator
	tokenSemicolon
	tokenLParen
	tokenRParen
	tokenComma
	tokenDot
)

type token struct {
	kind tokenKind
	// text is the token as written.
	text string
	// body is the unquoted contents of strings, quoted identifiers and
	// comments. For every other kind it equals text.
	body string
	pos  int
	// spaced is true when whitespace or a comment separates the token from
	// the previous one.
	spaced bool
}

func (t token) upper() string {
	return strings.ToUpper(t.text)
}

type scanError struct {
	pos   int
	token string
}

const operatorChars = "+-*/%=<>!|&^~:{}"

// scanner splits SQL text into tokens. It understands the lexical rules the
// supported dialects share and refuses anything else, so an unexpected byte
// never slips past the gate as an unclassified token.
type scanner struct {
	input  string
	pos    int
	tokens []token
}

func scan(input string) ([]token, *scanError) {
	s := &scanner{input: input}
	spaced := false
	for {
		if s.skipWhitespace() {
			spaced = true
		}
		if s.pos >= len(s.input) {
			return s.tokens, nil
		}
		start := s.pos
		tok, err := s.next()
		if err != nil {
			return nil, err
		}
		tok.pos = start
		tok.spaced = spaced
		s.tokens = append(s.tokens, tok)
		spaced = tok.kind == tokenComment
	}
}

func (s *scanner) skipWhitespace() bool {
	moved := false
	for s.pos < len(s.input) {
		r, size := utf8.DecodeRuneInString(s.input[s.pos:])
		if !unicode.IsSpace(r) {
			break
		}
		s.pos += size
		moved = true
	}
	return moved
}

func (s *scanner) peek(offset int) byte {
	if s.pos+offset >= len(s.input) {
		return 0
	}
	return s.input[s.pos+offset]
}

func (s *scanner) next() (token, *scanError) {
	ch := s.input[s.pos]
	switch {
	case ch == '-' && s.peek(1) == '-':
		return s.lineComment(), nil
	case ch == '/' && s.peek(1) == '*':
		return s.blockComment()
	case ch == '\'':
		return s.quoted('\'', tokenString)
	case ch == '"':
		return s.quoted('"', tokenQuotedIdent)
	case ch == '`':
		return s.quoted('`', tokenQuotedIdent)
	case ch == '[':
		return s.bracketed()
	case ch == ';':
		s.pos++
		return token{kind: tokenSemicolon, text: ";", body: ";"}, nil
	case ch == '(':
		s.pos++
		return token{kind: tokenLParen, text: "(", body: "("}, nil
	case ch == ')':
		s.pos++
		return token{kind: tokenRParen, text: ")", body: ")"}, nil
	case ch == ',':
		s.pos++
		return token{kind: tokenComma, text: ",", body: ","}, nil
	case ch == '.' && !isDigit(s.peek(1)):
		s.pos++
		return token{kind: tokenDot, text: ".", body: "."}, nil
	case isDigit(ch) || ch == '.':
		return s.number(), nil
	case strings.IndexByte(operatorChars, ch) >= 0:
		return s.operator(), nil
	}

	r, size := utf8.DecodeRuneInString(s.input[s.pos:])
	if r == utf8.RuneError && size <= 1 {
		return token{}, &scanError{pos: s.pos, token: s.input[s.pos : s.pos+1]}
	}
	if isIdentStart(r) {
		return s.word(), nil
	}
	return token{}, &scanError{pos: s.pos, token: string(r)}
}

func (s *scanner) lineComment() token {
	start := s.pos
	end := strings.IndexByte(s.input[start:], '\n')
	if end < 0 {
		s.pos = len(s.input)
	} else {
		s.pos = start + end
	}
	text := s.input[start:s.pos]
	return token{kind: tokenComment, text: text, body: text[2:]}
}

func (s *scanner) blockComment() (token, *scanError) {
	start := s.pos
	end := strings.Index(s.input[start+2:], "*/")
	if end < 0 {
		return token{}, &scanError{pos: start, token: "/*"}
	}
	s.pos = start + 2 + end + 2
	text := s.input[start:s.pos]
	return token{kind: tokenComment, text: text, body: text[2 : len(text)-2]}, nil
}

// quoted reads a string literal or quoted identifier. A doubled quote is an
// escaped quote. Backslashes inside string literals are refused because the
// dialects disagree on whether they escape the quote.
func (s *scanner) quoted(quote byte, kind tokenKind) (token, *scanError) {
	start := s.pos
	s.pos++
	var body strings.Builder
	for s.pos < len(s.input) {
		ch := s.input[s.pos]
		if ch == quote {
			if s.peek(1) == quote {
				body.WriteByte(quote)
				s.pos += 2
				continue
			}
			s.pos++
			return token{kind: kind, text: s.input[start:s.pos], body: body.String()}, nil
		}
		if ch == '\\' && kind == tokenString {
			return token{}, &scanError{pos: s.pos, token: `\`}
		}
		body.WriteByte(ch)
		s.pos++
	}
	return token{}, &scanError{pos: start, token: string(quote)}
}

// bracketed reads a [name] identifier. The brackets also delimit list
// literals and subscripts in some dialects; reading them as an identifier
// keeps a bracketed relation name visible to the table check. There is no
// escape for ], and a ] without an opening [ is a scan error.
func (s *scanner) bracketed() (token, *scanError) {
	start := s.pos
	end := strings.IndexByte(s.input[start+1:], ']')
	if end < 0 {
		return token{}, &scanError{pos: start, token: "["}
	}
	s.pos = start + 1 + end + 1
	text := s.input[start:s.pos]
	return token{kind: tokenQuotedIdent, text: text, body: text[1 : len(text)-1]}, nil
}

func (s *scanner) number() token {
	start := s.pos
	for s.pos < len(s.input) {
		ch := s.input[s.pos]
		switch {
		case isDigit(ch) || ch == '.':
			s.pos++
		case (ch == 'e' || ch == 'E') && (isDigit(s.peek(1)) || ((s.peek(1) == '+' || s.peek(1) == '-') && isDigit(s.peek(2)))):
			s.pos += 2
		default:
			text := s.input[start:s.pos]
			return token{kind: tokenNumber, text: text, body: text}
		}
	}
	text := s.input[start:s.pos]
	return token{kind: tokenNumber, text: text, body: text}
}

func (s *scanner) operator() token {
	start := s.pos
	for s.pos < len(s.input) && strings.IndexByte(operatorChars, s.input[s.pos]) >= 0 {
		if s.pos > start && ((s.input[s.pos] == '-' && s.peek(1) == '-') || (s.input[s.pos] == '/' && s.peek(1) == '*')) {
			break
		}
		s.pos++
	}
	text := s.input[start:s.pos]
	return token{kind: tokenOperator, text: text, body: text}
}

func (s *scanner) word() token {
	start := s.pos
	for s.pos < len(s.input) {
		r, size := utf8.DecodeRuneInString(s.input[s.pos:])
		if !isIdentPart(r) {
			break
		}
		s.pos += size
	}
	text := s.input[start:s.pos]
	return token{kind: tokenWord, text: text, body: text}
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// wordsIn splits free text into identifier-like words. It is used to look for
// policy keywords inside comments, literals and quoted identifiers.
func wordsIn(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// render joins tokens back into a single line with comments removed. Tokens
// that were separated in the input stay separated by one space.
func render(tokens []token) string {
	var b strings.Builder
	for i, tok := range tokens {
		if i > 0 && tok.spaced {
			b.WriteByte(' ')
		}
		b.WriteString(tok.text)
	}
	return b.String()
}
