package router

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/searchktools/wirehttp/core/http"
)

// Handler turns a request into a response. It never touches the transport.
type Handler func(*http.Request) *http.Response

var (
	ErrInvalidPattern = errors.New("invalid route pattern")
	ErrNilHandler     = errors.New("nil route handler")
)

// Route is one compiled (method, pattern, handler) entry
type Route struct {
	Method  string
	Pattern string
	Names   []string // capture names in pattern order

	re      *regexp.Regexp // nil when the pattern has no captures
	handler Handler
}

// match reports whether path satisfies the route and returns its captures
func (r *Route) match(path string) (map[string]string, bool) {
	if r.re == nil {
		if path != r.Pattern {
			return nil, false
		}
		return map[string]string{}, true
	}

	m := r.re.FindStringSubmatch(path)
	if m == nil {
		return nil, false
	}
	params := make(map[string]string, len(r.Names))
	for i, name := range r.Names {
		params[name] = m[i+1]
	}
	return params, true
}

// compile turns a pattern like /users/:id/posts/:post into an anchored
// expression. Literal text is quoted; a ':' not followed by a name
// character stays literal.
func compile(pattern string) (*regexp.Regexp, []string, error) {
	if pattern == "" || pattern[0] != '/' {
		return nil, nil, fmt.Errorf("%w: %q must begin with '/'", ErrInvalidPattern, pattern)
	}

	var (
		expr    strings.Builder
		names   []string
		literal strings.Builder
	)
	expr.WriteByte('^')

	for i := 0; i < len(pattern); {
		if pattern[i] == ':' && i+1 < len(pattern) && isNameChar(pattern[i+1]) {
			j := i + 1
			for j < len(pattern) && isNameChar(pattern[j]) {
				j++
			}
			expr.WriteString(regexp.QuoteMeta(literal.String()))
			literal.Reset()
			expr.WriteString("([^/]+)")
			names = append(names, pattern[i+1:j])
			i = j
			continue
		}
		literal.WriteByte(pattern[i])
		i++
	}

	if len(names) == 0 {
		return nil, nil, nil
	}

	expr.WriteString(regexp.QuoteMeta(literal.String()))
	expr.WriteByte('$')
	re, err := regexp.Compile(expr.String())
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %q: %v", ErrInvalidPattern, pattern, err)
	}
	return re, names, nil
}

func isNameChar(c byte) bool {
	return c == '_' ||
		('a' <= c && c <= 'z') ||
		('A' <= c && c <= 'Z') ||
		('0' <= c && c <= '9')
}
