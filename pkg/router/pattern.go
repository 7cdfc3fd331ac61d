package router

import (
	"fmt"
	"regexp"
	"strings"
)

// remainderPrefix marks a placeholder that captures the rest of the path,
// slashes included: "/static/<path:path>".
const remainderPrefix = "path:"

var paramName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Params holds the values captured from a request path by name.
type Params map[string]string

// Get returns the named parameter or "".
func (p Params) Get(name string) string {
	return p[name]
}

// Pattern is a compiled route template.
type Pattern struct {
	template string
	re       *regexp.Regexp
	names    []string
}

// Compile turns a route template into a Pattern.
// Literal text matches verbatim, <name> matches a single path segment and
// <path:name> matches the remainder of the path. A remainder placeholder must
// close the template.
func Compile(template string) (*Pattern, error) {
	if !strings.HasPrefix(template, "/") {
		return nil, fmt.Errorf("route %q: template must start with /", template)
	}

	var (
		expr  strings.Builder
		names []string
		seen  = make(map[string]bool)
		rest  = template
	)
	expr.WriteString("^")

	for rest != "" {
		open := strings.IndexByte(rest, '<')
		if open < 0 {
			if strings.IndexByte(rest, '>') >= 0 {
				return nil, fmt.Errorf("route %q: unexpected '>'", template)
			}
			expr.WriteString(regexp.QuoteMeta(rest))
			break
		}
		if strings.IndexByte(rest[:open], '>') >= 0 {
			return nil, fmt.Errorf("route %q: unexpected '>'", template)
		}
		expr.WriteString(regexp.QuoteMeta(rest[:open]))

		closing := strings.IndexByte(rest[open:], '>')
		if closing < 0 {
			return nil, fmt.Errorf("route %q: unterminated placeholder", template)
		}
		placeholder := rest[open+1 : open+closing]
		rest = rest[open+closing+1:]

		name, remainder := strings.CutPrefix(placeholder, remainderPrefix)
		if !paramName.MatchString(name) {
			return nil, fmt.Errorf("route %q: invalid parameter name %q", template, name)
		}
		if seen[name] {
			return nil, fmt.Errorf("route %q: duplicate parameter %q", template, name)
		}
		seen[name] = true
		names = append(names, name)

		if remainder {
			if rest != "" {
				return nil, fmt.Errorf("route %q: <path:%s> must be the last element", template, name)
			}
			fmt.Fprintf(&expr, "(?P<%s>.+)", name)
			continue
		}
		fmt.Fprintf(&expr, "(?P<%s>[^/]+)", name)
	}
	expr.WriteString("$")

	re, err := regexp.Compile(expr.String())
	if err != nil {
		return nil, fmt.Errorf("route %q: %w", template, err)
	}
	return &Pattern{template: template, re: re, names: names}, nil
}

// String returns the source template.
func (p *Pattern) String() string {
	return p.template
}

// Static reports whether the template has no placeholders.
func (p *Pattern) Static() bool {
	return len(p.names) == 0
}

// Match reports whether path matches the whole pattern and returns the
// captured parameters. Any query string is ignored.
func (p *Pattern) Match(path string) (Params, bool) {
	path, _, _ = strings.Cut(path, "?")

	m := p.re.FindStringSubmatch(path)
	if m == nil {
		return nil, false
	}
	params := make(Params, len(p.names))
	for i, name := range p.re.SubexpNames() {
		if i == 0 || name == "" {
			continue
		}
		params[name] = m[i]
	}
	return params, true
}
