// Package templater evaluates {{ ... }} expressions against the scoped run
// context using pongo2's Jinja-like grammar. pongo2 resolves unknown names to
// empty values, so every template is reference-checked against the context
// before rendering; expressions guarded by the default filter or the or
// operator are exempt.
package templater

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	pongo2 "github.com/flosch/pongo2/v6"

	"github.com/awantoch/beemflow/pkg/errors"
	"github.com/awantoch/beemflow/utils"
)

// Templater renders templates and evaluates expressions. Safe for concurrent
// use; it holds no per-render state.
type Templater struct{}

func New() *Templater {
	return &Templater{}
}

func init() {
	// Escaping happens only through the explicit escape filter.
	pongo2.SetAutoescape(false)
	// pongo2 ships Django's truncatechars but not truncate(n).
	_ = pongo2.RegisterFilter("truncate", filterTruncate)
}

func filterTruncate(in *pongo2.Value, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	n := param.Integer()
	if n < 0 {
		n = 0
	}
	runes := []rune(in.String())
	if len(runes) > n {
		runes = runes[:n]
	}
	return pongo2.AsValue(string(runes)), nil
}

// Render expands every {{ ... }} and {% ... %} in tmpl against data and
// returns the resulting string. Literal strings pass through unchanged.
// Filter arguments written call-style, join(", "), are normalized to
// pongo2's colon form before parsing.
func (t *Templater) Render(tmpl string, data map[string]any) (string, error) {
	if !strings.Contains(tmpl, "{{") && !strings.Contains(tmpl, "{%") {
		return tmpl, nil
	}
	tmpl = rewriteFilterCalls(tmpl)
	if err := checkRefs(tmpl, data); err != nil {
		return "", err
	}
	// pongo2's or yields a boolean, so value-coalescing output chunks are
	// evaluated here and spliced in as literals.
	tmpl, err := t.rewriteCoalesce(tmpl, data)
	if err != nil {
		return "", err
	}
	utils.Debug("render template %q", tmpl)
	pl, err := pongo2.FromString(tmpl)
	if err != nil {
		return "", errors.Template("template syntax: %v", err)
	}
	out, err := pl.Execute(pongo2.Context(data))
	if err != nil {
		return "", errors.Template("template render: %v", err)
	}
	return out, nil
}

// rewriteFilterCalls turns |name(arg) filter applications inside template
// chunks into pongo2's |name:arg form. Matching runs on a copy with string
// literals blanked so pipes and parentheses inside quotes are left alone;
// the argument text is taken from the original.
func rewriteFilterCalls(tmpl string) string {
	return exprChunk.ReplaceAllStringFunc(tmpl, func(chunk string) string {
		masked := stringLit.ReplaceAllStringFunc(chunk, func(s string) string {
			return strings.Repeat(" ", len(s))
		})
		locs := filterCall.FindAllStringSubmatchIndex(masked, -1)
		if locs == nil {
			return chunk
		}
		var sb strings.Builder
		last := 0
		for _, loc := range locs {
			name := chunk[loc[2]:loc[3]]
			arg := chunk[loc[4]:loc[5]]
			sb.WriteString(chunk[last:loc[0]])
			sb.WriteString("|")
			sb.WriteString(name)
			if strings.TrimSpace(arg) != "" {
				sb.WriteString(":")
				sb.WriteString(arg)
			}
			last = loc[1]
		}
		sb.WriteString(chunk[last:])
		return sb.String()
	})
}

// rewriteCoalesce replaces {{ a or b }} output chunks with their coalesced
// value so or keeps operand values instead of pongo2's boolean result.
func (t *Templater) rewriteCoalesce(tmpl string, data map[string]any) (string, error) {
	var firstErr error
	out := outputChunk.ReplaceAllStringFunc(tmpl, func(chunk string) string {
		if firstErr != nil {
			return chunk
		}
		expr := strings.TrimSpace(chunk[2 : len(chunk)-2])
		ops := splitTopLevelOr(expr)
		if len(ops) < 2 {
			return chunk
		}
		val, err := t.coalesce(ops, data)
		if err != nil {
			firstErr = err
			return chunk
		}
		if val == nil {
			return ""
		}
		return fmt.Sprintf("%v", val)
	})
	return out, firstErr
}

// coalesce evaluates operands left to right and returns the first truthy
// value; undefined references count as nil. The last operand's value is
// returned when none are truthy.
func (t *Templater) coalesce(ops []string, data map[string]any) (any, error) {
	var last any
	for _, op := range ops {
		val, err := t.Eval("{{ "+strings.TrimSpace(op)+" }}", data)
		if err != nil {
			if IsUndefined(err) {
				last = nil
				continue
			}
			return nil, err
		}
		if Truthy(val) {
			return val, nil
		}
		last = val
	}
	return last, nil
}

// splitTopLevelOr splits an expression on or operators outside quotes,
// brackets, and parentheses. A single-element result means no top-level or.
func splitTopLevelOr(expr string) []string {
	var (
		parts []string
		depth int
		quote byte
		start int
	)
	for i := 0; i < len(expr); i++ {
		c := expr[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case 'o':
			if depth == 0 && strings.HasPrefix(expr[i:], "or") &&
				i > 0 && isBoundary(expr[i-1]) &&
				i+2 < len(expr) && isBoundary(expr[i+2]) {
				parts = append(parts, expr[start:i])
				start = i + 2
				i++
			}
		}
	}
	parts = append(parts, expr[start:])
	if len(parts) == 1 {
		return parts
	}
	return parts
}

func isBoundary(c byte) bool {
	return c == ' ' || c == '\t' || c == '(' || c == ')'
}

// Eval evaluates a template and preserves the value's type when tmpl is a
// single expression with no surrounding literal text: simple paths resolve
// directly against the context, complex expressions render and are decoded
// back from their string form when possible. Mixed templates stringify.
func (t *Templater) Eval(tmpl string, data map[string]any) (any, error) {
	if !strings.Contains(tmpl, "{{") {
		if strings.Contains(tmpl, "{%") {
			return t.Render(tmpl, data)
		}
		return tmpl, nil
	}
	trimmed := strings.TrimSpace(tmpl)
	if strings.HasPrefix(trimmed, "{{") && strings.HasSuffix(trimmed, "}}") &&
		strings.Count(trimmed, "{{") == 1 {
		expr := strings.TrimSpace(trimmed[2 : len(trimmed)-2])
		if ops := splitTopLevelOr(expr); len(ops) > 1 {
			return t.coalesce(ops, data)
		}
		if pathExpr.MatchString(expr) {
			return resolvePath(expr, data)
		}
		out, err := t.Render(trimmed, data)
		if err != nil {
			return nil, err
		}
		return decodeRendered(out), nil
	}
	return t.Render(tmpl, data)
}

// EvalValue applies Eval recursively: strings evaluate, mappings and
// sequences recurse, everything else passes through.
func (t *Templater) EvalValue(v any, data map[string]any) (any, error) {
	switch tv := v.(type) {
	case string:
		return t.Eval(tv, data)
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, val := range tv {
			rendered, err := t.EvalValue(val, data)
			if err != nil {
				return nil, err
			}
			out[k] = rendered
		}
		return out, nil
	case []any:
		out := make([]any, len(tv))
		for i, val := range tv {
			rendered, err := t.EvalValue(val, data)
			if err != nil {
				return nil, err
			}
			out[i] = rendered
		}
		return out, nil
	default:
		return v, nil
	}
}

// EvalCondition evaluates an if-expression to a boolean via Truthy.
func (t *Templater) EvalCondition(expr string, data map[string]any) (bool, error) {
	val, err := t.Eval(expr, data)
	if err != nil {
		return false, err
	}
	return Truthy(val), nil
}

// Truthy maps a template value onto condition semantics: nil and the string
// "false" are false, empty strings/sequences/mappings are false, zero
// numbers are false, everything else is true.
func Truthy(v any) bool {
	switch tv := v.(type) {
	case nil:
		return false
	case bool:
		return tv
	case string:
		return tv != "" && tv != "false"
	case int:
		return tv != 0
	case int64:
		return tv != 0
	case float64:
		return tv != 0
	case json.Number:
		f, err := tv.Float64()
		return err == nil && f != 0
	case []any:
		return len(tv) > 0
	case map[string]any:
		return len(tv) > 0
	default:
		return true
	}
}

// decodeRendered turns a rendered single-expression string back into a typed
// value: booleans (pongo2 prints them Python-style), JSON literals, and
// numbers decode, anything else stays a string.
func decodeRendered(out string) any {
	s := strings.TrimSpace(out)
	switch s {
	case "":
		return out
	case "True", "true":
		return true
	case "False", "false":
		return false
	}
	var v any
	dec := json.NewDecoder(strings.NewReader(s))
	if err := dec.Decode(&v); err == nil && !dec.More() {
		return v
	}
	return out
}

var (
	// pathExpr matches bare dotted/indexed access with no operators or
	// filters, e.g. vars.items, outputs.fetch["body"], xs[0].name.
	pathExpr = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z_][A-Za-z0-9_]*|\[\d+\]|\["[^"]*"\]|\['[^']*'\])*$`)

	// filterCall matches a call-style filter application after a pipe.
	filterCall = regexp.MustCompile(`\|\s*([A-Za-z_][A-Za-z0-9_]*)\(([^()]*)\)`)

	exprChunk   = regexp.MustCompile(`(?s)\{\{(.*?)\}\}|\{%(.*?)%\}`)
	outputChunk = regexp.MustCompile(`(?s)\{\{(.*?)\}\}`)
	stringLit   = regexp.MustCompile(`"[^"]*"|'[^']*'`)
	guardedRef  = regexp.MustCompile(`\|\s*default\b|\bor\b`)
	forTag      = regexp.MustCompile(`^\s*for\s+([A-Za-z_][A-Za-z0-9_]*)(?:\s*,\s*([A-Za-z_][A-Za-z0-9_]*))?\s+in\b`)

	// maskedPath matches reference paths in an expression whose string
	// literals have been blanked; `[   ]` spans are masked bracket keys.
	maskedPath = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z_][A-Za-z0-9_]*|\[\d+\]|\[\s+\])*`)
)

// reserved words never checked as references.
var reservedWords = map[string]bool{
	"and": true, "or": true, "not": true, "in": true, "is": true,
	"if": true, "elif": true, "else": true, "endif": true,
	"for": true, "endfor": true, "true": true, "false": true,
	"True": true, "False": true, "none": true, "None": true,
	"nil": true, "forloop": true,
}

// checkRefs resolves every unguarded reference path in tmpl against data and
// fails with a TemplateError on the first undefined one. Loop variables
// bound by {% for %} tags count as defined.
func checkRefs(tmpl string, data map[string]any) error {
	locals := map[string]bool{}
	chunks := exprChunk.FindAllStringSubmatch(tmpl, -1)
	for _, m := range chunks {
		if tag := m[2]; tag != "" {
			if fm := forTag.FindStringSubmatch(tag); fm != nil {
				locals[fm[1]] = true
				if fm[2] != "" {
					locals[fm[2]] = true
				}
			}
		}
	}
	for _, m := range chunks {
		expr := m[1]
		if expr == "" {
			expr = m[2]
		}
		if guardedRef.MatchString(expr) {
			continue
		}
		if err := checkExprRefs(expr, data, locals); err != nil {
			return err
		}
	}
	return nil
}

func checkExprRefs(expr string, data map[string]any, locals map[string]bool) error {
	// Hide quoted strings from path extraction but keep offsets stable so
	// bracket keys inside them are not mistaken for references.
	masked := stringLit.ReplaceAllStringFunc(expr, func(s string) string {
		return strings.Repeat(" ", len(s))
	})
	for _, loc := range findPaths(masked) {
		path := expr[loc[0]:loc[1]]
		root := rootOf(path)
		if reservedWords[root] || locals[root] {
			continue
		}
		// Tokens directly after a pipe are filter names, not references.
		if i := strings.LastIndexByte(strings.TrimRight(masked[:loc[0]], " \t"), '|'); i >= 0 &&
			strings.TrimSpace(masked[i+1:loc[0]]) == "" {
			continue
		}
		if _, err := resolvePath(path, data); err != nil {
			return err
		}
	}
	return nil
}

func findPaths(masked string) [][]int {
	return maskedPath.FindAllStringIndex(masked, -1)
}

func rootOf(path string) string {
	end := len(path)
	if i := strings.IndexAny(path, ".["); i >= 0 {
		end = i
	}
	return path[:end]
}

// undefinedRef marks errors caused by a missing name so or-coalescing can
// swallow them while real type and syntax errors still propagate.
func undefinedRef(path string) *errors.FlowError {
	return errors.Template("undefined reference %q", path).WithDetail("undefined", true)
}

// IsUndefined reports whether err is an undefined-reference TemplateError.
func IsUndefined(err error) bool {
	fe, ok := errors.As(err)
	return ok && fe.Kind == errors.KindTemplate && fe.Details["undefined"] == true
}

// resolvePath walks a dotted/indexed path through data. Missing hops are
// TemplateErrors (undefined reference); indexing into a scalar is a type
// mismatch.
func resolvePath(path string, data map[string]any) (any, error) {
	segs, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	var cur any = data
	for i, seg := range segs {
		switch node := cur.(type) {
		case map[string]any:
			// Numeric indexes also try the literal string key so
			// mappings with digit keys stay addressable.
			val, ok := node[seg.key]
			if !ok {
				return nil, undefinedRef(strings.Join(segNames(segs[:i+1]), "."))
			}
			cur = val
		case []any:
			if seg.index < 0 {
				return nil, errors.Template("cannot access field %q on sequence in %q", seg.key, path)
			}
			if seg.index >= len(node) {
				return nil, errors.Template("index %d out of range in %q", seg.index, path)
			}
			cur = node[seg.index]
		case nil:
			return nil, undefinedRef(strings.Join(segNames(segs[:i+1]), "."))
		default:
			return nil, errors.Template("cannot descend into %T at %q in %q", cur, seg.key, path)
		}
	}
	return cur, nil
}

type pathSeg struct {
	key   string
	index int // -1 for key access
}

func segNames(segs []pathSeg) []string {
	out := make([]string, len(segs))
	for i, s := range segs {
		out[i] = s.key
	}
	return out
}

func splitPath(path string) ([]pathSeg, error) {
	var segs []pathSeg
	rest := path
	for rest != "" {
		switch {
		case rest[0] == '.':
			rest = rest[1:]
		case rest[0] == '[':
			end := strings.IndexByte(rest, ']')
			if end < 0 {
				return nil, errors.Template("unterminated index in %q", path)
			}
			inner := rest[1:end]
			rest = rest[end+1:]
			if len(inner) >= 2 && (inner[0] == '"' || inner[0] == '\'') {
				segs = append(segs, pathSeg{key: inner[1 : len(inner)-1], index: -1})
			} else {
				idx := 0
				for _, c := range inner {
					if c < '0' || c > '9' {
						return nil, errors.Template("bad index %q in %q", inner, path)
					}
					idx = idx*10 + int(c-'0')
				}
				segs = append(segs, pathSeg{key: inner, index: idx})
			}
		default:
			end := strings.IndexAny(rest, ".[")
			if end < 0 {
				end = len(rest)
			}
			segs = append(segs, pathSeg{key: rest[:end], index: -1})
			rest = rest[end:]
		}
	}
	return segs, nil
}
