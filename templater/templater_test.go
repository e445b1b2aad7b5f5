package templater

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/awantoch/beemflow/pkg/errors"
)

func testData() map[string]any {
	return map[string]any{
		"vars": map[string]any{
			"n":     42,
			"name":  "go tools",
			"items": []any{"x", "y", "z"},
			"empty": "",
			"user":  map[string]any{"first name": "Ada"},
			"flag":  true,
		},
		"event":   map[string]any{},
		"secrets": map[string]any{},
		"outputs": map[string]any{
			"a": map[string]any{"text": "42"},
		},
		"env": map[string]any{"REGION": "us-east"},
	}
}

func TestRenderLiteralIdempotent(t *testing.T) {
	tpl := New()
	for _, s := range []string{"", "plain text", "no braces here: } {", "a } b { c"} {
		out, err := tpl.Render(s, testData())
		require.NoError(t, err)
		if out != s {
			t.Errorf("literal %q changed to %q", s, out)
		}
	}
}

func TestRenderEmbeddedStringifies(t *testing.T) {
	tpl := New()
	out, err := tpl.Render("{{ outputs.a.text }}!", testData())
	require.NoError(t, err)
	require.Equal(t, "42!", out)
}

func TestEvalPreservesTypes(t *testing.T) {
	tpl := New()

	val, err := tpl.Eval("{{ vars.items }}", testData())
	require.NoError(t, err)
	require.Equal(t, []any{"x", "y", "z"}, val)

	val, err = tpl.Eval("{{ vars.n }}", testData())
	require.NoError(t, err)
	require.Equal(t, 42, val)

	val, err = tpl.Eval("{{ vars.flag }}", testData())
	require.NoError(t, err)
	require.Equal(t, true, val)

	val, err = tpl.Eval("{{ vars.user }}", testData())
	require.NoError(t, err)
	require.Equal(t, map[string]any{"first name": "Ada"}, val)
}

func TestEvalArithmetic(t *testing.T) {
	tpl := New()
	val, err := tpl.Eval("{{ vars.n + 1 }}", testData())
	require.NoError(t, err)
	require.EqualValues(t, 43, val)
}

func TestEvalComparisonDecodesBool(t *testing.T) {
	tpl := New()
	val, err := tpl.Eval("{{ vars.n > 10 }}", testData())
	require.NoError(t, err)
	require.Equal(t, true, val)

	val, err = tpl.Eval("{{ vars.n > 100 }}", testData())
	require.NoError(t, err)
	require.Equal(t, false, val)
}

func TestEvalBracketAccess(t *testing.T) {
	tpl := New()
	val, err := tpl.Eval(`{{ vars.user["first name"] }}`, testData())
	require.NoError(t, err)
	require.Equal(t, "Ada", val)

	val, err = tpl.Eval("{{ vars.items[1] }}", testData())
	require.NoError(t, err)
	require.Equal(t, "y", val)
}

func TestFilters(t *testing.T) {
	tpl := New()
	cases := []struct {
		tmpl string
		want string
	}{
		{"{{ vars.name|upper }}", "GO TOOLS"},
		{"{{ vars.name|title }}", "Go Tools"},
		{`{{ vars.items|join:", " }}`, "x, y, z"},
		{"{{ vars.name|truncate:2 }}", "go"},
		{`{{ vars.missing|default:"fallback" }}`, "fallback"},
		{"{{ vars.empty|default:9 }}", "9"},
	}
	for _, c := range cases {
		out, err := tpl.Render(c.tmpl, testData())
		require.NoError(t, err, c.tmpl)
		if out != c.want {
			t.Errorf("%s = %q, want %q", c.tmpl, out, c.want)
		}
	}

	val, err := tpl.Eval("{{ vars.items|length }}", testData())
	require.NoError(t, err)
	require.EqualValues(t, 3, val)
}

func TestFilterCallSyntax(t *testing.T) {
	tpl := New()
	cases := []struct {
		tmpl string
		want string
	}{
		{`{{ vars.items|join(", ") }}`, "x, y, z"},
		{"{{ vars.name|truncate(2) }}", "go"},
		{`{{ vars.missing|default("fallback") }}`, "fallback"},
		{"{{ vars.name | upper() }}", "GO TOOLS"},
	}
	for _, c := range cases {
		out, err := tpl.Render(c.tmpl, testData())
		require.NoError(t, err, c.tmpl)
		if out != c.want {
			t.Errorf("%s = %q, want %q", c.tmpl, out, c.want)
		}
	}

	// Pipes and parentheses inside string literals stay literal.
	out, err := tpl.Render(`{{ "a|b(c)" }}`, testData())
	require.NoError(t, err)
	require.Equal(t, "a|b(c)", out)
}

func TestEscapeFilterOnly(t *testing.T) {
	tpl := New()
	data := testData()
	data["vars"].(map[string]any)["html"] = "<b>&</b>"

	out, err := tpl.Render("{{ vars.html }}", data)
	require.NoError(t, err)
	require.Equal(t, "<b>&</b>", out)

	out, err = tpl.Render("{{ vars.html|escape }}", data)
	require.NoError(t, err)
	require.Equal(t, "&lt;b&gt;&amp;&lt;/b&gt;", out)
}

func TestOrCoalescesValues(t *testing.T) {
	tpl := New()

	val, err := tpl.Eval(`{{ vars.missing or "fallback" }}`, testData())
	require.NoError(t, err)
	require.Equal(t, "fallback", val)

	// The first truthy operand's value comes through with its type.
	val, err = tpl.Eval("{{ vars.missing or vars.items }}", testData())
	require.NoError(t, err)
	require.Equal(t, []any{"x", "y", "z"}, val)

	val, err = tpl.Eval("{{ vars.n or 7 }}", testData())
	require.NoError(t, err)
	require.Equal(t, 42, val)

	// Falsy chains fall through to the last operand.
	val, err = tpl.Eval(`{{ vars.empty or vars.missing or 0 }}`, testData())
	require.NoError(t, err)
	require.EqualValues(t, 0, val)
}

func TestOrCoalesceEmbedded(t *testing.T) {
	tpl := New()
	out, err := tpl.Render(`region={{ vars.missing or env.REGION }}`, testData())
	require.NoError(t, err)
	require.Equal(t, "region=us-east", out)
}

func TestUndefinedReferenceFails(t *testing.T) {
	tpl := New()

	_, err := tpl.Eval("{{ vars.missing }}", testData())
	require.Error(t, err)
	require.True(t, IsUndefined(err))
	require.True(t, errors.IsKind(err, errors.KindTemplate))

	// Skipped steps publish no outputs, so references to them fail.
	_, err = tpl.Render("{{ outputs.skipped.text }}", testData())
	require.Error(t, err)
	require.True(t, IsUndefined(err))

	_, err = tpl.Render("before {{ vars.nope }} after", testData())
	require.Error(t, err)
}

func TestTypeMismatchIsNotUndefined(t *testing.T) {
	tpl := New()
	_, err := tpl.Eval("{{ vars.n.name }}", testData())
	require.Error(t, err)
	require.True(t, errors.IsKind(err, errors.KindTemplate))
	require.False(t, IsUndefined(err))
}

func TestSyntaxError(t *testing.T) {
	tpl := New()
	_, err := tpl.Render("{{ vars.n + }}", testData())
	require.Error(t, err)
	require.True(t, errors.IsKind(err, errors.KindTemplate))
}

func TestControlBlocks(t *testing.T) {
	tpl := New()

	out, err := tpl.Render("{% if vars.n > 10 %}big{% else %}small{% endif %}", testData())
	require.NoError(t, err)
	require.Equal(t, "big", out)

	out, err = tpl.Render("{% for x in vars.items %}{{ x }};{% endfor %}", testData())
	require.NoError(t, err)
	require.Equal(t, "x;y;z;", out)
}

func TestControlBlockUndefinedIterable(t *testing.T) {
	tpl := New()
	_, err := tpl.Render("{% for x in vars.nope %}{{ x }}{% endfor %}", testData())
	require.Error(t, err)
	require.True(t, IsUndefined(err))
}

func TestEvalCondition(t *testing.T) {
	tpl := New()
	cases := []struct {
		expr string
		want bool
	}{
		{"{{ vars.flag }}", true},
		{"{{ vars.empty }}", false},
		{"{{ vars.items }}", true},
		{"{{ vars.n > 100 }}", false},
		{`{{ vars.missing or vars.flag }}`, true},
	}
	for _, c := range cases {
		got, err := tpl.EvalCondition(c.expr, testData())
		require.NoError(t, err, c.expr)
		if got != c.want {
			t.Errorf("EvalCondition(%s) = %v, want %v", c.expr, got, c.want)
		}
	}

	_, err := tpl.EvalCondition("{{ vars.missing }}", testData())
	require.Error(t, err)
}

func TestEvalValueRecurses(t *testing.T) {
	tpl := New()
	in := map[string]any{
		"count":  "{{ vars.n }}",
		"label":  "{{ vars.name|upper }}!",
		"nested": map[string]any{"items": "{{ vars.items }}"},
		"listed": []any{"{{ vars.n + 1 }}", "literal"},
		"asis":   7,
	}
	out, err := tpl.EvalValue(in, testData())
	require.NoError(t, err)

	m := out.(map[string]any)
	require.Equal(t, 42, m["count"])
	require.Equal(t, "GO TOOLS!", m["label"])
	require.Equal(t, []any{"x", "y", "z"}, m["nested"].(map[string]any)["items"])
	require.EqualValues(t, 43, m["listed"].([]any)[0])
	require.Equal(t, "literal", m["listed"].([]any)[1])
	require.Equal(t, 7, m["asis"])
}

func TestTruthy(t *testing.T) {
	truthy := []any{true, "x", 1, int64(2), 3.5, []any{1}, map[string]any{"a": 1}}
	falsy := []any{nil, false, "", "false", 0, int64(0), 0.0, []any{}, map[string]any{}}
	for _, v := range truthy {
		if !Truthy(v) {
			t.Errorf("Truthy(%#v) = false, want true", v)
		}
	}
	for _, v := range falsy {
		if Truthy(v) {
			t.Errorf("Truthy(%#v) = true, want false", v)
		}
	}
}
