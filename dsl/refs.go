package dsl

import (
	"regexp"

	"github.com/awantoch/beemflow/model"
)

// outputRef matches outputs.<id> and outputs["id"] access in templates.
var outputRef = regexp.MustCompile(`outputs\.([A-Za-z_][A-Za-z0-9_]*)|outputs\[\s*["']([A-Za-z_][A-Za-z0-9_]*)["']\s*\]`)

// implicitRefs collects, per step, the sibling ids its templates reference
// through outputs. These become dependency edges alongside depends_on so a
// step never runs before an output it reads is final.
func implicitRefs(steps []model.Step) map[string][]string {
	refs := map[string][]string{}
	for i := range steps {
		s := &steps[i]
		var ids []string
		seen := map[string]bool{}
		for _, tmpl := range templateStrings(s) {
			for _, m := range outputRef.FindAllStringSubmatch(tmpl, -1) {
				id := m[1]
				if id == "" {
					id = m[2]
				}
				if id != "" && !seen[id] {
					seen[id] = true
					ids = append(ids, id)
				}
			}
		}
		refs[s.ID] = ids
	}
	return refs
}

// templateStrings gathers every field of a step that may carry a template,
// including the templates of nested children: a reference made anywhere
// inside a container is a dependency of the container itself.
func templateStrings(s *model.Step) []string {
	var out []string
	if s.If != "" {
		out = append(out, s.If)
	}
	if s.Foreach != "" {
		out = append(out, s.Foreach)
	}
	out = append(out, valueStrings(s.With)...)
	if s.AwaitEvent != nil {
		out = append(out, valueStrings(s.AwaitEvent.Match)...)
	}
	if s.Wait != nil && s.Wait.Until != "" {
		out = append(out, s.Wait.Until)
	}
	for i := range s.Steps {
		out = append(out, templateStrings(&s.Steps[i])...)
	}
	for i := range s.Do {
		out = append(out, templateStrings(&s.Do[i])...)
	}
	return out
}

func valueStrings(v any) []string {
	switch tv := v.(type) {
	case string:
		return []string{tv}
	case map[string]any:
		var out []string
		for _, val := range tv {
			out = append(out, valueStrings(val)...)
		}
		return out
	case []any:
		var out []string
		for _, val := range tv {
			out = append(out, valueStrings(val)...)
		}
		return out
	}
	return nil
}
