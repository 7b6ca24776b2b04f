package handler

import (
	"os"

	"github.com/basket/orchard/internal/state"
)

// RenderTemplate substitutes ${...} placeholders from vars. Unknown
// placeholders are kept literally; rendering never fails, so a bad
// template can never block a lifecycle transition.
func RenderTemplate(tmpl string, vars map[string]string) string {
	return os.Expand(tmpl, func(name string) string {
		if v, ok := vars[name]; ok {
			return v
		}
		return "${" + name + "}"
	})
}

// templateVars builds the fixed variable set notification templates render
// against: pipeline variables under the "var." prefix, the pipeline id and
// name, the agent and step names, and (fail paths only) the error string.
func templateVars(p *state.Pipeline, agent, step, errMsg string) map[string]string {
	vars := make(map[string]string, len(p.Vars)+5)
	for k, v := range p.Vars {
		vars["var."+k] = v
	}
	vars["pipeline"] = p.ID
	vars["name"] = p.Name
	vars["agent"] = agent
	vars["step"] = step
	if errMsg != "" {
		vars["error"] = errMsg
	}
	return vars
}
