// Package prompt turns prompt templates into chat/completion API requests:
// template rendering, role-marker parsing, multimodal image handling,
// function validation, and response post-processing.
//
// Formatting failures are user errors: the template and its inputs come
// from the caller, so nothing here is retried.
package prompt

import (
	"fmt"
	"regexp"
	"strings"
	"text/template"
	"text/template/parse"

	"github.com/Masterminds/sprig"

	"github.com/ashita-ai/senro/internal/llm"
)

var imagePlaceholderRe = regexp.MustCompile(`!\[image\]\([^)]+\)`)

// PreprocessTemplate rewrites inline image placeholders onto their own
// lines so the chat parser sees each as a standalone line.
func PreprocessTemplate(tmpl string) string {
	return imagePlaceholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		return "\n" + m + "\n"
	})
}

// RenderTemplate executes the prompt template with the given variables.
// Sprig functions (loops, conditionals, string helpers) are available;
// trailing newlines are preserved as written. Variables the template
// references but vars does not define render as empty strings. Render
// failures are user errors.
func RenderTemplate(tmpl string, vars map[string]any) (string, error) {
	t, err := template.New("prompt").Funcs(sprig.TxtFuncMap()).Option("missingkey=zero").Parse(tmpl)
	if err != nil {
		return "", &llm.UserError{Message: fmt.Sprintf("invalid prompt template: %v", err)}
	}
	var b strings.Builder
	if err := t.Execute(&b, fillMissingVars(t, vars)); err != nil {
		return "", &llm.UserError{Message: fmt.Sprintf("render prompt template: %v", err)}
	}
	return b.String(), nil
}

// fillMissingVars returns vars extended with "" for every top-level field
// the template references but vars does not define. Filling them before
// execution keeps literal template text intact; scrubbing the rendered
// output for zero-value markers would also eat user text that happens to
// contain them.
func fillMissingVars(t *template.Template, vars map[string]any) map[string]any {
	filled := make(map[string]any, len(vars))
	for k, v := range vars {
		filled[k] = v
	}
	for _, tmpl := range t.Templates() {
		if tmpl.Tree != nil {
			collectFields(tmpl.Tree.Root, filled)
		}
	}
	return filled
}

// collectFields walks the parse tree adding "" entries for referenced
// top-level fields absent from vars.
func collectFields(node parse.Node, vars map[string]any) {
	switch n := node.(type) {
	case *parse.ListNode:
		if n == nil {
			return
		}
		for _, child := range n.Nodes {
			collectFields(child, vars)
		}
	case *parse.ActionNode:
		collectPipeFields(n.Pipe, vars)
	case *parse.IfNode:
		collectBranchFields(&n.BranchNode, vars)
	case *parse.RangeNode:
		collectBranchFields(&n.BranchNode, vars)
	case *parse.WithNode:
		collectBranchFields(&n.BranchNode, vars)
	case *parse.TemplateNode:
		collectPipeFields(n.Pipe, vars)
	}
}

func collectBranchFields(b *parse.BranchNode, vars map[string]any) {
	collectPipeFields(b.Pipe, vars)
	collectFields(b.List, vars)
	if b.ElseList != nil {
		collectFields(b.ElseList, vars)
	}
}

func collectPipeFields(pipe *parse.PipeNode, vars map[string]any) {
	if pipe == nil {
		return
	}
	for _, cmd := range pipe.Cmds {
		for _, arg := range cmd.Args {
			switch a := arg.(type) {
			case *parse.FieldNode:
				if len(a.Ident) > 0 {
					if _, ok := vars[a.Ident[0]]; !ok {
						vars[a.Ident[0]] = ""
					}
				}
			case *parse.PipeNode:
				collectPipeFields(a, vars)
			}
		}
	}
}
