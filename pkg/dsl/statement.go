// Package dsl compiles a workflow graph into the two executable
// intermediate representations: a flat, dependency-annotated action list and
// a nested sequence/parallel block tree.
package dsl

import (
	"fmt"
	"regexp"
)

// refPattern constrains compiled action refs. Refs are slugs derived from
// node titles and must be stable identifiers in templates and persistence.
var refPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// ActionStatement is one node of the flat IR. DependsOn lists immediate
// upstream refs, lexically sorted so compilation is deterministic.
// Dependency satisfaction is checked dynamically by the scheduler, not
// statically ordered here.
type ActionStatement struct {
	Ref       string         `json:"ref"                validate:"required"`
	Action    string         `json:"action"             validate:"required"`
	Title     string         `json:"title,omitempty"`
	Args      map[string]any `json:"args"`
	DependsOn []string       `json:"depends_on"`
	RunIf     string         `json:"run_if,omitempty"`
	ForEach   string         `json:"for_each,omitempty"`
}

// ActionPlan is the flat IR document consumed by the general scheduler.
type ActionPlan struct {
	Entrypoint string             `json:"entrypoint"`
	Actions    []*ActionStatement `json:"actions"`
}

// Statement returns the statement with the given ref.
func (p *ActionPlan) Statement(ref string) (*ActionStatement, bool) {
	for _, stmt := range p.Actions {
		if stmt.Ref == ref {
			return stmt, true
		}
	}

	return nil, false
}

// Dependents returns the refs that list the given ref in DependsOn.
func (p *ActionPlan) Dependents(ref string) []string {
	var out []string

	for _, stmt := range p.Actions {
		for _, dep := range stmt.DependsOn {
			if dep == ref {
				out = append(out, stmt.Ref)

				break
			}
		}
	}

	return out
}

// DuplicateRefError reports two nodes whose titles slug to the same ref.
type DuplicateRefError struct {
	Ref    string
	TitleA string
	TitleB string
}

func (e *DuplicateRefError) Error() string {
	return fmt.Sprintf("duplicate ref %q: titles %q and %q collide", e.Ref, e.TitleA, e.TitleB)
}

// InvalidRefError reports a title that produced no usable slug.
type InvalidRefError struct {
	Ref   string
	Title string
}

func (e *InvalidRefError) Error() string {
	return fmt.Sprintf("invalid ref %q derived from title %q", e.Ref, e.Title)
}
