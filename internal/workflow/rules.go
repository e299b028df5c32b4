// Package workflow holds the immutable transition graph and the role and
// requirement tables that gate it.
package workflow

import (
	"fmt"
	"sort"

	"github.com/berntpopp/gene-curator-sub000/internal/config"
	"github.com/berntpopp/gene-curator-sub000/internal/domain"
)

type edge struct {
	from domain.Stage
	to   domain.Stage
}

// Rules is built once at startup and only read afterwards; it is safe for
// concurrent use.
type Rules struct {
	graph        map[domain.Stage]map[domain.Stage]struct{}
	roles        map[edge]map[domain.Role]struct{}
	requirements map[domain.Stage][]string
}

// FromConfig validates cfg and builds the rule tables from it.
func FromConfig(cfg *config.Config) (*Rules, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Rules{
		graph:        map[domain.Stage]map[domain.Stage]struct{}{},
		roles:        map[edge]map[domain.Role]struct{}{},
		requirements: map[domain.Stage][]string{},
	}
	for fromRaw, targets := range cfg.Workflow.Transitions {
		from := domain.Stage(fromRaw)
		set := r.graph[from]
		if set == nil {
			set = map[domain.Stage]struct{}{}
			r.graph[from] = set
		}
		for _, to := range targets {
			set[domain.Stage(to)] = struct{}{}
		}
	}
	for key, roles := range cfg.Workflow.Roles {
		from, to, err := config.ParseEdgeKey(key)
		if err != nil {
			return nil, err
		}
		e := edge{from, to}
		set := r.roles[e]
		if set == nil {
			set = map[domain.Role]struct{}{}
			r.roles[e] = set
		}
		for _, role := range roles {
			set[domain.Role(role)] = struct{}{}
		}
	}
	for stage, reqs := range cfg.Workflow.Requirements {
		r.requirements[domain.Stage(stage)] = append([]string(nil), reqs...)
	}
	if err := r.checkClosure(); err != nil {
		return nil, err
	}
	return r, nil
}

// MustDefault returns rules for the default config and panics if it is broken.
func MustDefault() *Rules {
	r, err := FromConfig(config.Default())
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Rules) checkClosure() error {
	for from, targets := range r.graph {
		for to := range targets {
			if len(r.roles[edge{from, to}]) == 0 {
				return fmt.Errorf("transition %s->%s has no role requirement", from, to)
			}
		}
	}
	return nil
}

// Allowed reports whether to is reachable from from in one step.
func (r *Rules) Allowed(from, to domain.Stage) bool {
	_, ok := r.graph[from][to]
	return ok
}

// Next returns the stages reachable from s, in pipeline order.
func (r *Rules) Next(s domain.Stage) []domain.Stage {
	next := make([]domain.Stage, 0, len(r.graph[s]))
	for to := range r.graph[s] {
		next = append(next, to)
	}
	sort.Slice(next, func(i, j int) bool { return next[i].Index() < next[j].Index() })
	return next
}

// RolesFor returns the roles allowed to execute from->to, sorted.
func (r *Rules) RolesFor(from, to domain.Stage) []domain.Role {
	set := r.roles[edge{from, to}]
	roles := make([]domain.Role, 0, len(set))
	for role := range set {
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}

func (r *Rules) RoleAllowed(from, to domain.Stage, role domain.Role) bool {
	_, ok := r.roles[edge{from, to}][role]
	return ok
}

// RequirementsFor returns the advisory requirement strings for entering s.
func (r *Rules) RequirementsFor(s domain.Stage) []string {
	return append([]string(nil), r.requirements[s]...)
}

// Edges lists every transition in the graph, ordered by from then to.
func (r *Rules) Edges() [][2]domain.Stage {
	var out [][2]domain.Stage
	for _, from := range domain.Stages {
		for _, to := range r.Next(from) {
			out = append(out, [2]domain.Stage{from, to})
		}
	}
	return out
}

// ReviewBearing reports whether from->to requires four-eyes separation.
func ReviewBearing(from, to domain.Stage) bool {
	return (from == domain.StageCuration && to == domain.StageReview) ||
		(from == domain.StageReview && to == domain.StageActive)
}

// Progress maps a stage to a 0..100 display value. It carries no business meaning.
func Progress(s domain.Stage) float64 {
	idx := s.Index()
	if idx < 0 {
		return 0
	}
	return float64(idx) / float64(len(domain.Stages)-1) * 100
}
