// Package hierarchy holds the organizational unit tree of a process and
// resolves who reviews an artifact next.
package hierarchy

import (
	"errors"
	"fmt"

	"sgc/internal/domain"
)

var ErrInvalidHierarchy = errors.New("invalid hierarchy")

// Hierarchy is an immutable parent-pointer view of the unit tree.
type Hierarchy struct {
	units    map[string]domain.Unit
	children map[string][]string
	order    []string
	root     string
}

// New builds a hierarchy from units listed in any order. Parent references
// must resolve, exactly one unit may lack a parent, and the parent graph
// must be acyclic.
func New(units []domain.Unit) (*Hierarchy, error) {
	h := &Hierarchy{
		units:    make(map[string]domain.Unit, len(units)),
		children: map[string][]string{},
	}
	for _, u := range units {
		if u.Sigla == "" {
			return nil, fmt.Errorf("%w: unit with empty sigla", ErrInvalidHierarchy)
		}
		if _, dup := h.units[u.Sigla]; dup {
			return nil, fmt.Errorf("%w: duplicate unit %s", ErrInvalidHierarchy, u.Sigla)
		}
		u.Filhas = nil
		h.units[u.Sigla] = u
		h.order = append(h.order, u.Sigla)
	}
	for _, sigla := range h.order {
		u := h.units[sigla]
		if u.Parent == "" {
			if h.root != "" {
				return nil, fmt.Errorf("%w: multiple roots %s and %s", ErrInvalidHierarchy, h.root, sigla)
			}
			h.root = sigla
			continue
		}
		if _, ok := h.units[u.Parent]; !ok {
			return nil, fmt.Errorf("%w: unit %s references unknown parent %s", ErrInvalidHierarchy, sigla, u.Parent)
		}
		h.children[u.Parent] = append(h.children[u.Parent], sigla)
	}
	if h.root == "" {
		return nil, fmt.Errorf("%w: no root unit", ErrInvalidHierarchy)
	}
	for _, sigla := range h.order {
		if _, err := h.Ancestors(sigla); err != nil {
			return nil, err
		}
	}
	for parent, kids := range h.children {
		u := h.units[parent]
		u.Filhas = append([]string(nil), kids...)
		h.units[parent] = u
	}
	return h, nil
}

// Root returns the sigla of the administrator's unit.
func (h *Hierarchy) Root() string { return h.root }

func (h *Hierarchy) Contains(sigla string) bool {
	_, ok := h.units[sigla]
	return ok
}

func (h *Hierarchy) Unit(sigla string) (domain.Unit, bool) {
	u, ok := h.units[sigla]
	return u, ok
}

// Units returns all units in insertion order.
func (h *Hierarchy) Units() []domain.Unit {
	out := make([]domain.Unit, 0, len(h.order))
	for _, sigla := range h.order {
		out = append(out, h.units[sigla])
	}
	return out
}

// Ancestors returns the strict ancestors of sigla, nearest first.
func (h *Hierarchy) Ancestors(sigla string) ([]string, error) {
	u, ok := h.units[sigla]
	if !ok {
		return nil, fmt.Errorf("%w: unknown unit %s", ErrInvalidHierarchy, sigla)
	}
	seen := map[string]bool{sigla: true}
	var out []string
	for u.Parent != "" {
		if seen[u.Parent] {
			return nil, fmt.Errorf("%w: cycle through %s", ErrInvalidHierarchy, u.Parent)
		}
		seen[u.Parent] = true
		out = append(out, u.Parent)
		next, ok := h.units[u.Parent]
		if !ok {
			return nil, fmt.Errorf("%w: unit %s references unknown parent %s", ErrInvalidHierarchy, u.Sigla, u.Parent)
		}
		u = next
	}
	return out, nil
}

// IsAncestor reports whether a is a strict ancestor of b.
func (h *Hierarchy) IsAncestor(a, b string) bool {
	ancestors, err := h.Ancestors(b)
	if err != nil {
		return false
	}
	for _, s := range ancestors {
		if s == a {
			return true
		}
	}
	return false
}

// Descendants returns every unit below sigla, depth first.
func (h *Hierarchy) Descendants(sigla string) []string {
	var out []string
	var walk func(string)
	walk = func(s string) {
		for _, c := range h.children[s] {
			out = append(out, c)
			walk(c)
		}
	}
	walk(sigla)
	return out
}

// NextResponsible returns the nearest strict ancestor that escalates and has
// a titular. When none qualifies the artifact goes straight to the root.
func (h *Hierarchy) NextResponsible(sigla string) (string, error) {
	ancestors, err := h.Ancestors(sigla)
	if err != nil {
		return "", err
	}
	for _, s := range ancestors {
		if s == h.root {
			break
		}
		u := h.units[s]
		if u.Tipo.Escalates() && u.Titular != "" {
			return s, nil
		}
	}
	return h.root, nil
}

// Chain lists the units an artifact of owner visits when accepted all the
// way up: owner first, root last.
func (h *Hierarchy) Chain(owner string) ([]string, error) {
	chain := []string{owner}
	cur := owner
	for cur != h.root {
		next, err := h.NextResponsible(cur)
		if err != nil {
			return nil, err
		}
		chain = append(chain, next)
		cur = next
	}
	return chain, nil
}

// Relationship classifies the actor's unit against the unit holding the
// subprocess.
func (h *Hierarchy) Relationship(actorUnit, currentUnit string) domain.Relationship {
	switch {
	case !h.Contains(actorUnit) || !h.Contains(currentUnit):
		return domain.RelationUnrelated
	case actorUnit == currentUnit:
		return domain.RelationSame
	case actorUnit == h.root:
		return domain.RelationRoot
	case h.IsAncestor(actorUnit, currentUnit):
		return domain.RelationAncestor
	default:
		return domain.RelationUnrelated
	}
}
