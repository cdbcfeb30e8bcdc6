// Package auth holds the permission table consulted before every
// subprocess transition.
package auth

import (
	"fmt"
	"sort"

	"sgc/internal/domain"
)

// ForbiddenError indicates the actor may not invoke an action.
type ForbiddenError struct {
	Acao    domain.Action
	Perfil  domain.Role
	Relacao domain.Relationship
	Reason  string
}

func (e ForbiddenError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("acao %s nao permitida: %s", e.Acao, e.Reason)
	}
	return fmt.Sprintf("acao %s nao permitida para perfil %s (%s)", e.Acao, e.Perfil, e.Relacao)
}

type actionSet map[domain.Action]struct{}

func set(actions ...domain.Action) actionSet {
	s := actionSet{}
	for _, a := range actions {
		s[a] = struct{}{}
	}
	return s
}

var (
	onlyView = set(domain.ActionVisualizar)

	ownerActions = set(
		domain.ActionDisponibilizar,
		domain.ActionDevolver,
		domain.ActionValidar,
		domain.ActionApresentarSugestoes,
		domain.ActionEditar,
		domain.ActionVisualizar,
	)

	reviewerActions = set(
		domain.ActionAceitar,
		domain.ActionDevolver,
		domain.ActionVisualizar,
	)

	rootActions = set(
		domain.ActionDisponibilizar,
		domain.ActionAceitar,
		domain.ActionHomologar,
		domain.ActionDevolver,
		domain.ActionIniciarMapa,
		domain.ActionEditar,
		domain.ActionVisualizar,
	)
)

// table maps role and relationship to the permitted actions. Missing rows
// fall back to visualizar.
var table = map[domain.Role]map[domain.Relationship]actionSet{
	domain.RoleAdmin: {
		domain.RelationRoot: rootActions,
	},
	domain.RoleGestor: {
		domain.RelationSame:     ownerActions,
		domain.RelationAncestor: reviewerActions,
	},
	domain.RoleChefe: {
		domain.RelationSame: ownerActions,
	},
}

func lookup(role domain.Role, rel domain.Relationship) actionSet {
	if row, ok := table[role]; ok {
		if s, ok := row[rel]; ok {
			return s
		}
	}
	return onlyView
}

// Allowed reports whether role acting from rel may invoke action.
func Allowed(role domain.Role, rel domain.Relationship, action domain.Action) bool {
	_, ok := lookup(role, rel)[action]
	return ok
}

// Actions lists the permitted actions in a stable order.
func Actions(role domain.Role, rel domain.Relationship) []domain.Action {
	s := lookup(role, rel)
	out := make([]domain.Action, 0, len(s))
	for a := range s {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Check returns a ForbiddenError when the table denies the action.
func Check(role domain.Role, rel domain.Relationship, action domain.Action) error {
	if !role.Valid() {
		return ForbiddenError{Acao: action, Perfil: role, Relacao: rel, Reason: fmt.Sprintf("perfil desconhecido %q", role)}
	}
	if Allowed(role, rel, action) {
		return nil
	}
	return ForbiddenError{Acao: action, Perfil: role, Relacao: rel}
}

// RequireAdmin guards process-level operations.
func RequireAdmin(actor domain.Actor, op string) error {
	if actor.Role == domain.RoleAdmin {
		return nil
	}
	return ForbiddenError{Acao: domain.Action(op), Perfil: actor.Role, Reason: "reservado ao administrador"}
}
