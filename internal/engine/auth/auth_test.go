package auth

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"sgc/internal/domain"
)

var (
	allRoles = []domain.Role{domain.RoleAdmin, domain.RoleGestor, domain.RoleChefe, domain.RoleServidor}
	allRels  = []domain.Relationship{domain.RelationSame, domain.RelationAncestor, domain.RelationRoot, domain.RelationUnrelated}
)

func TestServidorAndUnrelatedOnlyView(t *testing.T) {
	for _, rel := range allRels {
		require.Equal(t, []domain.Action{domain.ActionVisualizar}, Actions(domain.RoleServidor, rel), rel)
	}
	for _, role := range allRoles {
		require.Equal(t, []domain.Action{domain.ActionVisualizar}, Actions(role, domain.RelationUnrelated), role)
	}
}

func TestEveryoneCanView(t *testing.T) {
	for _, role := range allRoles {
		for _, rel := range allRels {
			require.True(t, Allowed(role, rel, domain.ActionVisualizar))
		}
	}
}

func TestTable(t *testing.T) {
	tests := []struct {
		role   domain.Role
		rel    domain.Relationship
		action domain.Action
		want   bool
	}{
		{domain.RoleChefe, domain.RelationSame, domain.ActionDisponibilizar, true},
		{domain.RoleChefe, domain.RelationSame, domain.ActionValidar, true},
		{domain.RoleChefe, domain.RelationSame, domain.ActionAceitar, false},
		{domain.RoleChefe, domain.RelationAncestor, domain.ActionAceitar, false},
		{domain.RoleGestor, domain.RelationAncestor, domain.ActionAceitar, true},
		{domain.RoleGestor, domain.RelationAncestor, domain.ActionDevolver, true},
		{domain.RoleGestor, domain.RelationAncestor, domain.ActionHomologar, false},
		{domain.RoleAdmin, domain.RelationRoot, domain.ActionHomologar, true},
		{domain.RoleAdmin, domain.RelationRoot, domain.ActionIniciarMapa, true},
		{domain.RoleAdmin, domain.RelationRoot, domain.ActionAceitar, true},
		{domain.RoleAdmin, domain.RelationRoot, domain.ActionValidar, false},
		{domain.RoleAdmin, domain.RelationAncestor, domain.ActionHomologar, false},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, Allowed(tt.role, tt.rel, tt.action), "%s/%s/%s", tt.role, tt.rel, tt.action)
	}
}

func TestCheckReturnsForbiddenError(t *testing.T) {
	err := Check(domain.RoleServidor, domain.RelationSame, domain.ActionDisponibilizar)
	var fe ForbiddenError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, domain.ActionDisponibilizar, fe.Acao)

	require.Error(t, Check(domain.Role("ROOT"), domain.RelationRoot, domain.ActionVisualizar))
	require.NoError(t, Check(domain.RoleAdmin, domain.RelationRoot, domain.ActionHomologar))
}

func TestRequireAdmin(t *testing.T) {
	require.NoError(t, RequireAdmin(domain.Actor{Role: domain.RoleAdmin}, "iniciarProcesso"))
	require.Error(t, RequireAdmin(domain.Actor{Role: domain.RoleGestor}, "iniciarProcesso"))
}
