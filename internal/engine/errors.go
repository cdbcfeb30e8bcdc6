package engine

import (
	"errors"
	"fmt"
	"strings"

	"sgc/internal/engine/auth"
	"sgc/internal/engine/validation"
	"sgc/internal/engine/workflow"
	"sgc/internal/hierarchy"
	"sgc/internal/repo"
)

type InvalidTransitionError = workflow.InvalidTransitionError

// ValidationFailedError carries the blocking findings of the validation engine.
type ValidationFailedError struct {
	Erros []validation.Issue
}

func (e ValidationFailedError) Error() string {
	msgs := make([]string, 0, len(e.Erros))
	for _, issue := range e.Erros {
		msgs = append(msgs, issue.Mensagem)
	}
	return "validacao falhou: " + strings.Join(msgs, "; ")
}

// ProcessoNaoFinalizavelError lists the units not yet in the terminal state.
type ProcessoNaoFinalizavelError struct {
	UnidadesPendentes []string
}

func (e ProcessoNaoFinalizavelError) Error() string {
	return fmt.Sprintf("processo nao finalizavel: unidades pendentes %s", strings.Join(e.UnidadesPendentes, ", "))
}

var (
	ErrSubprocessoOcupado = errors.New("subprocesso ocupado por outra transicao")
	ErrInvalidInput       = errors.New("entrada invalida")
)

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Error codes shared by the HTTP layer and batch results.
const (
	CodeInvalidTransition      = "invalid_transition"
	CodeForbidden              = "forbidden"
	CodeValidationFailed       = "validation_failed"
	CodeProcessoNaoFinalizavel = "processo_nao_finalizavel"
	CodeInvalidHierarchy       = "invalid_hierarchy"
	CodeNotFound               = "not_found"
	CodeBusy                   = "busy"
	CodeBadRequest             = "bad_request"
	CodeInternal               = "internal"
)

// ErrorCode classifies err for callers that report it instead of failing.
func ErrorCode(err error) string {
	var (
		it  InvalidTransitionError
		fe  auth.ForbiddenError
		vf  ValidationFailedError
		pnf ProcessoNaoFinalizavelError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &it):
		return CodeInvalidTransition
	case errors.As(err, &fe):
		return CodeForbidden
	case errors.As(err, &vf):
		return CodeValidationFailed
	case errors.As(err, &pnf):
		return CodeProcessoNaoFinalizavel
	case errors.Is(err, hierarchy.ErrInvalidHierarchy):
		return CodeInvalidHierarchy
	case errors.Is(err, repo.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrSubprocessoOcupado):
		return CodeBusy
	case errors.Is(err, ErrInvalidInput):
		return CodeBadRequest
	default:
		return CodeInternal
	}
}
