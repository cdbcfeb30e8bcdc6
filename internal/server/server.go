package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"sgc/internal/domain"
	"sgc/internal/engine"
	"sgc/internal/engine/auth"
	"sgc/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Logger   *zap.SugaredLogger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"acao aceitar invalida na situacao CADASTRO_EM_ANDAMENTO"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"situacao\":\"CADASTRO_EM_ANDAMENTO\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

type response[T any] struct {
	Body T `json:"body"`
}

func reply[T any](v T) *response[T] {
	return &response[T]{Body: v}
}

var transitionErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
}

// New returns an HTTP handler exposing the SGC API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the error envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(logger))
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	router.Handle("/metrics", promhttp.Handler())

	hcfg := huma.DefaultConfig("SGC API", "1.0.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerMe(group)
	registerUnits(group, cfg.Engine)
	registerProcesses(group, cfg.Engine)
	registerSubprocesses(group, cfg.Engine)
	registerTransitions(group, cfg.Engine)
	registerCadastro(group, cfg.Engine)
	registerMapa(group, cfg.Engine)
	registerBatches(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func requestLogger(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debugw("http",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duracao", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch code := engine.ErrorCode(err); code {
	case engine.CodeInvalidTransition:
		var it engine.InvalidTransitionError
		errors.As(err, &it)
		return newAPIError(http.StatusConflict, code, msg, map[string]any{"situacao": it.Situacao, "acao": it.Acao})
	case engine.CodeForbidden:
		var fe auth.ForbiddenError
		errors.As(err, &fe)
		return newAPIError(http.StatusForbidden, code, msg, map[string]any{"acao": fe.Acao, "perfil": fe.Perfil, "relacao": fe.Relacao})
	case engine.CodeValidationFailed:
		var vf engine.ValidationFailedError
		errors.As(err, &vf)
		return newAPIError(http.StatusUnprocessableEntity, code, msg, map[string]any{"erros": nonNilSlice(vf.Erros)})
	case engine.CodeProcessoNaoFinalizavel:
		var pnf engine.ProcessoNaoFinalizavelError
		errors.As(err, &pnf)
		return newAPIError(http.StatusConflict, code, msg, map[string]any{"unidades_pendentes": pnf.UnidadesPendentes})
	case engine.CodeInvalidHierarchy:
		return newAPIError(http.StatusInternalServerError, code, msg, nil)
	case engine.CodeNotFound:
		return newAPIError(http.StatusNotFound, code, msg, nil)
	case engine.CodeBusy:
		return newAPIError(http.StatusConflict, code, msg, nil)
	case engine.CodeBadRequest:
		return newAPIError(http.StatusBadRequest, code, msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="pt-BR">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>SGC API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*response[map[string]string], error) {
		return reply(map[string]string{"status": "ok"}), nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current actor",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*response[ActorResponse], error) {
		p, ok := principalFromContext(ctx)
		if !ok || p.Actor.ID == "" {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		return reply(ActorResponse{ID: p.Actor.ID, Perfil: p.Actor.Role, Unidade: p.Actor.Unidade, Source: p.Source}), nil
	})
}

func registerUnits(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-unidades",
		Method:      http.MethodGet,
		Path:        "/unidades",
		Summary:     "Live unit tree, parents first",
	}, func(ctx context.Context, _ *struct{}) (*response[[]domain.Unit], error) {
		units, err := e.Unidades(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(units)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-mapa-vigente",
		Method:      http.MethodGet,
		Path:        "/unidades/{sigla}/mapa-vigente",
		Summary:     "Current official map of a unit",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Sigla string `path:"sigla"`
	}) (*response[domain.VigentMap], error) {
		m, err := e.MapaVigente(ctx, input.Sigla)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(m), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-mapas",
		Method:      http.MethodGet,
		Path:        "/unidades/{sigla}/mapas",
		Summary:     "Vigent map history of a unit, newest first",
	}, func(ctx context.Context, input *struct {
		Sigla string `path:"sigla"`
	}) (*response[[]domain.VigentMap], error) {
		items, err := e.HistoricoMapas(ctx, input.Sigla)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})
}

func registerProcesses(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-processo",
		Method:        http.MethodPost,
		Path:          "/processos",
		Summary:       "Create process",
		DefaultStatus: http.StatusCreated,
		Errors:        transitionErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateProcessRequest `json:"body"`
	}) (*response[domain.Process], error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreateProcess(ctx, actor, engine.CreateProcessOptions{
			Descricao:  input.Body.Descricao,
			Tipo:       input.Body.Tipo,
			DataLimite: input.Body.DataLimite,
			Unidades:   input.Body.Unidades,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-processos",
		Method:      http.MethodGet,
		Path:        "/processos",
		Summary:     "List processes",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Situacao string `query:"situacao" enum:"CRIADO,EM_ANDAMENTO,FINALIZADO"`
		Tipo     string `query:"tipo" enum:"MAPEAMENTO,REVISAO,DIAGNOSTICO"`
		Limit    int    `query:"limit" default:"50"`
	}) (*response[[]domain.Process], error) {
		items, err := e.ListProcesses(ctx, repo.ProcessFilters{
			Situacao: domain.ProcessStatus(input.Situacao),
			Tipo:     domain.ProcessType(input.Tipo),
			Limit:    normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-processo",
		Method:      http.MethodGet,
		Path:        "/processos/{id}",
		Summary:     "Get process",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*response[domain.Process], error) {
		p, err := e.GetProcess(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	lifecycle := []struct {
		op, route, summary string
		fn                 func(context.Context, domain.Actor, string) (domain.Process, error)
	}{
		{"iniciar-processo", "/processos/{id}/iniciar", "Start process and open one subprocess per unit", e.StartProcess},
		{"finalizar-processo", "/processos/{id}/finalizar", "Finalize process once every subprocess is terminal", e.FinalizeProcess},
	}
	for _, lc := range lifecycle {
		fn := lc.fn
		huma.Register(api, huma.Operation{
			OperationID: lc.op,
			Method:      http.MethodPost,
			Path:        lc.route,
			Summary:     lc.summary,
			Errors:      transitionErrors,
		}, func(ctx context.Context, input *struct {
			ID string `path:"id"`
		}) (*response[domain.Process], error) {
			actor, authErr := actorFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			p, err := fn(ctx, actor, input.ID)
			if err != nil {
				return nil, handleError(err)
			}
			return reply(p), nil
		})
	}

	huma.Register(api, huma.Operation{
		OperationID: "resumo-processo",
		Method:      http.MethodGet,
		Path:        "/processos/{id}/resumo",
		Summary:     "Process rollup by situacao",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*response[engine.ProcessSummary], error) {
		sum, err := e.ResumoProcesso(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		sum.Subprocessos = nonNilSlice(sum.Subprocessos)
		return reply(sum), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-subprocessos",
		Method:      http.MethodGet,
		Path:        "/processos/{id}/subprocessos",
		Summary:     "Subprocesses of a process",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*response[[]domain.Subprocess], error) {
		if _, err := e.GetProcess(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListSubprocesses(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})
}

func registerSubprocesses(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-subprocesso",
		Method:      http.MethodGet,
		Path:        "/subprocessos/{id}",
		Summary:     "Get subprocess",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*response[domain.Subprocess], error) {
		sub, err := e.GetSubprocessByID(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(sub), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "acoes-subprocesso",
		Method:      http.MethodGet,
		Path:        "/subprocessos/{id}/acoes",
		Summary:     "Actions the current actor may take",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*response[ActionsResponse], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		acts, err := e.AcoesPermitidas(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(ActionsResponse{SubprocessoID: input.ID, Acoes: nonNilSlice(acts)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-analises",
		Method:      http.MethodGet,
		Path:        "/subprocessos/{id}/analises",
		Summary:     "Analysis history",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*response[[]domain.Analysis], error) {
		items, err := e.ListarAnalises(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-movimentacoes",
		Method:      http.MethodGet,
		Path:        "/subprocessos/{id}/movimentacoes",
		Summary:     "Unit hand-offs",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*response[[]domain.Movement], error) {
		items, err := e.ListarMovimentacoes(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})
}

type transitionFunc func(ctx context.Context, actor domain.Actor, id string, body TransitionRequest) (domain.Subprocess, error)

func registerTransitions(api huma.API, e engine.Engine) {
	routes := []struct {
		op, route, summary string
		fn                 transitionFunc
	}{
		{"disponibilizar", "/subprocessos/{id}/disponibilizar", "Submit cadastro or map for review",
			func(ctx context.Context, a domain.Actor, id string, b TransitionRequest) (domain.Subprocess, error) {
				return e.Disponibilizar(ctx, a, id, engine.DisponibilizarOptions{DataLimite: b.DataLimite})
			}},
		{"disponibilizar-cadastro", "/subprocessos/{id}/cadastro/disponibilizar", "Submit cadastro",
			func(ctx context.Context, a domain.Actor, id string, _ TransitionRequest) (domain.Subprocess, error) {
				return e.DisponibilizarCadastro(ctx, a, id)
			}},
		{"disponibilizar-revisao-cadastro", "/subprocessos/{id}/revisao-cadastro/disponibilizar", "Submit cadastro revision",
			func(ctx context.Context, a domain.Actor, id string, _ TransitionRequest) (domain.Subprocess, error) {
				return e.DisponibilizarRevisaoCadastro(ctx, a, id)
			}},
		{"disponibilizar-mapa", "/subprocessos/{id}/mapa/disponibilizar", "Submit validated map",
			func(ctx context.Context, a domain.Actor, id string, b TransitionRequest) (domain.Subprocess, error) {
				return e.DisponibilizarMapa(ctx, a, id, b.DataLimite)
			}},
		{"aceitar", "/subprocessos/{id}/aceitar", "Accept and forward one level up",
			func(ctx context.Context, a domain.Actor, id string, b TransitionRequest) (domain.Subprocess, error) {
				return e.Aceitar(ctx, a, id, b.Observacao)
			}},
		{"aceitar-cadastro", "/subprocessos/{id}/cadastro/aceitar", "Accept cadastro",
			func(ctx context.Context, a domain.Actor, id string, b TransitionRequest) (domain.Subprocess, error) {
				return e.AceitarCadastro(ctx, a, id, b.Observacao)
			}},
		{"aceitar-revisao-cadastro", "/subprocessos/{id}/revisao-cadastro/aceitar", "Accept cadastro revision",
			func(ctx context.Context, a domain.Actor, id string, b TransitionRequest) (domain.Subprocess, error) {
				return e.AceitarRevisaoCadastro(ctx, a, id, b.Observacao)
			}},
		{"aceitar-mapa", "/subprocessos/{id}/mapa/aceitar", "Accept map",
			func(ctx context.Context, a domain.Actor, id string, b TransitionRequest) (domain.Subprocess, error) {
				return e.AceitarMapa(ctx, a, id, b.Observacao)
			}},
		{"homologar", "/subprocessos/{id}/homologar", "Final approval by the administrator",
			func(ctx context.Context, a domain.Actor, id string, b TransitionRequest) (domain.Subprocess, error) {
				return e.Homologar(ctx, a, id, b.Observacao)
			}},
		{"homologar-cadastro", "/subprocessos/{id}/cadastro/homologar", "Homologate cadastro",
			func(ctx context.Context, a domain.Actor, id string, b TransitionRequest) (domain.Subprocess, error) {
				return e.HomologarCadastro(ctx, a, id, b.Observacao)
			}},
		{"homologar-revisao-cadastro", "/subprocessos/{id}/revisao-cadastro/homologar", "Homologate cadastro revision",
			func(ctx context.Context, a domain.Actor, id string, b TransitionRequest) (domain.Subprocess, error) {
				return e.HomologarRevisaoCadastro(ctx, a, id, b.Observacao)
			}},
		{"homologar-mapa", "/subprocessos/{id}/mapa/homologar", "Homologate map",
			func(ctx context.Context, a domain.Actor, id string, b TransitionRequest) (domain.Subprocess, error) {
				return e.HomologarMapa(ctx, a, id, b.Observacao)
			}},
		{"devolver", "/subprocessos/{id}/devolver", "Return to the owning unit",
			func(ctx context.Context, a domain.Actor, id string, b TransitionRequest) (domain.Subprocess, error) {
				return e.Devolver(ctx, a, id, b.Observacao)
			}},
		{"devolver-cadastro", "/subprocessos/{id}/cadastro/devolver", "Return cadastro",
			func(ctx context.Context, a domain.Actor, id string, b TransitionRequest) (domain.Subprocess, error) {
				return e.DevolverCadastro(ctx, a, id, b.Observacao)
			}},
		{"devolver-revisao-cadastro", "/subprocessos/{id}/revisao-cadastro/devolver", "Return cadastro revision",
			func(ctx context.Context, a domain.Actor, id string, b TransitionRequest) (domain.Subprocess, error) {
				return e.DevolverRevisaoCadastro(ctx, a, id, b.Observacao)
			}},
		{"devolver-mapa", "/subprocessos/{id}/mapa/devolver", "Return map",
			func(ctx context.Context, a domain.Actor, id string, b TransitionRequest) (domain.Subprocess, error) {
				return e.DevolverMapa(ctx, a, id, b.Observacao)
			}},
		{"iniciar-mapa", "/subprocessos/{id}/iniciar-mapa", "Open the map stage",
			func(ctx context.Context, a domain.Actor, id string, _ TransitionRequest) (domain.Subprocess, error) {
				return e.IniciarMapa(ctx, a, id)
			}},
		{"validar-mapa", "/subprocessos/{id}/mapa/validar", "Owning unit confirms the map",
			func(ctx context.Context, a domain.Actor, id string, _ TransitionRequest) (domain.Subprocess, error) {
				return e.ValidarMapa(ctx, a, id)
			}},
	}
	for _, rt := range routes {
		registerTransition(api, rt.op, rt.route, rt.summary, rt.fn)
	}

	huma.Register(api, huma.Operation{
		OperationID: "apresentar-sugestoes",
		Method:      http.MethodPost,
		Path:        "/subprocessos/{id}/mapa/sugestoes",
		Summary:     "Record suggestions on the map",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body SugestoesRequest `json:"body"`
	}) (*response[domain.Subprocess], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		sub, err := e.ApresentarSugestoes(ctx, actor, input.ID, input.Body.Sugestoes)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(sub), nil
	})
}

func registerTransition(api huma.API, opID, route, summary string, fn transitionFunc) {
	huma.Register(api, huma.Operation{
		OperationID: opID,
		Method:      http.MethodPost,
		Path:        route,
		Summary:     summary,
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body *TransitionRequest `json:"body,omitempty" required:"false"`
	}) (*response[domain.Subprocess], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var body TransitionRequest
		if input.Body != nil {
			body = *input.Body
		}
		sub, err := fn(ctx, actor, input.ID, body)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(sub), nil
	})
}

func registerCadastro(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-atividades",
		Method:      http.MethodGet,
		Path:        "/subprocessos/{id}/atividades",
		Summary:     "Activities with their knowledge",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*response[[]domain.Activity], error) {
		items, err := e.ListarAtividades(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-atividade",
		Method:        http.MethodPost,
		Path:          "/subprocessos/{id}/atividades",
		Summary:       "Add activity",
		DefaultStatus: http.StatusCreated,
		Errors:        transitionErrors,
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body DescricaoRequest `json:"body"`
	}) (*response[domain.Activity], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.AddActivity(ctx, actor, input.ID, input.Body.Descricao)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-atividade",
		Method:        http.MethodDelete,
		Path:          "/atividades/{id}",
		Summary:       "Remove activity and its knowledge",
		DefaultStatus: http.StatusNoContent,
		Errors:        transitionErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RemoveActivity(ctx, actor, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-conhecimento",
		Method:        http.MethodPost,
		Path:          "/atividades/{id}/conhecimentos",
		Summary:       "Add knowledge to an activity",
		DefaultStatus: http.StatusCreated,
		Errors:        transitionErrors,
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body DescricaoRequest `json:"body"`
	}) (*response[domain.Activity], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.AddKnowledge(ctx, actor, input.ID, input.Body.Descricao)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-conhecimento",
		Method:      http.MethodDelete,
		Path:        "/conhecimentos/{id}",
		Summary:     "Remove knowledge",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*response[domain.Activity], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.RemoveKnowledge(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "importar-atividades",
		Method:      http.MethodPost,
		Path:        "/subprocessos/{id}/atividades/importar",
		Summary:     "Copy activities from another subprocess",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ID   string                    `path:"id"`
		Body ImportarAtividadesRequest `json:"body"`
	}) (*response[engine.ImportResult], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.ImportarAtividades(ctx, actor, input.ID, input.Body.OrigemID, input.Body.Atividades)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "validar-cadastro",
		Method:      http.MethodGet,
		Path:        "/subprocessos/{id}/cadastro/validacao",
		Summary:     "Check the cadastro without changing it",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*response[ValidationResponse], error) {
		res, err := e.ValidarCadastro(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(validationResponse(res)), nil
	})
}

func registerMapa(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-competencias",
		Method:      http.MethodGet,
		Path:        "/subprocessos/{id}/competencias",
		Summary:     "Competencies of the map",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*response[[]domain.Competency], error) {
		items, err := e.ListarCompetencias(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-competencia",
		Method:        http.MethodPost,
		Path:          "/subprocessos/{id}/competencias",
		Summary:       "Create competency",
		DefaultStatus: http.StatusCreated,
		Errors:        transitionErrors,
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body CompetenciaRequest `json:"body"`
	}) (*response[domain.Competency], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.CriarCompetencia(ctx, actor, input.ID, input.Body.Descricao, input.Body.Atividades)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-competencia",
		Method:      http.MethodPatch,
		Path:        "/competencias/{id}",
		Summary:     "Edit competency",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ID   string                   `path:"id"`
		Body UpdateCompetenciaRequest `json:"body"`
	}) (*response[domain.Competency], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.EditarCompetencia(ctx, actor, input.ID, input.Body.Descricao, input.Body.Atividades)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-competencia",
		Method:      http.MethodDelete,
		Path:        "/competencias/{id}",
		Summary:     "Delete competency",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*response[domain.Competency], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.ExcluirCompetencia(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "verificar-mapa",
		Method:      http.MethodGet,
		Path:        "/subprocessos/{id}/mapa/validacao",
		Summary:     "Check the map without changing it",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*response[ValidationResponse], error) {
		res, err := e.VerificarMapa(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(validationResponse(res)), nil
	})
}

func registerBatches(api huma.API, e engine.Engine) {
	batches := []struct {
		op, route, summary string
		fn                 func(context.Context, domain.Actor, BatchRequest) engine.BatchResult
	}{
		{"aceitar-em-bloco", "/lote/aceitar", "Accept many subprocesses",
			func(ctx context.Context, a domain.Actor, b BatchRequest) engine.BatchResult {
				return e.AceitarEmBloco(ctx, a, b.IDs, b.Observacao)
			}},
		{"homologar-em-bloco", "/lote/homologar", "Homologate many subprocesses",
			func(ctx context.Context, a domain.Actor, b BatchRequest) engine.BatchResult {
				return e.HomologarEmBloco(ctx, a, b.IDs, b.Observacao)
			}},
		{"iniciar-mapa-em-bloco", "/lote/iniciar-mapa", "Open the map stage of many subprocesses",
			func(ctx context.Context, a domain.Actor, b BatchRequest) engine.BatchResult {
				return e.IniciarMapaEmBloco(ctx, a, b.IDs)
			}},
	}
	for _, bt := range batches {
		fn := bt.fn
		huma.Register(api, huma.Operation{
			OperationID: bt.op,
			Method:      http.MethodPost,
			Path:        bt.route,
			Summary:     bt.summary,
			Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
		}, func(ctx context.Context, input *struct {
			Body BatchRequest `json:"body"`
		}) (*response[engine.BatchResult], error) {
			actor, authErr := actorFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			return reply(fn(ctx, actor, input.Body)), nil
		})
	}
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProcessoID string `query:"processo_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"processo,subprocesso,atividade,competencia,unidade"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*response[paginatedEvents], error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.LatestEvents(ctx, repo.EventFilters{
			ProcessoID: input.ProcessoID,
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Cursor:     cursorID,
			Limit:      limit + 1,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return reply(resp), nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
