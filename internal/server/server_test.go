package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sgc/internal/app"
	"sgc/internal/config"
	"sgc/internal/domain"
	"sgc/internal/engine"
	"sgc/internal/repo"
)

const testSecret = "test-secret"

var (
	admin       = domain.Actor{ID: "admin", Role: domain.RoleAdmin, Unidade: "SEDOC"}
	gestorSec1  = domain.Actor{ID: "gestor-sec1", Role: domain.RoleGestor, Unidade: "SECRETARIA_1"}
	gestorCoord = domain.Actor{ID: "gestor-coord11", Role: domain.RoleGestor, Unidade: "COORD_11"}
	chefe111    = domain.Actor{ID: "chefe-111", Role: domain.RoleChefe, Unidade: "SECAO_111"}
	chefe112    = domain.Actor{ID: "chefe-112", Role: domain.RoleChefe, Unidade: "SECAO_112"}
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	env, err := app.Open(context.Background(), app.Options{Workspace: t.TempDir()})
	require.NoError(t, err)
	handler, err := New(Config{Engine: env.Engine, BasePath: "/v1", Auth: AuthConfig{JWTSecret: testSecret}})
	require.NoError(t, err)
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: env.Engine,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			env.Close()
		},
	}
	t.Cleanup(testSrv.Close)
	return testSrv
}

func bearer(t *testing.T, actor domain.Actor) map[string]string {
	t.Helper()
	token, err := SignToken(testSecret, actor, time.Hour)
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + token}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decodeError(t *testing.T, data []byte) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(data, &env), string(data))
	return env
}

// startProcess creates and starts a MAPEAMENTO process over HTTP and returns subprocess ids by unit.
func startProcess(t *testing.T, srv *testServer, unidades ...string) map[string]string {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/processos", map[string]any{
		"descricao":   "Mapeamento 2024",
		"tipo":        "MAPEAMENTO",
		"data_limite": "2024-12-31",
		"unidades":    unidades,
	}, bearer(t, admin))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var p domain.Process
	require.NoError(t, json.Unmarshal(data, &p))
	require.Equal(t, domain.ProcessCriado, p.Situacao)

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/processos/"+p.ID+"/iniciar", nil, bearer(t, admin))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/processos/"+p.ID+"/subprocessos", nil, bearer(t, admin))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var subs []domain.Subprocess
	require.NoError(t, json.Unmarshal(data, &subs))
	ids := map[string]string{}
	for _, s := range subs {
		ids[s.Unidade] = s.ID
	}
	require.Len(t, ids, len(unidades))
	return ids
}

func addActivity(t *testing.T, srv *testServer, actor domain.Actor, subID string, withKnowledge bool) domain.Activity {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/subprocessos/"+subID+"/atividades", map[string]any{
		"descricao": "Elaborar pareceres",
	}, bearer(t, actor))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var a domain.Activity
	require.NoError(t, json.Unmarshal(data, &a))
	if withKnowledge {
		res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/atividades/"+a.ID+"/conhecimentos", map[string]any{
			"descricao": "Legislacao",
		}, bearer(t, actor))
		require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
		require.NoError(t, json.Unmarshal(data, &a))
		require.Len(t, a.Conhecimentos, 1)
	}
	return a
}

func TestAuthentication(t *testing.T) {
	srv := newTestServer(t)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Contains(t, string(data), "bearerAuth")

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/metrics", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/me", nil, nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	require.Equal(t, "unauthorized", decodeError(t, data).Error.Code)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"Authorization": "Bearer garbage"})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	require.Equal(t, "invalid_credentials", decodeError(t, data).Error.Code)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/me", nil, bearer(t, chefe111))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var me ActorResponse
	require.NoError(t, json.Unmarshal(data, &me))
	require.Equal(t, "chefe-111", me.ID)
	require.Equal(t, domain.RoleChefe, me.Perfil)
	require.Equal(t, "SECAO_111", me.Unidade)
	require.Equal(t, "jwt", me.Source)
}

func TestAPIKeyAuthentication(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	now := time.Now().UTC().Format(time.RFC3339)
	require.NoError(t, srv.Engine.Repo.UpsertActor(ctx, domain.ActorRecord{ID: "gestor-coord11", Perfil: domain.RoleGestor, Unidade: "COORD_11", CreatedAt: now}))
	require.NoError(t, srv.Engine.Repo.InsertAPIKey(ctx, domain.APIKey{
		ID:        "key-1",
		ActorID:   "gestor-coord11",
		Name:      "ci",
		KeyHash:   repo.HashAPIKey("s3cret"),
		CreatedAt: now,
	}))

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"X-Api-Key": "s3cret"})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var me ActorResponse
	require.NoError(t, json.Unmarshal(data, &me))
	require.Equal(t, "gestor-coord11", me.ID)
	require.Equal(t, "COORD_11", me.Unidade)
	require.Equal(t, "api_key", me.Source)

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"X-Api-Key": "wrong"})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestCadastroFlowOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()
	ids := startProcess(t, srv, "SECAO_111")
	subID := ids["SECAO_111"]
	base := srv.URL + "/v1/subprocessos/" + subID

	act := addActivity(t, srv, chefe111, subID, false)

	res, data := doJSON(t, client, http.MethodGet, base+"/cadastro/validacao", nil, bearer(t, chefe111))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var val ValidationResponse
	require.NoError(t, json.Unmarshal(data, &val))
	require.False(t, val.Valido)
	require.Len(t, val.Erros, 1)

	// activity without knowledge
	res, data = doJSON(t, client, http.MethodPost, base+"/cadastro/disponibilizar", nil, bearer(t, chefe111))
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode, string(data))
	envelope := decodeError(t, data)
	require.Equal(t, "validation_failed", envelope.Error.Code)
	erros, ok := envelope.Error.Details["erros"].([]any)
	require.True(t, ok)
	require.Len(t, erros, 1)
	require.Equal(t, act.ID, erros[0].(map[string]any)["atividade_id"])

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/atividades/"+act.ID+"/conhecimentos", map[string]any{"descricao": "Legislacao"}, bearer(t, chefe111))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodPost, base+"/cadastro/disponibilizar", nil, bearer(t, chefe111))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var sub domain.Subprocess
	require.NoError(t, json.Unmarshal(data, &sub))
	require.Equal(t, domain.CadastroDisponibilizado, sub.Situacao)

	// an unrelated unit may not review
	res, data = doJSON(t, client, http.MethodPost, base+"/aceitar", nil, bearer(t, chefe112))
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))
	envelope = decodeError(t, data)
	require.Equal(t, "forbidden", envelope.Error.Code)
	require.Equal(t, "aceitar", envelope.Error.Details["acao"])

	res, data = doJSON(t, client, http.MethodPost, base+"/aceitar", map[string]any{"observacao": "ok"}, bearer(t, gestorCoord))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &sub))
	require.Equal(t, "COORD_11", sub.UnidadeAtual)

	// the chain has not reached the root yet
	res, data = doJSON(t, client, http.MethodPost, base+"/homologar", nil, bearer(t, admin))
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
	envelope = decodeError(t, data)
	require.Equal(t, "invalid_transition", envelope.Error.Code)
	require.Equal(t, string(domain.CadastroDisponibilizado), envelope.Error.Details["situacao"])

	res, data = doJSON(t, client, http.MethodPost, base+"/cadastro/aceitar", nil, bearer(t, gestorSec1))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	res, data = doJSON(t, client, http.MethodPost, base+"/cadastro/homologar", nil, bearer(t, admin))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &sub))
	require.Equal(t, domain.CadastroHomologado, sub.Situacao)
	require.Equal(t, "SECAO_111", sub.UnidadeAtual)

	res, data = doJSON(t, client, http.MethodGet, base+"/analises", nil, bearer(t, admin))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var analyses []domain.Analysis
	require.NoError(t, json.Unmarshal(data, &analyses))
	require.Len(t, analyses, 3)
	require.Equal(t, domain.DecisionHomologacao, analyses[2].Decisao)

	res, data = doJSON(t, client, http.MethodGet, base+"/movimentacoes", nil, bearer(t, admin))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var moves []domain.Movement
	require.NoError(t, json.Unmarshal(data, &moves))
	require.NotEmpty(t, moves)

	res, data = doJSON(t, client, http.MethodPost, base+"/iniciar-mapa", nil, bearer(t, admin))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &sub))
	require.Equal(t, domain.MapaEmAndamento, sub.Situacao)
}

func TestErrorMapping(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/subprocessos/nope", nil, bearer(t, admin))
	require.Equal(t, http.StatusNotFound, res.StatusCode, string(data))
	require.Equal(t, "not_found", decodeError(t, data).Error.Code)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/processos", map[string]any{
		"descricao":   "x",
		"tipo":        "OUTRO",
		"data_limite": "2024-12-31",
		"unidades":    []string{"SECAO_111"},
	}, bearer(t, admin))
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/processos", map[string]any{
		"descricao":   "x",
		"tipo":        "MAPEAMENTO",
		"data_limite": "2024-12-31",
		"unidades":    []string{"SEDOC"},
	}, bearer(t, admin))
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	require.Equal(t, "bad_request", decodeError(t, data).Error.Code)

	// only administrators create processes
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/processos", map[string]any{
		"descricao":   "x",
		"tipo":        "MAPEAMENTO",
		"data_limite": "2024-12-31",
		"unidades":    []string{"SECAO_111"},
	}, bearer(t, chefe111))
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/events?cursor=abc", nil, bearer(t, admin))
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
}

func TestFinalizeReportsPendingUnits(t *testing.T) {
	srv := newTestServer(t)
	ids := startProcess(t, srv, "SECAO_111", "SECAO_112")
	sub, err := srv.Engine.GetSubprocessByID(context.Background(), ids["SECAO_111"])
	require.NoError(t, err)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/processos/"+sub.ProcessoID+"/finalizar", nil, bearer(t, admin))
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
	envelope := decodeError(t, data)
	require.Equal(t, "processo_nao_finalizavel", envelope.Error.Code)
	require.ElementsMatch(t, []any{"SECAO_111", "SECAO_112"}, envelope.Error.Details["unidades_pendentes"])

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/processos/"+sub.ProcessoID+"/resumo", nil, bearer(t, admin))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var sum engine.ProcessSummary
	require.NoError(t, json.Unmarshal(data, &sum))
	require.False(t, sum.Finalizavel)
	require.Equal(t, 2, sum.Situacoes[domain.CadastroEmAndamento])
}

func TestBatchEndpoint(t *testing.T) {
	srv := newTestServer(t)
	ids := startProcess(t, srv, "SECAO_111", "SECAO_112")
	for sigla, chefe := range map[string]domain.Actor{"SECAO_111": chefe111, "SECAO_112": chefe112} {
		addActivity(t, srv, chefe, ids[sigla], true)
		res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/subprocessos/"+ids[sigla]+"/disponibilizar", nil, bearer(t, chefe))
		require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	}

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/lote/aceitar", map[string]any{
		"ids": []string{ids["SECAO_111"], "nope", ids["SECAO_112"]},
	}, bearer(t, gestorCoord))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var batch engine.BatchResult
	require.NoError(t, json.Unmarshal(data, &batch))
	require.Equal(t, []string{ids["SECAO_111"], ids["SECAO_112"]}, batch.Sucesso)
	require.Len(t, batch.Falhas, 1)
	require.Equal(t, "nope", batch.Falhas[0].ID)
	require.Equal(t, engine.CodeNotFound, batch.Falhas[0].Codigo)

	res, _ = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/lote/aceitar", map[string]any{"ids": []string{}}, bearer(t, gestorCoord))
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestEventsPagination(t *testing.T) {
	srv := newTestServer(t)
	startProcess(t, srv, "SECAO_111", "SECAO_112")

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/events?limit=2", nil, bearer(t, admin))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var page paginatedEvents
	require.NoError(t, json.Unmarshal(data, &page))
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.NextCursor)
	require.Greater(t, page.Items[0].ID, page.Items[1].ID)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/events?limit=2&cursor="+page.NextCursor, nil, bearer(t, admin))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var next paginatedEvents
	require.NoError(t, json.Unmarshal(data, &next))
	require.NotEmpty(t, next.Items)
	require.Less(t, next.Items[0].ID, page.Items[1].ID)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/events?type=processo.iniciado", nil, bearer(t, admin))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &next))
	require.Len(t, next.Items, 1)
	require.Equal(t, "processo", next.Items[0].EntityKind)
}

func TestWebhookNotifierDelivers(t *testing.T) {
	received := make(chan http.Header, 4)
	bodies := make(chan webhookEvent, 4)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		_ = json.NewDecoder(r.Body).Decode(&evt)
		received <- r.Header.Clone()
		bodies <- evt
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	n := NewWebhookNotifier([]config.WebhookConfig{
		{URL: hook.URL, Events: []string{"subprocesso.aceito"}, Secret: "shh"},
	}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	n.Start(ctx)

	n.Notify(ctx, domain.Event{ID: 1, Type: "processo.criado", EntityKind: "processo", Payload: `{}`})
	n.Notify(ctx, domain.Event{ID: 2, Type: "subprocesso.aceito", ProcessoID: "p1", EntityKind: "subprocesso", EntityID: "s1", Payload: `{"de":"SECAO_111"}`})
	n.Close()

	require.Len(t, received, 1)
	headers := <-received
	require.Equal(t, "subprocesso.aceito", headers.Get("X-Sgc-Event"))
	require.Equal(t, "2", headers.Get("X-Sgc-Delivery"))
	require.Equal(t, "shh", headers.Get("X-Sgc-Secret"))
	evt := <-bodies
	require.Equal(t, "s1", evt.EntityID)
	require.JSONEq(t, `{"de":"SECAO_111"}`, string(evt.Payload))
}

func TestWebhookNotifierSkipsDisabledHooks(t *testing.T) {
	disabled := false
	n := NewWebhookNotifier([]config.WebhookConfig{{URL: "http://127.0.0.1:1", Enabled: &disabled}, {URL: " "}}, nil)
	require.Empty(t, n.hooks)
	n.Notify(context.Background(), domain.Event{ID: 1, Type: "processo.criado"})
	require.Empty(t, n.queue)
}

func TestWebhookNotifierDropsEventsAfterClose(t *testing.T) {
	delivered := make(chan struct{}, 4)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		delivered <- struct{}{}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	n := NewWebhookNotifier([]config.WebhookConfig{{URL: hook.URL}}, nil)
	n.Start(context.Background())
	n.Close()

	require.NotPanics(t, func() {
		n.Notify(context.Background(), domain.Event{ID: 7, Type: "subprocesso.aceito"})
	})
	require.NotPanics(t, n.Close)
	require.Empty(t, delivered)
}
