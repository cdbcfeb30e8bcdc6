package sgcsdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransitionSendsObservationAndToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/subprocessos/s1/aceitar", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "ok", body["observacao"])
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "s1", "situacao": "CADASTRO_DISPONIBILIZADO", "unidade_atual": "COORD_11"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.BearerToken = "tok"
	sub, err := c.Transition(context.Background(), "s1", "aceitar", "ok")
	require.NoError(t, err)
	require.Equal(t, "COORD_11", sub.UnidadeAtual)
}

func TestErrorEnvelopeIsDecoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "abc", r.Header.Get("X-Api-Key"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"code":"processo_nao_finalizavel","message":"pendente","details":{"unidades_pendentes":["SECAO_112"]}}}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.APIKey = "abc"
	_, err := c.FinalizeProcess(context.Background(), "p1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusConflict, apiErr.StatusCode)
	require.Equal(t, "processo_nao_finalizavel", apiErr.Code)
	require.Equal(t, []any{"SECAO_112"}, apiErr.Details["unidades_pendentes"])
}

func TestEventsPageQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/events", r.URL.Path)
		require.Equal(t, "5", r.URL.Query().Get("limit"))
		require.Equal(t, "42", r.URL.Query().Get("cursor"))
		_, _ = w.Write([]byte(`{"items":[{"id":41,"type":"processo.criado"}],"next_cursor":"41"}`))
	}))
	defer srv.Close()

	page, err := New(srv.URL).EventsPage(context.Background(), 5, "42")
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, "41", page.NextCursor)
}
