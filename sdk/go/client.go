package sgcsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal SGC HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  10 * time.Second,
	}
}

type Process struct {
	ID         string   `json:"id"`
	Descricao  string   `json:"descricao"`
	Tipo       string   `json:"tipo"`
	Situacao   string   `json:"situacao"`
	DataLimite string   `json:"data_limite"`
	Unidades   []string `json:"unidades"`
}

type Subprocess struct {
	ID           string `json:"id"`
	ProcessoID   string `json:"processo_id"`
	Unidade      string `json:"unidade"`
	Situacao     string `json:"situacao"`
	UnidadeAtual string `json:"unidade_atual"`
	MapaValidado bool   `json:"mapa_validado"`
}

type Knowledge struct {
	ID        string `json:"id"`
	Descricao string `json:"descricao"`
}

type Activity struct {
	ID            string      `json:"id"`
	SubprocessoID string      `json:"subprocesso_id"`
	Descricao     string      `json:"descricao"`
	Conhecimentos []Knowledge `json:"conhecimentos"`
}

type Competency struct {
	ID            string   `json:"id"`
	SubprocessoID string   `json:"subprocesso_id"`
	Descricao     string   `json:"descricao"`
	Atividades    []string `json:"atividades"`
}

// BatchResult lists per-id outcomes of a bulk call.
type BatchResult struct {
	Sucesso []string `json:"sucesso"`
	Falhas  []struct {
		ID     string `json:"id"`
		Codigo string `json:"codigo"`
		Erro   string `json:"erro"`
	} `json:"falhas"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ProcessoID string         `json:"processo_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code and Details come from the error envelope when present.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateProcess creates a process in CRIADO.
func (c *Client) CreateProcess(ctx context.Context, descricao, tipo, dataLimite string, unidades []string) (Process, error) {
	body := map[string]any{
		"descricao":   descricao,
		"tipo":        tipo,
		"data_limite": dataLimite,
		"unidades":    unidades,
	}
	var resp Process
	err := c.do(ctx, http.MethodPost, "processos", body, &resp)
	return resp, err
}

// StartProcess opens one subprocess per participating unit.
func (c *Client) StartProcess(ctx context.Context, id string) (Process, error) {
	var resp Process
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("processos/%s/iniciar", url.PathEscape(id)), nil, &resp)
	return resp, err
}

func (c *Client) FinalizeProcess(ctx context.Context, id string) (Process, error) {
	var resp Process
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("processos/%s/finalizar", url.PathEscape(id)), nil, &resp)
	return resp, err
}

func (c *Client) Subprocesses(ctx context.Context, processoID string) ([]Subprocess, error) {
	var resp []Subprocess
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("processos/%s/subprocessos", url.PathEscape(processoID)), nil, &resp)
	return resp, err
}

// Transition calls a subprocess action such as "disponibilizar", "aceitar",
// "homologar", "devolver", "iniciar-mapa" or "mapa/validar".
func (c *Client) Transition(ctx context.Context, subprocessoID, action, observacao string) (Subprocess, error) {
	var body any
	if observacao != "" {
		body = map[string]any{"observacao": observacao}
	}
	var resp Subprocess
	endpoint := fmt.Sprintf("subprocessos/%s/%s", url.PathEscape(subprocessoID), strings.Trim(action, "/"))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Actions returns what the authenticated actor may do on a subprocess.
func (c *Client) Actions(ctx context.Context, subprocessoID string) ([]string, error) {
	var resp struct {
		Acoes []string `json:"acoes"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("subprocessos/%s/acoes", url.PathEscape(subprocessoID)), nil, &resp)
	return resp.Acoes, err
}

func (c *Client) AddActivity(ctx context.Context, subprocessoID, descricao string) (Activity, error) {
	var resp Activity
	endpoint := fmt.Sprintf("subprocessos/%s/atividades", url.PathEscape(subprocessoID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"descricao": descricao}, &resp)
	return resp, err
}

func (c *Client) AddKnowledge(ctx context.Context, atividadeID, descricao string) (Activity, error) {
	var resp Activity
	endpoint := fmt.Sprintf("atividades/%s/conhecimentos", url.PathEscape(atividadeID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"descricao": descricao}, &resp)
	return resp, err
}

func (c *Client) CreateCompetency(ctx context.Context, subprocessoID, descricao string, atividades []string) (Competency, error) {
	var resp Competency
	endpoint := fmt.Sprintf("subprocessos/%s/competencias", url.PathEscape(subprocessoID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"descricao": descricao, "atividades": atividades}, &resp)
	return resp, err
}

// Batch runs a bulk action: "aceitar", "homologar" or "iniciar-mapa".
func (c *Client) Batch(ctx context.Context, action string, ids []string, observacao string) (BatchResult, error) {
	body := map[string]any{"ids": ids}
	if observacao != "" {
		body["observacao"] = observacao
	}
	var resp BatchResult
	err := c.do(ctx, http.MethodPost, "lote/"+strings.Trim(action, "/"), body, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
			apiErr.Details = envelope.Error.Details
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
