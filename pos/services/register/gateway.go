package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrAllEndpointsFailed é retornado quando o endpoint preferido e o de failover falham
var ErrAllEndpointsFailed = errors.New("all endpoints failed")

// APIError é um erro de passagem (status < 500) devolvido pelo backend, com a mensagem original
type APIError struct {
	Status    int
	Message   string
	Available *int
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed with status %d", e.Status)
	}
	return e.Message
}

type errorBody struct {
	Error     string `json:"error"`
	Available *int   `json:"available"`
}

// Request descreve uma chamada lógica ao backend
type Request struct {
	Method string
	Path   string
	Query  map[string]string
	Body   any
	Result any
}

// Gateway envia cada chamada para um de N backends equivalentes.
// Falhas de servidor (rede, timeout, status >= 500) avançam o índice preferido
// e a chamada é repetida uma única vez; o novo índice permanece para as chamadas seguintes.
type Gateway struct {
	client    *resty.Client
	endpoints []string
	current   atomic.Int32
}

// NewGateway cria um Gateway com a lista ordenada de endpoints e o timeout por chamada
func NewGateway(endpoints []string, timeout time.Duration) (*Gateway, error) {
	cleaned := make([]string, 0, len(endpoints))
	for _, e := range endpoints {
		e = strings.TrimRight(strings.TrimSpace(e), "/")
		if e == "" {
			continue
		}
		if _, err := url.ParseRequestURI(e); err != nil {
			return nil, fmt.Errorf("invalid endpoint %q: %w", e, err)
		}
		cleaned = append(cleaned, e)
	}
	if len(cleaned) == 0 {
		return nil, errors.New("at least one endpoint is required")
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive, got %s", timeout)
	}

	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &Gateway{
		client:    client,
		endpoints: cleaned,
	}, nil
}

// SetIdentity define os cabeçalhos de identidade enviados em todas as chamadas
func (g *Gateway) SetIdentity(userID, role string) {
	g.client.SetHeader("X-User-ID", userID)
	g.client.SetHeader("X-User-Role", role)
}

// Current retorna o índice do endpoint preferido
func (g *Gateway) Current() int {
	return int(g.current.Load())
}

// Endpoint retorna o endpoint preferido
func (g *Gateway) Endpoint() string {
	return g.endpoints[g.Current()]
}

// Failover avança o endpoint preferido e retorna o novo índice
func (g *Gateway) Failover() int {
	from := g.current.Load()
	return int(g.advance(from))
}

func (g *Gateway) advance(from int32) int32 {
	next := (from + 1) % int32(len(g.endpoints))
	// se outra chamada já avançou, mantém o índice dela
	if !g.current.CompareAndSwap(from, next) {
		return g.current.Load()
	}
	return next
}

// PushURL deriva a URL do canal WebSocket do endpoint preferido
func (g *Gateway) PushURL() string {
	endpoint := g.Endpoint()
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		endpoint = "wss://" + strings.TrimPrefix(endpoint, "https://")
	case strings.HasPrefix(endpoint, "http://"):
		endpoint = "ws://" + strings.TrimPrefix(endpoint, "http://")
	}
	return endpoint + "/ws"
}

// Do executa a chamada lógica com no máximo um failover
func (g *Gateway) Do(ctx context.Context, req Request) (*resty.Response, error) {
	start := g.current.Load()

	resp, err := g.send(ctx, g.endpoints[start], req)
	if !isServerClass(resp, err) {
		return resp, passThrough(resp, err)
	}

	// o chamador desistiu: não é falha do servidor
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	next := g.advance(start)
	log.Printf("⚠️ [GATEWAY] %s %s failed on %s (%s), retrying on %s",
		req.Method, req.Path, g.endpoints[start], describe(resp, err), g.endpoints[next])

	resp, err = g.send(ctx, g.endpoints[next], req)
	if isServerClass(resp, err) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Printf("❌ [GATEWAY] %s %s failed on %s (%s)", req.Method, req.Path, g.endpoints[next], describe(resp, err))
		return nil, fmt.Errorf("%w: %s", ErrAllEndpointsFailed, describe(resp, err))
	}
	return resp, passThrough(resp, err)
}

func (g *Gateway) send(ctx context.Context, endpoint string, req Request) (*resty.Response, error) {
	r := g.client.R().
		SetContext(ctx).
		SetError(&errorBody{})
	if req.Query != nil {
		r.SetQueryParams(req.Query)
	}
	if req.Body != nil {
		r.SetBody(req.Body)
	}
	if req.Result != nil {
		r.SetResult(req.Result)
	}
	return r.Execute(req.Method, endpoint+req.Path)
}

// answered indica que o nó respondeu com um status, mesmo que o corpo não decodifique
func answered(resp *resty.Response) bool {
	return resp != nil && resp.RawResponse != nil
}

// isServerClass: sem resposta (rede, timeout) ou status >= 500.
// Com status recebido, só o status decide.
func isServerClass(resp *resty.Response, err error) bool {
	if answered(resp) {
		return resp.StatusCode() >= http.StatusInternalServerError
	}
	return err != nil
}

func passThrough(resp *resty.Response, err error) error {
	if !answered(resp) || !resp.IsError() {
		return err
	}
	apiErr := &APIError{Status: resp.StatusCode()}
	if body, ok := resp.Error().(*errorBody); ok && body != nil {
		apiErr.Message = body.Error
		apiErr.Available = body.Available
	}
	return apiErr
}

func describe(resp *resty.Response, err error) string {
	if err != nil {
		return err.Error()
	}
	return resp.Status()
}

// --- Chamadas tipadas ---

// ListProducts lista o catálogo, opcionalmente filtrado por categoria
func (g *Gateway) ListProducts(ctx context.Context, category string) ([]Product, error) {
	var products []Product
	req := Request{Method: http.MethodGet, Path: "/api/products", Result: &products}
	if category != "" {
		req.Query = map[string]string{"category": category}
	}
	if _, err := g.Do(ctx, req); err != nil {
		return nil, err
	}
	return products, nil
}

// CreateSale envia uma venda para o backend
func (g *Gateway) CreateSale(ctx context.Context, sale CreateSaleRequest) (*Sale, error) {
	var created Sale
	_, err := g.Do(ctx, Request{Method: http.MethodPost, Path: "/api/sales", Body: sale, Result: &created})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// MySales lista as últimas vendas do caixa identificado
func (g *Gateway) MySales(ctx context.Context) ([]Sale, error) {
	var sales []Sale
	if _, err := g.Do(ctx, Request{Method: http.MethodGet, Path: "/api/sales/my-sales", Result: &sales}); err != nil {
		return nil, err
	}
	return sales, nil
}

// Health consulta o estado do nó preferido
func (g *Gateway) Health(ctx context.Context) (*Health, error) {
	var health Health
	if _, err := g.Do(ctx, Request{Method: http.MethodGet, Path: "/health", Result: &health}); err != nil {
		return nil, err
	}
	return &health, nil
}
