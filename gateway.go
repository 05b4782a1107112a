package onboarding

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const headerRequestID = "X-Request-Id"

// CallObserver is told when a gateway call starts and when it ends.
// CallFinished runs exactly once per CallStarted.
type CallObserver interface {
	CallStarted()
	CallFinished(err error)
}

type noopObserver struct{}

func (noopObserver) CallStarted()       {}
func (noopObserver) CallFinished(error) {}

// Gateway issues authenticated requests against the platform API.
type Gateway struct {
	baseURL  string
	tenantID string
	client   *http.Client
	tokens   *TokenManager
	observer CallObserver
	logger   Logger
}

// NewGateway builds a gateway using tokens for authorization.
func NewGateway(cfg Config, tokens *TokenManager, client *http.Client, observer CallObserver, logger Logger) *Gateway {
	cfg = cfg.withDefaults()
	if client == nil {
		client = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	if observer == nil {
		observer = noopObserver{}
	}
	if logger == nil {
		logger = defLogger{}
	}
	return &Gateway{
		baseURL:  cfg.APIBaseURL,
		tenantID: cfg.TenantID,
		client:   client,
		tokens:   tokens,
		observer: observer,
		logger:   logger,
	}
}

// Call sends body (when not nil) as JSON to endpoint and returns the raw JSON
// response. A 401 triggers one re-authentication and one retry.
func (g *Gateway) Call(ctx context.Context, method, endpoint string, body any) (raw json.RawMessage, err error) {
	g.observer.CallStarted()
	defer func() {
		g.observer.CallFinished(err)
	}()

	var payload []byte
	if body != nil {
		if payload, err = json.Marshal(body); err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to encode request body")
		}
	}

	token, err := g.tokens.ValidToken(ctx)
	if err != nil {
		return nil, err
	}

	status, respBody, err := g.send(ctx, method, endpoint, token, payload)
	if err != nil {
		return nil, err
	}

	retried := false
	if status == http.StatusUnauthorized {
		g.logger.Info("%s %s returned 401, re-authenticating", method, endpoint)
		if token, err = g.tokens.Reauthenticate(ctx, token); err != nil {
			return nil, err
		}
		retried = true
		if status, respBody, err = g.send(ctx, method, endpoint, token, payload); err != nil {
			return nil, err
		}
	}

	if status < 200 || status > 299 {
		return nil, &APIError{
			Method:   method,
			Endpoint: endpoint,
			Status:   status,
			Retried:  retried,
			Body:     truncate(string(respBody), 512),
		}
	}

	if len(bytes.TrimSpace(respBody)) == 0 {
		return nil, nil
	}
	if !json.Valid(respBody) {
		return nil, &APIError{Method: method, Endpoint: endpoint, Status: status, Retried: retried, Err: errInvalidJSON}
	}
	return json.RawMessage(respBody), nil
}

// Do is Call followed by decoding into out. A nil out discards the body.
func (g *Gateway) Do(ctx context.Context, method, endpoint string, body, out any) error {
	raw, err := g.Call(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &APIError{Method: method, Endpoint: endpoint, Err: err}
	}
	return nil
}

func (g *Gateway) send(ctx context.Context, method, endpoint, token string, payload []byte) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.url(endpoint), reader)
	if err != nil {
		return 0, nil, &APIError{Method: method, Endpoint: endpoint, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(headerTenantID, g.tenantID)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(headerRequestID, requestID(ctx))

	resp, err := g.client.Do(req)
	if err != nil {
		return 0, nil, &APIError{Method: method, Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, &APIError{Method: method, Endpoint: endpoint, Status: resp.StatusCode, Err: err}
	}
	return resp.StatusCode, body, nil
}

func (g *Gateway) url(endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return g.baseURL + endpoint
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
