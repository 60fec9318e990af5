package odoo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
)

// JSONRPCTransport talks to the /jsonrpc endpoint.
type JSONRPCTransport struct {
	endpoint   string
	httpClient *http.Client
	nextID     atomic.Int64
}

// NewJSONRPCTransport creates a transport for baseURL.
func NewJSONRPCTransport(baseURL string, httpClient *http.Client) *JSONRPCTransport {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &JSONRPCTransport{
		endpoint:   strings.TrimRight(baseURL, "/") + "/jsonrpc",
		httpClient: httpClient,
	}
}

type jsonRPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  jsonRPCParams `json:"params"`
	ID      int64         `json:"id"`
}

type jsonRPCParams struct {
	Service string `json:"service"`
	Method  string `json:"method"`
	Args    []any  `json:"args"`
}

type jsonRPCResponse struct {
	Result any           `json:"result"`
	Error  *jsonRPCError `json:"error"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"data"`
}

// Call implements Transport.
func (t *JSONRPCTransport) Call(ctx context.Context, service, method string, args []any) (any, error) {
	if args == nil {
		args = []any{}
	}
	body, err := json.Marshal(jsonRPCRequest{
		JSONRPC: "2.0",
		Method:  "call",
		Params:  jsonRPCParams{Service: service, Method: method, Args: args},
		ID:      t.nextID.Add(1),
	})
	if err != nil {
		return nil, fmt.Errorf("jsonrpc: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("jsonrpc: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jsonrpc %s.%s: %w", service, method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("jsonrpc %s.%s: unexpected status %d: %s", service, method, resp.StatusCode, bytes.TrimSpace(snippet))
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var out jsonRPCResponse
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("jsonrpc %s.%s: decode response: %w", service, method, err)
	}
	if out.Error != nil {
		return nil, out.Error.fault()
	}
	return out.Result, nil
}

// fault flattens the error so the server exception name stays searchable.
func (e *jsonRPCError) fault() *Fault {
	msg := e.Message
	if e.Data.Name != "" || e.Data.Message != "" {
		msg = strings.TrimSpace(e.Data.Name + ": " + e.Data.Message)
	}
	return &Fault{Code: e.Code, Message: msg}
}
