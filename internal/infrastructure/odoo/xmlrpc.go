package odoo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/rpc"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/kolo/xmlrpc"
)

// XMLRPCTransport talks to the /xmlrpc/2/<service> endpoints.
type XMLRPCTransport struct {
	baseURL    string
	httpClient *http.Client

	mu      sync.Mutex
	clients map[string]*xmlrpc.Client
}

// NewXMLRPCTransport creates a transport for baseURL. The URL is validated
// lazily per service endpoint.
func NewXMLRPCTransport(baseURL string, httpClient *http.Client) (*XMLRPCTransport, error) {
	if baseURL == "" {
		return nil, errors.New("xmlrpc: base url is required")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &XMLRPCTransport{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		clients:    make(map[string]*xmlrpc.Client),
	}, nil
}

func (t *XMLRPCTransport) client(service string) (*xmlrpc.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if c, ok := t.clients[service]; ok {
		return c, nil
	}
	rt := t.httpClient.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	c, err := xmlrpc.NewClient(fmt.Sprintf("%s/xmlrpc/2/%s", t.baseURL, service), rt)
	if err != nil {
		return nil, fmt.Errorf("xmlrpc: create %s client: %w", service, err)
	}
	t.clients[service] = c
	return c, nil
}

// Call implements Transport. The underlying client has no context support, so
// cancellation abandons the in-flight call.
func (t *XMLRPCTransport) Call(ctx context.Context, service, method string, args []any) (any, error) {
	c, err := t.client(service)
	if err != nil {
		return nil, err
	}
	if t.httpClient.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.httpClient.Timeout)
		defer cancel()
	}

	var reply any
	call := c.Go(method, args, &reply, make(chan *rpc.Call, 1))
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case done := <-call.Done:
		if done.Error == nil {
			return reply, nil
		}
		if fault := asFault(done.Error); fault != nil {
			return nil, fault
		}
		// net/rpc clients shut down after codec errors; rebuild on next call
		t.drop(service, c)
		return nil, fmt.Errorf("xmlrpc %s.%s: %w", service, method, done.Error)
	}
}

func (t *XMLRPCTransport) drop(service string, c *xmlrpc.Client) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.clients[service] == c {
		delete(t.clients, service)
		_ = c.Close()
	}
}

var faultPattern = regexp.MustCompile(`(?s)^Fault\((-?\d+)\): (.*)$`)

// asFault recovers the server fault from either the codec's FaultError or the
// string form net/rpc reports it as.
func asFault(err error) *Fault {
	var fault xmlrpc.FaultError
	if errors.As(err, &fault) {
		return &Fault{Code: fault.Code, Message: fault.String}
	}
	var serverErr rpc.ServerError
	if errors.As(err, &serverErr) {
		if m := faultPattern.FindStringSubmatch(string(serverErr)); m != nil {
			code, _ := strconv.Atoi(m[1])
			return &Fault{Code: code, Message: m[2]}
		}
	}
	return nil
}

// Close releases the per-service clients.
func (t *XMLRPCTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var errs []error
	for service, c := range t.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(t.clients, service)
	}
	return errors.Join(errs...)
}
