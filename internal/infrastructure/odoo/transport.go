package odoo

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Service names exposed by the server.
const (
	ServiceCommon = "common"
	ServiceObject = "object"
)

// Protocols supported by NewTransport.
const (
	ProtocolXMLRPC  = "xmlrpc"
	ProtocolJSONRPC = "jsonrpc"
)

// Transport performs a single RPC against a service. Implementations return a
// *Fault for server-side exceptions and any other error for transport failures.
type Transport interface {
	Call(ctx context.Context, service, method string, args []any) (any, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, service, method string, args []any) (any, error)

// Call implements Transport.
func (f TransportFunc) Call(ctx context.Context, service, method string, args []any) (any, error) {
	return f(ctx, service, method, args)
}

// NewTransport builds the transport for protocol against baseURL.
func NewTransport(protocol, baseURL string, timeout time.Duration) (Transport, error) {
	httpClient := &http.Client{Timeout: timeout}
	switch protocol {
	case "", ProtocolXMLRPC:
		return NewXMLRPCTransport(baseURL, httpClient)
	case ProtocolJSONRPC:
		return NewJSONRPCTransport(baseURL, httpClient), nil
	default:
		return nil, fmt.Errorf("unsupported rpc protocol %q", protocol)
	}
}
