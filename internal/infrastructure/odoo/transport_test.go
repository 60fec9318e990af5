package odoo

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONRPCTransport_Call(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = io.WriteString(w, `{"jsonrpc":"2.0","id":1,"result":[3,4]}`)
	}))
	defer srv.Close()

	tr := NewJSONRPCTransport(srv.URL+"/", srv.Client())
	res, err := tr.Call(context.Background(), ServiceObject, "execute_kw", []any{"db", 2, "pw", "res.partner", "search", []any{}})
	require.NoError(t, err)

	assert.Equal(t, "/jsonrpc", gotPath)
	assert.Equal(t, "call", gotBody["method"])
	params := gotBody["params"].(map[string]any)
	assert.Equal(t, "object", params["service"])
	assert.Equal(t, "execute_kw", params["method"])
	assert.Equal(t, []int64{3, 4}, AsIDs(res))
}

func TestJSONRPCTransport_Fault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"jsonrpc":"2.0","id":1,"error":{"code":200,"message":"Odoo Server Error","data":{"name":"odoo.exceptions.AccessDenied","message":"Access Denied"}}}`)
	}))
	defer srv.Close()

	_, err := NewJSONRPCTransport(srv.URL, srv.Client()).Call(context.Background(), ServiceCommon, "authenticate", nil)

	var fault *Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, 200, fault.Code)
	assert.Equal(t, "odoo.exceptions.AccessDenied: Access Denied", fault.Message)
	assert.True(t, isAuthRejection(err))
	assert.False(t, IsRetryable(err))
}

func TestJSONRPCTransport_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewJSONRPCTransport(srv.URL, srv.Client()).Call(context.Background(), ServiceCommon, "version", nil)
	require.Error(t, err)

	var fault *Fault
	assert.False(t, errors.As(err, &fault))
	assert.True(t, IsRetryable(err))
	assert.Contains(t, err.Error(), "502")
}

const xmlrpcIntResponse = `<?xml version="1.0"?>
<methodResponse><params><param><value><int>7</int></value></param></params></methodResponse>`

const xmlrpcFaultResponse = `<?xml version="1.0"?>
<methodResponse><fault><value><struct>
<member><name>faultCode</name><value><int>3</int></value></member>
<member><name>faultString</name><value><string>Access Denied</string></value></member>
</struct></value></fault></methodResponse>`

func TestXMLRPCTransport_Call(t *testing.T) {
	var gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Header().Set("Content-Type", "text/xml")
		_, _ = io.WriteString(w, xmlrpcIntResponse)
	}))
	defer srv.Close()

	tr, err := NewXMLRPCTransport(srv.URL, srv.Client())
	require.NoError(t, err)
	defer tr.Close()

	res, err := tr.Call(context.Background(), ServiceCommon, "authenticate", []any{"db", "admin", "pw", map[string]any{}})
	require.NoError(t, err)

	assert.Equal(t, "/xmlrpc/2/common", gotPath)
	assert.Contains(t, gotBody, "<methodName>authenticate</methodName>")
	assert.Equal(t, int64(7), AsInt(res))
}

func TestXMLRPCTransport_Fault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/xml")
		_, _ = io.WriteString(w, xmlrpcFaultResponse)
	}))
	defer srv.Close()

	tr, err := NewXMLRPCTransport(srv.URL, srv.Client())
	require.NoError(t, err)
	defer tr.Close()

	_, err = tr.Call(context.Background(), ServiceCommon, "authenticate", []any{"db", "admin", "bad", map[string]any{}})

	var fault *Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, 3, fault.Code)
	assert.True(t, strings.Contains(fault.Message, "Access Denied"))
}

func TestNewTransport(t *testing.T) {
	tr, err := NewTransport("", "http://erp.local", time.Second)
	require.NoError(t, err)
	assert.IsType(t, &XMLRPCTransport{}, tr)

	tr, err = NewTransport(ProtocolJSONRPC, "http://erp.local", time.Second)
	require.NoError(t, err)
	assert.IsType(t, &JSONRPCTransport{}, tr)

	_, err = NewTransport("grpc", "http://erp.local", time.Second)
	assert.Error(t, err)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.True(t, IsRetryable(errors.New("connection refused")))
	assert.True(t, IsRetryable(&Fault{Message: "psycopg2.OperationalError: could not serialize access"}))
	assert.False(t, IsRetryable(&Fault{Message: "odoo.exceptions.RecordError"}))
	assert.False(t, IsRetryable(&Fault{Message: "odoo.exceptions.AccessDenied: Access Denied"}))
	for _, name := range []string{"UserError", "ValidationError", "AccessError", "MissingError"} {
		assert.True(t, IsRetryable(&Fault{Message: "odoo.exceptions." + name + ": nope"}), name)
	}
}
