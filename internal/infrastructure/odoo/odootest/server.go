// Package odootest provides an in-memory ERP that speaks the odoo.Transport
// protocol, for tests of code built on odoo.Client.
package odootest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/erp/provisioner/internal/infrastructure/odoo"
)

// Handler answers a model method that the store does not implement.
type Handler func(args []any, kwargs map[string]any) (any, error)

// Call is one recorded execute_kw invocation.
type Call struct {
	Model  string
	Method string
	Args   []any
	Kwargs map[string]any
}

type table struct {
	nextID  int64
	records map[int64]map[string]any
}

// Server is an in-memory ERP. The zero value is not usable; use NewServer.
type Server struct {
	mu       sync.Mutex
	uid      any
	authErr  error
	tables   map[string]*table
	handlers map[string]Handler
	failures map[string][]error
	calls    []Call
}

// NewServer creates an empty ERP that authenticates everybody as uid 2.
func NewServer() *Server {
	return &Server{
		uid:      int64(2),
		tables:   make(map[string]*table),
		handlers: make(map[string]Handler),
		failures: make(map[string][]error),
	}
}

// SetAuthResult sets what authenticate returns, e.g. false for bad credentials.
func (s *Server) SetAuthResult(uid any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uid = uid
}

// FailAuth makes authenticate fail with err.
func (s *Server) FailAuth(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authErr = err
}

// Handle registers a handler for model.method.
func (s *Server) Handle(model, method string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[model+"."+method] = h
}

// FailNext queues errors returned by the next calls of model.method, in order.
func (s *Server) FailNext(model, method string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := model + "." + method
	s.failures[key] = append(s.failures[key], errs...)
}

// Seed inserts a record and returns its id.
func (s *Server) Seed(model string, values map[string]any) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(model, values)
}

// Records returns copies of all records of model ordered by id, including
// archived ones.
func (s *Server) Records(model string) []odoo.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tables[model]
	if t == nil {
		return nil
	}
	out := make([]odoo.Record, 0, len(t.records))
	for _, id := range sortedIDs(t) {
		out = append(out, copyRecord(t.records[id]))
	}
	return out
}

// Get returns a copy of one record, or nil.
func (s *Server) Get(model string, id int64) odoo.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t := s.tables[model]; t != nil {
		if rec, ok := t.records[id]; ok {
			return copyRecord(rec)
		}
	}
	return nil
}

// Calls returns the recorded execute_kw calls.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount returns how often model.method was called.
func (s *Server) CallCount(model, method string) int {
	n := 0
	for _, c := range s.Calls() {
		if c.Model == model && c.Method == method {
			n++
		}
	}
	return n
}

// Call implements odoo.Transport.
func (s *Server) Call(ctx context.Context, service, method string, args []any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch service {
	case odoo.ServiceCommon:
		return s.common(method)
	case odoo.ServiceObject:
		if method != "execute_kw" || len(args) < 5 {
			return nil, &odoo.Fault{Code: 1, Message: "unsupported object call " + method}
		}
		model, _ := args[3].(string)
		modelMethod, _ := args[4].(string)
		var callArgs []any
		if len(args) > 5 {
			callArgs, _ = args[5].([]any)
		}
		kwargs := map[string]any{}
		if len(args) > 6 {
			if kw, ok := args[6].(map[string]any); ok {
				kwargs = kw
			}
		}
		return s.execute(model, modelMethod, callArgs, kwargs)
	}
	return nil, &odoo.Fault{Code: 1, Message: "unknown service " + service}
}

func (s *Server) common(method string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch method {
	case "authenticate":
		if s.authErr != nil {
			return nil, s.authErr
		}
		return s.uid, nil
	case "version":
		return map[string]any{"server_version": "16.0"}, nil
	}
	return nil, &odoo.Fault{Code: 1, Message: "unknown common method " + method}
}

func (s *Server) execute(model, method string, args []any, kwargs map[string]any) (any, error) {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Model: model, Method: method, Args: args, Kwargs: kwargs})
	key := model + "." + method
	if queued := s.failures[key]; len(queued) > 0 {
		s.failures[key] = queued[1:]
		s.mu.Unlock()
		return nil, queued[0]
	}
	if h, ok := s.handlers[key]; ok {
		s.mu.Unlock()
		return h(args, kwargs)
	}
	defer s.mu.Unlock()

	switch method {
	case "search":
		recs, err := s.query(model, args, kwargs)
		if err != nil {
			return nil, err
		}
		ids := make([]any, len(recs))
		for i, r := range recs {
			ids[i] = r["id"]
		}
		return ids, nil
	case "search_read":
		recs, err := s.query(model, args, kwargs)
		if err != nil {
			return nil, err
		}
		return project(recs, kwargs["fields"]), nil
	case "search_count":
		kw := map[string]any{}
		recs, err := s.query(model, args, kw)
		if err != nil {
			return nil, err
		}
		return int64(len(recs)), nil
	case "read":
		if len(args) == 0 {
			return nil, &odoo.Fault{Code: 2, Message: "read: missing ids"}
		}
		t := s.table(model)
		var recs []map[string]any
		for _, id := range odoo.AsIDs(args[0]) {
			if rec, ok := t.records[id]; ok {
				recs = append(recs, rec)
			}
		}
		return project(recs, kwargs["fields"]), nil
	case "create":
		if len(args) == 0 {
			return nil, &odoo.Fault{Code: 2, Message: "create: missing values"}
		}
		switch v := args[0].(type) {
		case map[string]any:
			return s.insert(model, v), nil
		case []any:
			ids := make([]any, 0, len(v))
			for _, item := range v {
				vals, ok := item.(map[string]any)
				if !ok {
					return nil, &odoo.Fault{Code: 2, Message: "create: bad values"}
				}
				ids = append(ids, s.insert(model, vals))
			}
			return ids, nil
		}
		return nil, &odoo.Fault{Code: 2, Message: "create: bad values"}
	case "write":
		if len(args) < 2 {
			return nil, &odoo.Fault{Code: 2, Message: "write: missing arguments"}
		}
		vals, _ := args[1].(map[string]any)
		t := s.table(model)
		for _, id := range odoo.AsIDs(args[0]) {
			rec, ok := t.records[id]
			if !ok {
				return nil, &odoo.Fault{Code: 2, Message: fmt.Sprintf("odoo.exceptions.RecordError: %s(%d) does not exist", model, id)}
			}
			for k, v := range vals {
				rec[k] = v
			}
		}
		return true, nil
	case "unlink":
		if len(args) == 0 {
			return nil, &odoo.Fault{Code: 2, Message: "unlink: missing ids"}
		}
		t := s.table(model)
		for _, id := range odoo.AsIDs(args[0]) {
			delete(t.records, id)
		}
		return true, nil
	}
	return nil, &odoo.Fault{Code: 2, Message: fmt.Sprintf("AttributeError: %s has no method %s", model, method)}
}

func (s *Server) table(model string) *table {
	t := s.tables[model]
	if t == nil {
		t = &table{records: make(map[int64]map[string]any)}
		s.tables[model] = t
	}
	return t
}

func (s *Server) insert(model string, values map[string]any) int64 {
	t := s.table(model)
	t.nextID++
	rec := make(map[string]any, len(values)+1)
	for k, v := range values {
		rec[k] = v
	}
	rec["id"] = t.nextID
	t.records[t.nextID] = rec
	return t.nextID
}

func (s *Server) query(model string, args []any, kwargs map[string]any) ([]map[string]any, error) {
	var domain []any
	if len(args) > 0 {
		domain, _ = args[0].([]any)
	}
	expr, err := parseDomain(domain)
	if err != nil {
		return nil, &odoo.Fault{Code: 3, Message: "ValueError: " + err.Error()}
	}
	mentionsActive := domainMentions(domain, "active")

	t := s.table(model)
	var out []map[string]any
	for _, id := range sortedIDs(t) {
		rec := t.records[id]
		if !mentionsActive {
			if active, ok := rec["active"].(bool); ok && !active {
				continue
			}
		}
		if expr.match(rec) {
			out = append(out, rec)
		}
	}

	if order, _ := kwargs["order"].(string); strings.Contains(strings.ToLower(order), "desc") {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	offset := int(odoo.AsInt(kwargs["offset"]))
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit := int(odoo.AsInt(kwargs["limit"])); limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func sortedIDs(t *table) []int64 {
	ids := make([]int64, 0, len(t.records))
	for id := range t.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func project(recs []map[string]any, fieldsArg any) []any {
	var fields []string
	switch f := fieldsArg.(type) {
	case []string:
		fields = f
	case []any:
		for _, item := range f {
			if s, ok := item.(string); ok {
				fields = append(fields, s)
			}
		}
	}
	out := make([]any, 0, len(recs))
	for _, rec := range recs {
		if len(fields) == 0 {
			out = append(out, map[string]any(copyRecord(rec)))
			continue
		}
		row := map[string]any{"id": rec["id"]}
		for _, f := range fields {
			if v, ok := rec[f]; ok {
				row[f] = v
			} else {
				row[f] = false
			}
		}
		out = append(out, row)
	}
	return out
}

func copyRecord(rec map[string]any) odoo.Record {
	out := make(odoo.Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}
