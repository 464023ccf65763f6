// Package emrtest provides an in-process fake of the EMR control plane for
// tests. It accepts both V4 (JSON body, X-Amz-Target header) and V2
// (form-encoded) requests and answers with scripted responses.
package emrtest

import (
	"encoding/json"
	"encoding/xml"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/mux"
)

// Request is one request received by the fake
type Request struct {
	Operation string
	Header    http.Header
	Body      []byte
	// JSON is the decoded body of a V4 request
	JSON map[string]any
	// Form is the decoded body of a V2 request
	Form url.Values
}

// Signed reports which signing scheme the request used
func (r *Request) Signed() string {
	if r.Form != nil {
		return "v2"
	}
	return "v4"
}

// Response is a scripted answer. A non-empty ErrType renders an error document.
type Response struct {
	Status  int
	Body    any
	ErrType string
	Message string
}

// OK answers 200 with body encoded as JSON
func OK(body any) Response {
	return Response{Status: http.StatusOK, Body: body}
}

// Error answers status with an error document of the given type
func Error(status int, errType, message string) Response {
	return Response{Status: status, ErrType: errType, Message: message}
}

// HandlerFunc scripts the response to one operation
type HandlerFunc func(req *Request) Response

// Server is a fake control plane backed by httptest
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	handlers map[string]HandlerFunc
	requests []*Request
}

// NewServer starts a fake control plane. Callers must Close it.
func NewServer() *Server {
	s := &Server{handlers: make(map[string]HandlerFunc)}

	router := mux.NewRouter()
	router.Methods(http.MethodPost).Path("/").
		HeadersRegexp("X-Amz-Target", `^ElasticMapReduce\.\w+$`).
		HandlerFunc(s.serveV4)
	router.Methods(http.MethodPost).Path("/").HandlerFunc(s.serveV2)

	s.Server = httptest.NewServer(router)
	return s
}

// Host is the host:port to point a session at
func (s *Server) Host() string {
	return strings.TrimPrefix(s.URL, "http://")
}

// Handle registers the handler for an operation, replacing any previous one
func (s *Server) Handle(operation string, h HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[operation] = h
}

// Respond always answers operation with body
func (s *Server) Respond(operation string, body any) {
	s.Handle(operation, func(*Request) Response { return OK(body) })
}

// Sequence answers successive calls with successive responses, repeating the last
func (s *Server) Sequence(operation string, responses ...Response) {
	var (
		mu   sync.Mutex
		next int
	)
	s.Handle(operation, func(*Request) Response {
		mu.Lock()
		defer mu.Unlock()
		resp := responses[next]
		if next < len(responses)-1 {
			next++
		}
		return resp
	})
}

// Requests returns every request received so far
func (s *Server) Requests() []*Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Request(nil), s.requests...)
}

// RequestsFor returns the received requests for one operation
func (s *Server) RequestsFor(operation string) []*Request {
	var out []*Request
	for _, r := range s.Requests() {
		if r.Operation == operation {
			out = append(out, r)
		}
	}
	return out
}

func (s *Server) serveV4(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	req := &Request{
		Operation: strings.TrimPrefix(r.Header.Get("X-Amz-Target"), "ElasticMapReduce."),
		Header:    r.Header.Clone(),
		Body:      body,
	}
	if err := json.Unmarshal(body, &req.JSON); err != nil {
		writeJSONError(w, http.StatusBadRequest, "SerializationException", err.Error())
		return
	}

	resp := s.dispatch(req)
	if resp.ErrType != "" {
		writeJSONError(w, resp.Status, resp.ErrType, resp.Message)
		return
	}
	writeJSON(w, resp.Status, resp.Body)
}

func (s *Server) serveV2(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	form, err := url.ParseQuery(string(body))
	if err != nil {
		writeXMLError(w, http.StatusBadRequest, "MalformedQueryString", err.Error())
		return
	}

	req := &Request{
		Operation: form.Get("Operation"),
		Header:    r.Header.Clone(),
		Body:      body,
		Form:      form,
	}

	resp := s.dispatch(req)
	if resp.ErrType != "" {
		writeXMLError(w, resp.Status, resp.ErrType, resp.Message)
		return
	}
	writeJSON(w, resp.Status, resp.Body)
}

func (s *Server) dispatch(req *Request) Response {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	h, ok := s.handlers[req.Operation]
	s.mu.Unlock()

	if !ok {
		return Error(http.StatusBadRequest, "InvalidAction", "no handler for "+req.Operation)
	}
	return h(req)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/x-amz-json-1.1")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

func writeJSONError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, map[string]string{
		"__type":  "com.amazonaws.elasticmapreduce#" + errType,
		"message": message,
	})
}

type xmlError struct {
	XMLName xml.Name `xml:"ErrorResponse"`
	Error   struct {
		Type    string `xml:"Type"`
		Code    string `xml:"Code"`
		Message string `xml:"Message"`
	} `xml:"Error"`
	RequestID string `xml:"RequestId"`
}

func writeXMLError(w http.ResponseWriter, status int, errType, message string) {
	doc := xmlError{RequestID: "00000000-0000-0000-0000-000000000000"}
	doc.Error.Type = "Sender"
	doc.Error.Code = errType
	doc.Error.Message = message

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(status)
	xml.NewEncoder(w).Encode(doc)
}
