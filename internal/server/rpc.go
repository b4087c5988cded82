package server

import (
	"encoding/json"
	"net/http"

	apperr "github.com/copyleftdev/optbench/internal/errors"
)

// JSON-RPC 2.0 error codes.
const (
	rpcParseError     = -32700
	rpcInvalidRequest = -32600
	rpcMethodNotFound = -32601
	rpcInvalidParams  = -32602
	rpcServerError    = -32000
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type rpcResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *rpcError   `json:"error,omitempty"`
}

// rpcCall decodes params into a fresh value and runs fn on it.
func rpcCall[P any, R any](params json.RawMessage, fn func(P) (R, error)) (interface{}, error) {
	var p P
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, apperr.Wrap(err, apperr.InvalidArgument, "params")
		}
	}
	return fn(p)
}

// handleJSONRPC handles JSON-RPC 2.0 requests. Params are a single object.
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var request rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.respondWithError(w, rpcParseError, "Parse error", nil, nil)
		return
	}

	if request.JSONRPC != "2.0" {
		s.respondWithError(w, rpcInvalidRequest, "Invalid Request", request.ID, nil)
		return
	}

	var (
		result interface{}
		err    error
	)
	switch request.Method {
	case "job.start":
		result, err = rpcCall(request.Params, s.startJob)
	case "job.status":
		result, err = rpcCall(request.Params, s.jobStatus)
	case "job.cancel":
		result, err = rpcCall(request.Params, s.cancelJob)
	case "doe.generate":
		result, err = rpcCall(request.Params, s.generateDOE)
	case "surrogate.fit":
		result, err = rpcCall(request.Params, s.fitSurrogate)
	default:
		s.respondWithError(w, rpcMethodNotFound, "Method not found", request.ID, nil)
		return
	}

	if err != nil {
		code := rpcServerError
		if apperr.HTTPStatus(apperr.KindOf(err)) == http.StatusBadRequest {
			code = rpcInvalidParams
		}
		s.respondWithError(w, code, apperr.MessageOf(err), request.ID, map[string]string{
			"kind": apperr.KindOf(err).String(),
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", ID: request.ID, Result: result}); err != nil {
		s.logger.Error("Failed to encode response", map[string]interface{}{"error": err.Error()})
	}
}

// respondWithError sends a JSON-RPC 2.0 error response
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string, id interface{}, data interface{}) {
	s.logger.Warn("RPC error", map[string]interface{}{
		"code":    code,
		"message": message,
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(rpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &rpcError{Code: code, Message: message, Data: data},
	})
}
