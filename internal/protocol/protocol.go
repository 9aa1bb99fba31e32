// Copyright (c) 2025 FGP
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package protocol implements the FGP wire format: one JSON envelope
// per logical message, newline-terminated, over a Unix domain stream
// socket. Requests and responses are correlated only by their id; the
// daemon is free to answer requests from one client connection out of
// order.
package protocol

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"strings"

	"fgp/postgres/internal/errors"
)

// Version is the protocol version this daemon speaks.
const Version = 1

// Request is a decoded request envelope.
type Request struct {
	ID     string          `json:"id"`
	V      int             `json:"v"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is a response envelope. Exactly one of Result and Error is
// set, matching OK.
type Response struct {
	ID     string     `json:"id"`
	OK     bool       `json:"ok"`
	Result any        `json:"result,omitempty"`
	Error  *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo carries a machine-readable code plus a human-readable
// message. Index is only present on transaction failures and names the
// statement that triggered the rollback.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Index   *int   `json:"index,omitempty"`
}

// Domain and Op split a method name like "postgres.query". Methods
// without a dot belong to the empty domain.
func SplitMethod(method string) (domain, op string) {
	if i := strings.IndexByte(method, '.'); i >= 0 {
		return method[:i], method[i+1:]
	}
	return "", method
}

// DecodeRequest parses one envelope line. Malformed input yields a
// ProtocolError; the returned request still carries any id that could
// be salvaged so the error response can be correlated.
func DecodeRequest(line []byte) (*Request, error) {
	line = bytes.TrimSpace(line)

	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		// Best-effort id recovery for the error response.
		var partial struct {
			ID string `json:"id"`
		}
		_ = json.Unmarshal(line, &partial)
		req.ID = partial.ID
		return &req, errors.Wrap(errors.ProtocolError, "malformed request envelope", err)
	}

	if req.Method == "" {
		return &req, errors.New(errors.ProtocolError, "missing method")
	}
	if req.V != Version {
		return &req, errors.Newf(errors.ProtocolError, "unsupported protocol version %d", req.V)
	}

	return &req, nil
}

// OK builds a success response for a request id.
func OK(id string, result any) *Response {
	return &Response{ID: id, OK: true, Result: result}
}

// Fail converts an error into a failure response, mapping the error
// kind to the wire code and surfacing a statement index when the error
// chain carries one.
func Fail(id string, err error) *Response {
	info := &ErrorInfo{
		Code:    string(errors.KindOf(err)),
		Message: errors.MessageOf(err),
	}

	var si interface{ StatementIndex() int }
	if stderrors.As(err, &si) {
		idx := si.StatementIndex()
		info.Index = &idx
	}

	return &Response{ID: id, OK: false, Error: info}
}

// Encode marshals a response envelope and appends the line terminator.
func Encode(resp *Response) ([]byte, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// EncodeRequest marshals a request envelope and appends the line
// terminator. Used by the daemon client.
func EncodeRequest(req *Request) ([]byte, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
