package kernel

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Task types understood by the kernel.
const (
	TaskGenerateCommand = "generate_command"
	TaskExtendCommand   = "extend_command"
	TaskSwitchContext   = "switch_context"
	TaskGetPrompt       = "get_prompt"
	TaskUpdateEnv       = "update_env"
	TaskGetEnv          = "get_env"
)

// DefaultContextID is used by command tasks that name no context.
const DefaultContextID = "default"

// invalidResponse replaces any response that could not be serialized.
var invalidResponse = []byte(`{"error":"Invalid JSON response from kernel"}` + "\n")

// Request is one newline-delimited JSON message from a client.
type Request struct {
	Type            string            `json:"type"`
	Command         string            `json:"command,omitempty"`
	Args            []string          `json:"args,omitempty"`
	ContextID       string            `json:"context_id,omitempty"`
	ForceRegenerate bool              `json:"force_regenerate,omitempty"`
	EnvUpdates      map[string]string `json:"env_updates,omitempty"`
	// Source is the artifact body an extend_command request asks to extend.
	Source string `json:"source,omitempty"`
}

// Response is one newline-delimited JSON reply. Exactly one of Result and
// Error is set.
type Response struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	Code   Code            `json:"code,omitempty"`
}

// DecodeRequest parses one request line.
func DecodeRequest(line []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return Request{}, Errorf(CodeMalformedRequest, "invalid JSON in request: %v", err)
	}
	if strings.TrimSpace(req.Type) == "" {
		return Request{}, Errorf(CodeMalformedRequest, "missing task type")
	}
	return req, nil
}

// EncodeResponse renders a task outcome as one newline-terminated line. It
// never returns unparseable output.
func EncodeResponse(result any, err error) []byte {
	var resp Response
	if err != nil {
		ke := asError(err)
		resp.Error = ke.Error()
		resp.Code = ke.Code
	} else {
		raw, merr := json.Marshal(result)
		if merr != nil {
			return invalidResponse
		}
		resp.Result = raw
	}
	line, merr := json.Marshal(resp)
	if merr != nil {
		return invalidResponse
	}
	return append(line, '\n')
}

// DecodeResponse parses a response line, returning the raw result or the
// typed error it carries.
func DecodeResponse(line []byte) (json.RawMessage, error) {
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("invalid response from kernel: %w", err)
	}
	if resp.Error != "" {
		code := resp.Code
		msg := resp.Error
		if code == "" {
			// Untyped errors come from the serialization fallback.
			return nil, &Error{Code: CodeMalformedRequest, Message: msg}
		}
		msg = strings.TrimPrefix(msg, string(code)+": ")
		return nil, &Error{Code: code, Message: msg}
	}
	if resp.Result == nil {
		return nil, fmt.Errorf("response carries neither result nor error")
	}
	return resp.Result, nil
}
