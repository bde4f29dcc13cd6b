package proxy

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/nulpointcorp/llm-router/internal/providers"
)

// deploymentsSegment marks the Azure-style path form
// /deployments/{model}/chat/completions.
const deploymentsSegment = "deployments"

// requestError is a caller mistake detected before any upstream call.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func malformed(format string, args ...any) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

// normalize validates body for op and extracts the routing fields.
//
// The model id comes from the body "model" field and falls back to the path
// segment after "deployments". The body itself is copied, not interpreted:
// only the selected translator looks inside it.
func normalize(op providers.Operation, body []byte, path string) (*providers.NormalizedRequest, error) {
	if len(body) == 0 {
		return nil, malformed("request body is required")
	}
	if !gjson.ValidBytes(body) {
		return nil, malformed("invalid JSON body")
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, malformed("request body must be a JSON object")
	}

	if err := checkShape(op, root); err != nil {
		return nil, err
	}

	modelID := ""
	if m := root.Get("model"); m.Type == gjson.String {
		modelID = m.String()
	}
	if modelID == "" {
		modelID = deploymentFromPath(path)
	}
	if modelID == "" {
		return nil, malformed("field 'model' is required")
	}

	stream := false
	if s := root.Get("stream"); s.Exists() && s.Type != gjson.Null {
		if s.Type != gjson.True && s.Type != gjson.False {
			return nil, malformed("field 'stream' must be a boolean")
		}
		stream = s.Bool()
	}

	// fasthttp reuses the request buffer once the handler returns, and a
	// streamed response outlives the handler.
	payload := make(json.RawMessage, len(body))
	copy(payload, body)

	return &providers.NormalizedRequest{
		Op:      op,
		ModelID: modelID,
		Payload: payload,
		Stream:  stream,
		Path:    path,
	}, nil
}

func checkShape(op providers.Operation, root gjson.Result) error {
	switch op {
	case providers.OpChat:
		msgs := root.Get("messages")
		if !msgs.IsArray() {
			return malformed("field 'messages' must be an array")
		}
		arr := msgs.Array()
		if len(arr) == 0 {
			return malformed("field 'messages' must not be empty")
		}
		for i, m := range arr {
			if !m.IsObject() {
				return malformed("messages[%d] must be an object", i)
			}
			if m.Get("role").Type != gjson.String {
				return malformed("messages[%d].role must be a string", i)
			}
		}

	case providers.OpCompletions:
		p := root.Get("prompt")
		if p.Type != gjson.String && !p.IsArray() {
			return malformed("field 'prompt' must be a string or an array")
		}

	case providers.OpEmbeddings:
		if _, err := parseEmbeddingInput(json.RawMessage(root.Get("input").Raw)); err != nil {
			return malformed("%s", err.Error())
		}
	}
	return nil
}

// parseEmbeddingInput converts the raw JSON "input" field into []string.
// The OpenAI API accepts either a bare string or an array of strings.
func parseEmbeddingInput(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("'input' is required")
	}
	// Try array first.
	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil {
		if len(arr) == 0 {
			return nil, fmt.Errorf("'input' must not be empty")
		}
		return arr, nil
	}
	// Try bare string.
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return nil, fmt.Errorf("'input' must not be empty")
		}
		return []string{s}, nil
	}
	return nil, fmt.Errorf("'input' must be a string or array of strings")
}

// deploymentFromPath returns the segment following "deployments", or "".
func deploymentFromPath(path string) string {
	parts := strings.Split(path, "/")
	for i := 0; i < len(parts)-1; i++ {
		if parts[i] == deploymentsSegment {
			return parts[i+1]
		}
	}
	return ""
}
