package anthropic

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// modelMapping rewrites OpenAI model families to a fixed Claude model.
// Entries are checked in order and the first substring match wins.
var modelMapping = []struct {
	contains string
	target   string
}{
	{"gpt-4", "claude-3-5-sonnet-20240620"},
	{"gpt-3", "claude-3-haiku-20240307"},
}

// mapModel returns the Anthropic model for an OpenAI model name. Names that
// match no entry are returned unchanged.
func mapModel(name string) string {
	for _, m := range modelMapping {
		if strings.Contains(name, m.contains) {
			return m.target
		}
	}
	return name
}

// transformRequest rewrites an OpenAI chat body into a Messages API body.
//
// Fields it does not know about are kept as-is. System messages are removed
// from "messages" and the last one becomes the top-level "system".
func transformRequest(payload []byte, modelID string, maxTokens int) ([]byte, error) {
	src := gjson.GetBytes(payload, "model").String()
	if src == "" {
		src = modelID
	}

	out, err := sjson.SetBytes(payload, "model", mapModel(src))
	if err != nil {
		return nil, fmt.Errorf("set model: %w", err)
	}

	if msgs := gjson.GetBytes(out, "messages"); msgs.IsArray() {
		var (
			kept   []string
			system gjson.Result
			found  bool
		)
		msgs.ForEach(func(_, m gjson.Result) bool {
			if m.Get("role").String() == "system" {
				system = m.Get("content")
				found = true
				return true
			}
			kept = append(kept, m.Raw)
			return true
		})

		if found {
			out, err = sjson.SetRawBytes(out, "messages", []byte("["+strings.Join(kept, ",")+"]"))
			if err != nil {
				return nil, fmt.Errorf("set messages: %w", err)
			}
			if system.Exists() {
				out, err = sjson.SetRawBytes(out, "system", []byte(system.Raw))
				if err != nil {
					return nil, fmt.Errorf("set system: %w", err)
				}
			}
		}
	}

	if mt := gjson.GetBytes(out, "max_tokens"); !mt.Exists() || mt.Int() == 0 {
		out, err = sjson.SetBytes(out, "max_tokens", maxTokens)
		if err != nil {
			return nil, fmt.Errorf("set max_tokens: %w", err)
		}
	}

	return out, nil
}
