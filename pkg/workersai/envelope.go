package workersai

import (
	"strings"

	"github.com/tidwall/gjson"
)

// The backend answers in more than one envelope shape depending on model and
// API surface. Extraction is an ordered list of strategies tried in sequence,
// first non-empty match wins.
type extractStrategy struct {
	name string
	path string
}

var chatTextStrategies = []extractStrategy{
	{name: "workers_ai_result", path: "result.response"},
	{name: "flat_response", path: "response"},
	{name: "openai_choices", path: "choices.0.message.content"},
}

var imageStrategies = []extractStrategy{
	{name: "workers_ai_result", path: "result.image"},
	{name: "flat_image", path: "image"},
}

func extractByStrategies(body []byte, strategies []extractStrategy) (text, strategy string, ok bool) {
	for _, s := range strategies {
		v := gjson.GetBytes(body, s.path)
		if !v.Exists() {
			continue
		}
		// A present-but-blank field is still a match: the backend answered,
		// it just had nothing to say. Callers decide what empty means.
		return strings.TrimSpace(v.String()), s.name, true
	}
	return "", "", false
}

func extractChatText(body []byte) (string, string, bool) {
	return extractByStrategies(body, chatTextStrategies)
}

func extractImageBase64(body []byte) (string, string, bool) {
	return extractByStrategies(body, imageStrategies)
}
