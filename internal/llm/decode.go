package llm

import (
	"encoding/json"
	"strings"

	"github.com/Laisky/errors/v2"
)

// decodeJSON unmarshals the first JSON object in text. Models sometimes wrap
// their output in markdown fences or a sentence of preamble.
func decodeJSON(text string, out any) error {
	s := strings.TrimSpace(text)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return errors.New("no json object in response")
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), out); err != nil {
		return errors.Wrap(err, "decode json")
	}
	return nil
}
