package asrclient

import "encoding/json"

// extractJSONTextField pulls the "text" field out of an ASR JSON response
// body, per §4.10's OpenAI-style transcription contract.
func extractJSONTextField(raw []byte) (string, bool, error) {
	var value map[string]any
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", false, err
	}
	text, ok := value["text"].(string)
	return text, ok, nil
}
