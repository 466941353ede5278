package authapi

import (
	"bytes"
	"encoding/json"
	"strings"
)

type errorBody struct {
	Error string `json:"error"`
}

// errorMessage extracts the server's {"error": "..."} text, if any.
func errorMessage(raw []byte) (string, bool) {
	var eb errorBody
	if err := json.Unmarshal(raw, &eb); err != nil {
		return "", false
	}
	msg := strings.TrimSpace(eb.Error)
	return msg, msg != ""
}

func encodeBody(body any) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	if raw, ok := body.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(body)
}

func isEmptyBody(raw []byte) bool {
	return len(bytes.TrimSpace(raw)) == 0
}
