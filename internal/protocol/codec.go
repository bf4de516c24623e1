package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// EncodeRequest serializes a Request to JSON and writes it to w.
// A missing event is encoded as JSON null.
func EncodeRequest(w io.Writer, req *Request) error {
	if req == nil {
		return fmt.Errorf("request is nil")
	}
	out := *req
	if len(bytes.TrimSpace(out.Event)) == 0 {
		out.Event = json.RawMessage("null")
	} else if !json.Valid(out.Event) {
		return fmt.Errorf("event is not valid JSON")
	}

	encoder := json.NewEncoder(w)
	if err := encoder.Encode(&out); err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	return nil
}

// DecodeRequest reads a Request back from r, the way a worker parses the input file.
func DecodeRequest(r io.Reader) (*Request, error) {
	var req Request
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, fmt.Errorf("failed to decode request: %w", err)
	}
	return &req, nil
}

// CompactJSON returns raw with insignificant whitespace removed.
// Invalid input is returned unchanged.
func CompactJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "null"
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

// PrettyJSON returns raw indented for human reading.
// Invalid input is returned unchanged.
func PrettyJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "null"
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
