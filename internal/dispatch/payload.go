package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"sort"
	"strings"

	"github.com/neboloop/browserd/internal/browser"
)

// Payload carries every parameter a command may take. Which fields a
// command accepts is declared by its route.
type Payload struct {
	URL        string `json:"url,omitempty"`
	Browser    string `json:"browser,omitempty"`
	Headless   *bool  `json:"headless,omitempty"`
	RawOptions string `json:"rawOptions,omitempty"`
	Index      *int   `json:"index,omitempty"`
}

const (
	fieldURL        = "url"
	fieldBrowser    = "browser"
	fieldHeadless   = "headless"
	fieldRawOptions = "rawOptions"
	fieldIndex      = "index"
)

// decodePayload decodes raw for a command accepting only allowed keys. Empty
// input and "null" decode to the zero payload.
func decodePayload(raw []byte, allowed []string) (Payload, error) {
	var p Payload
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return p, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return p, fmt.Errorf("%w: payload must be a JSON object: %v", browser.ErrMalformedPayload, err)
	}
	var unknown []string
	for k := range fields {
		if !slices.Contains(allowed, k) {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return p, fmt.Errorf("%w: unknown field(s) %s", browser.ErrMalformedPayload, strings.Join(unknown, ", "))
	}
	if err := browser.CheckKeys(raw, &p); err != nil {
		return p, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", browser.ErrMalformedPayload, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return Payload{}, fmt.Errorf("%w: trailing data after payload", browser.ErrMalformedPayload)
	}
	return p, nil
}

// Marshal encodes p for the journal and the client side of transports.
func (p Payload) Marshal() json.RawMessage {
	b, err := json.Marshal(p)
	if err != nil || string(b) == "{}" {
		return nil
	}
	return b
}
