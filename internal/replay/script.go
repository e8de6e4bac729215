// Package replay serves recorded progress streams and canned REST results so
// the CLI can be exercised without a backend.
//
// A replay server only plays back what its script says. It performs no
// parsing, settlement or any other job work.
package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"
)

// Stream kinds a script may define; they match the progress endpoints.
const (
	KindUpload     = "upload"
	KindSettlement = "settlement"
	KindOpenNew    = "open-new"
)

// Actions whose REST result a script may define.
var actions = map[string]bool{
	KindUpload:     true,
	KindSettlement: true,
	KindOpenNew:    true,
	"reconcile":    true,
}

// Script is a replay scenario.
//
// Example:
//
//	delay: 200ms
//	rest_delay: 1s
//	streams:
//	  settlement:
//	    frames:
//	      - {type: step_start, step: lookup}
//	      - {type: step_complete, step: lookup}
//	      - {type: complete, data: {rows_updated: 4}}
//	results:
//	  settlement: {rows_updated: 4}
//	failures:
//	  open-new: {status: 502, detail: Lookup service unavailable}
type Script struct {
	// Delay is the default pause between frames.
	Delay time.Duration `yaml:"delay"`

	// RESTDelay holds every action response back, so streams can run first.
	RESTDelay time.Duration `yaml:"rest_delay"`

	// Streams maps a stream kind to its frames.
	Streams map[string]Stream `yaml:"streams"`

	// Results maps an action to its JSON result object.
	Results map[string]any `yaml:"results"`

	// Failures maps an action to an error response.
	Failures map[string]Failure `yaml:"failures"`

	// Download is the body served by the download endpoint.
	Download string `yaml:"download"`
}

// Stream is one scripted progress stream.
type Stream struct {
	// Delay overrides the script's delay for this stream.
	Delay *time.Duration `yaml:"delay"`

	// Frames are sent in order, one SSE event each.
	Frames []map[string]any `yaml:"frames"`

	// Hold keeps the connection open with keep-alive comments after the
	// last frame, as a live backend does until the client disconnects.
	Hold bool `yaml:"hold"`
}

// Failure is a scripted error response.
type Failure struct {
	Status int    `yaml:"status"`
	Detail string `yaml:"detail"`
}

// Load reads a script file.
func Load(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read replay script: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a script.
//
// Parameters:
//   - data: YAML document
//
// Returns:
//   - *Script: The validated script
//   - error: Unknown stream kinds or actions, frames without a type, or
//     failures without a 4xx/5xx status
func Parse(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse replay script: %w", err)
	}
	if s.Delay < 0 || s.RESTDelay < 0 {
		return nil, fmt.Errorf("delays must not be negative")
	}
	for kind, st := range s.Streams {
		if kind != KindUpload && kind != KindSettlement && kind != KindOpenNew {
			return nil, fmt.Errorf("unknown stream %q (supported: upload, settlement, open-new)", kind)
		}
		for i := range st.Frames {
			frame, err := st.frame(i)
			if err != nil {
				return nil, fmt.Errorf("stream %s frame %d: %w", kind, i, err)
			}
			if t := gjson.GetBytes(frame, "type"); t.Type != gjson.String || t.Str == "" {
				return nil, fmt.Errorf("stream %s frame %d: missing type", kind, i)
			}
		}
	}
	for action := range s.Results {
		if !actions[action] {
			return nil, fmt.Errorf("unknown action %q in results", action)
		}
	}
	for action, f := range s.Failures {
		if !actions[action] {
			return nil, fmt.Errorf("unknown action %q in failures", action)
		}
		if f.Status < 400 || f.Status > 599 {
			return nil, fmt.Errorf("failure of %s: status %d is not an error status", action, f.Status)
		}
	}
	return &s, nil
}

// frame returns frame i as JSON.
func (st Stream) frame(i int) ([]byte, error) {
	return json.Marshal(st.Frames[i])
}

// delay returns the pause between frames of this stream.
func (st Stream) delay(def time.Duration) time.Duration {
	if st.Delay != nil {
		return *st.Delay
	}
	return def
}

// result returns the JSON result of an action, "{}" when unscripted.
func (s *Script) result(action string) []byte {
	if v, ok := s.Results[action]; ok && v != nil {
		if b, err := json.Marshal(v); err == nil {
			return b
		}
	}
	return []byte(`{}`)
}
