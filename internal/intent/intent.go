package intent

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"athena/internal/action"
)

// ErrMalformed means the model broke the output contract. It is not the same as
// the model judging a command unclear.
var ErrMalformed = errors.New("intent: malformed model response")

type Intent struct {
	Action action.ID         `json:"action"`
	Params map[string]string `json:"params"`
}

type Kind uint8

const (
	KindResolved Kind = iota
	KindUnclear
	KindUnsupported
)

func (k Kind) String() string {
	switch k {
	case KindResolved:
		return "resolved"
	case KindUnclear:
		return "unclear"
	case KindUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

type Result struct {
	Intent Intent
	Kind   Kind
	Spec   action.Spec
}

// Dispatchable reports whether the result names a registered action.
func (r Result) Dispatchable() bool { return r.Kind == KindResolved }

// Parse decodes one model response against the registry. Only an object with an
// "action" string and an optional "params" object of strings is accepted.
func Parse(raw string, reg *action.Registry) (Result, error) {
	in, err := decode(raw)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	res := Result{Intent: in}
	switch spec, ok := reg.Lookup(in.Action); {
	case in.Action == action.Unclear:
		res.Kind = KindUnclear
	case !ok:
		res.Kind = KindUnsupported
	default:
		res.Kind = KindResolved
		res.Spec = spec
	}
	return res, nil
}

func decode(raw string) (Intent, error) {
	dec := json.NewDecoder(strings.NewReader(strings.TrimSpace(raw)))

	var fields map[string]json.RawMessage
	if err := dec.Decode(&fields); err != nil {
		return Intent{}, err
	}
	if fields == nil {
		return Intent{}, errors.New("not an object")
	}
	if _, err := dec.Token(); err != io.EOF {
		return Intent{}, errors.New("trailing data after object")
	}

	for k := range fields {
		if k != "action" && k != "params" {
			return Intent{}, fmt.Errorf("unexpected key %q", k)
		}
	}

	rawAction, ok := fields["action"]
	if !ok || bytes.Equal(bytes.TrimSpace(rawAction), []byte("null")) {
		return Intent{}, errors.New("missing action")
	}
	var name string
	if err := json.Unmarshal(rawAction, &name); err != nil {
		return Intent{}, fmt.Errorf("action: %w", err)
	}

	params := map[string]string{}
	if p, ok := fields["params"]; ok && !bytes.Equal(bytes.TrimSpace(p), []byte("null")) {
		if err := json.Unmarshal(p, &params); err != nil {
			return Intent{}, fmt.Errorf("params: %w", err)
		}
		if params == nil {
			params = map[string]string{}
		}
	}

	return Intent{
		Action: action.ID(name),
		Params: params,
	}, nil
}

// Encode renders an intent in the wire schema the model is asked to produce.
func Encode(in Intent) ([]byte, error) {
	if in.Params == nil {
		in.Params = map[string]string{}
	}
	return json.Marshal(in)
}
