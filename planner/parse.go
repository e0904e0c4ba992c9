package planner

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/opscart/k8s-agentic-remediation/log"
	"github.com/opscart/k8s-agentic-remediation/remediation"
)

var (
	errNoJSONArray  = errors.New("no JSON array in response")
	errNoValidSteps = errors.New("no valid steps in response")
)

// stepSchema only gates on the action kind; every other field is decoded
// leniently by decodeStep.
var stepSchema = mustStepSchema()

func mustStepSchema() *gojsonschema.Schema {
	kinds := make([]string, 0, len(remediation.ActionKinds))
	for _, k := range remediation.ActionKinds {
		kinds = append(kinds, string(k))
	}
	schema := map[string]interface{}{
		"type":     "object",
		"required": []string{"action"},
		"properties": map[string]interface{}{
			"action": map[string]interface{}{"type": "string", "enum": kinds},
		},
	}
	s, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
	if err != nil {
		panic(fmt.Sprintf("invalid step schema: %v", err))
	}
	return s
}

// ParsePlan extracts the first JSON array from a free-text reply and keeps,
// in order, every entry whose action is a known kind.
func ParsePlan(text string) (remediation.Plan, error) {
	entries, err := firstJSONArray(text)
	if err != nil {
		return nil, err
	}
	logger := log.WithComponent("planner")
	var plan remediation.Plan
	for i, raw := range entries {
		if err := validateStep(raw); err != nil {
			logger.Warn().Int("entry", i+1).Err(err).Msg("discarding invalid plan step")
			continue
		}
		step, err := decodeStep(raw)
		if err != nil {
			logger.Warn().Int("entry", i+1).Err(err).Msg("discarding undecodable plan step")
			continue
		}
		plan = append(plan, step)
	}
	if len(plan) == 0 {
		return nil, errNoValidSteps
	}
	return plan, nil
}

func validateStep(raw json.RawMessage) error {
	result, err := stepSchema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("step validation failed: %s", strings.Join(msgs, "; "))
	}
	return nil
}

type replyStep struct {
	Action     remediation.ActionKind `json:"action"`
	Details    json.RawMessage        `json:"details"`
	Reasoning  interface{}            `json:"reasoning"`
	Confidence interface{}            `json:"confidence"`
}

// decodeStep turns a schema-valid entry into a Step. Scalar detail values
// are rendered as strings, fields of the wrong shape are dropped and an
// unrecognised confidence becomes low.
func decodeStep(raw json.RawMessage) (remediation.Step, error) {
	var entry replyStep
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&entry); err != nil {
		return remediation.Step{}, err
	}

	details, err := json.Marshal(normalizeDetails(entry.Details))
	if err != nil {
		return remediation.Step{}, err
	}
	action, err := remediation.DecodeAction(entry.Action, details)
	if err != nil {
		return remediation.Step{}, err
	}
	reasoning, _ := scalarString(entry.Reasoning)
	confidence, _ := scalarString(entry.Confidence)
	return remediation.Step{
		Action:        action,
		Justification: reasoning,
		Confidence:    remediation.ParseConfidence(confidence),
	}, nil
}

func normalizeDetails(raw json.RawMessage) map[string]interface{} {
	out := map[string]interface{}{}
	var fields map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if len(raw) == 0 || dec.Decode(&fields) != nil {
		return out
	}
	for key, v := range fields {
		if key == "env_vars" {
			if vars := stringMap(v); len(vars) > 0 {
				out[key] = vars
			}
			continue
		}
		if s, ok := scalarString(v); ok {
			out[key] = s
		}
	}
	return out
}

func stringMap(v interface{}) map[string]string {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := scalarString(v); ok {
			out[k] = s
		}
	}
	return out
}

func scalarString(v interface{}) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case json.Number:
		return x.String(), true
	case bool:
		return fmt.Sprint(x), true
	default:
		return "", false
	}
}

func firstJSONArray(text string) ([]json.RawMessage, error) {
	for i := 0; i < len(text); i++ {
		if text[i] != '[' {
			continue
		}
		var arr []json.RawMessage
		if err := json.NewDecoder(strings.NewReader(text[i:])).Decode(&arr); err == nil {
			return arr, nil
		}
	}
	return nil, errNoJSONArray
}
