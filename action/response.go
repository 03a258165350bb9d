package action

import (
	"bytes"
	"encoding/json"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/goliatone/go-grants"
)

// Action status values understood in a response.
const (
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
	StatusError   = "ERROR"
)

const (
	DefaultMaxOperations  = 100
	maxPathLength         = 512
	maxStringValueLength  = 4096
	maxArrayValueElements = 128
)

// Response is the body an action returns.
type Response struct {
	ActionStatus       string          `json:"actionStatus"`
	Operations         []WireOperation `json:"operations"`
	FailureReason      string          `json:"failureReason,omitempty"`
	FailureDescription string          `json:"failureDescription,omitempty"`
	ErrorMessage       string          `json:"errorMessage,omitempty"`
	ErrorDescription   string          `json:"errorDescription,omitempty"`
}

// WireOperation is an operation as it appears on the wire.
type WireOperation struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
}

// Validate will validate the operation shape and value
func (o WireOperation) Validate() error {
	return validation.ValidateStruct(&o,
		validation.Field(&o.Op, validation.Required),
		validation.Field(&o.Path, validation.Required, validation.Length(1, maxPathLength)),
		validation.Field(&o.Value, validation.By(checkValue)),
	)
}

// ParseResponse decodes and validates an action response body and converts
// its operations. Numbers keep their JSON form until they are typed by the
// mutation engine.
func ParseResponse(body []byte, maxOperations int) ([]grants.Operation, error) {
	if maxOperations <= 0 {
		maxOperations = DefaultMaxOperations
	}

	var resp Response
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&resp); err != nil {
		return nil, grants.WrapError(grants.ErrInvalidActionResponse, err, map[string]any{
			"reason": "malformed json",
		})
	}

	switch resp.ActionStatus {
	case StatusSuccess:
	case StatusFailed, StatusError:
		return nil, grants.WrapError(grants.ErrActionExecutionFailed, nil, map[string]any{
			"action_status": resp.ActionStatus,
			"reason":        firstNonEmpty(resp.FailureReason, resp.ErrorMessage),
			"description":   firstNonEmpty(resp.FailureDescription, resp.ErrorDescription),
		})
	default:
		return nil, grants.WrapError(grants.ErrInvalidActionResponse, nil, map[string]any{
			"reason":        "unknown action status",
			"action_status": resp.ActionStatus,
		})
	}

	err := validation.ValidateStruct(&resp,
		validation.Field(&resp.Operations, validation.Length(0, maxOperations)),
	)
	if err != nil {
		return nil, grants.WrapError(grants.ErrInvalidActionResponse, err, nil)
	}

	ops := make([]grants.Operation, 0, len(resp.Operations))
	for i, wire := range resp.Operations {
		op, err := grants.ParseOperation(wire.Op, wire.Path, normalizeValue(wire.Value))
		if err != nil {
			return nil, err
		}
		if err := checkTargetValue(op); err != nil {
			return nil, grants.WrapError(grants.ErrInvalidActionResponse, err, map[string]any{
				"index": i,
				"path":  wire.Path,
			})
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// checkValue rejects values the token can not carry: nested objects other
// than the claim add envelope, mixed arrays, and oversized values.
func checkValue(value any) error {
	switch v := value.(type) {
	case nil, bool, json.Number, float64:
		return nil
	case string:
		if len(v) > maxStringValueLength {
			return fmt.Errorf("string value longer than %d bytes", maxStringValueLength)
		}
		return nil
	case []any:
		return checkArray(v)
	case map[string]any:
		for key := range v {
			if key != "name" && key != "value" {
				return fmt.Errorf("unexpected object key %q", key)
			}
		}
		name, ok := v["name"].(string)
		if !ok || name == "" {
			return fmt.Errorf("claim name must be a non empty string")
		}
		inner := v["value"]
		if _, nested := inner.(map[string]any); nested {
			return fmt.Errorf("nested objects are not supported")
		}
		return checkValue(inner)
	}
	return fmt.Errorf("unsupported value type %T", value)
}

func checkArray(values []any) error {
	if len(values) > maxArrayValueElements {
		return fmt.Errorf("array longer than %d elements", maxArrayValueElements)
	}
	for _, item := range values {
		s, ok := item.(string)
		if !ok {
			return fmt.Errorf("array values must be strings")
		}
		if len(s) > maxStringValueLength {
			return fmt.Errorf("string value longer than %d bytes", maxStringValueLength)
		}
	}
	return nil
}

// checkTargetValue enforces the value a verb needs on its target.
func checkTargetValue(op grants.Operation) error {
	if op.Op == grants.OpRemove {
		return nil
	}
	if op.Value == nil {
		return fmt.Errorf("%s requires a value", op.Op)
	}
	switch op.Target {
	case grants.TargetScope, grants.TargetAudience, grants.TargetClaimElement:
		if _, ok := op.Value.(string); !ok {
			if _, arr := op.Value.([]string); !arr || op.Op != grants.OpAdd {
				return fmt.Errorf("%s expects a string value", op.Target)
			}
		}
	}
	return nil
}

// normalizeValue turns decoded string arrays into []string.
func normalizeValue(value any) any {
	switch v := value.(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return value
			}
			out = append(out, s)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = normalizeValue(item)
		}
		return out
	}
	return value
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
