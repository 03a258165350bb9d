package grants

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// Apply runs ops against a copy of state in order and returns the result.
// The input state is never modified. Add never duplicates a member of a set,
// Remove of an absent member is a no-op, and Replace of an absent member
// behaves as Add. Any invalid operation aborts the whole batch.
func Apply(state TokenState, ops []Operation) (TokenState, error) {
	out := state.Clone()
	for i, op := range ops {
		if err := applyOne(&out, op); err != nil {
			return state, annotateOperationError(err, i, op)
		}
	}
	return out, nil
}

func applyOne(s *TokenState, op Operation) error {
	switch op.Target {
	case TargetScope:
		return applySet(&s.Scopes, op)
	case TargetAudience:
		return applyAudience(s, op)
	case TargetClaim:
		return applyClaim(s, op)
	case TargetClaimElement:
		return applyClaimElement(s, op)
	case TargetExpiresIn:
		return applyExpiresIn(s, op)
	}
	return unsupportedOperation(string(op.Op), op.Path, fmt.Sprintf("unknown target %q", op.Target))
}

func applySet(set *OrderedSet, op Operation) error {
	switch op.Op {
	case OpAdd:
		values, err := setValues(op)
		if err != nil {
			return err
		}
		for _, v := range values {
			set.Add(v)
		}
		return nil

	case OpRemove:
		if member, ok := resolveMember(*set, op.Selector); ok {
			set.Remove(member)
		}
		return nil

	case OpReplace:
		value, ok := op.Value.(string)
		if !ok || value == "" {
			return invalidValue(op, "replace expects a non empty string")
		}
		if member, ok := resolveMember(*set, op.Selector); ok {
			set.Replace(member, value)
			return nil
		}
		set.Add(value)
		return nil
	}
	return unsupportedOperation(string(op.Op), op.Path, "unknown op")
}

func applyAudience(s *TokenState, op Operation) error {
	return applySet(&s.Audience, op)
}

func applyClaim(s *TokenState, op Operation) error {
	if IsProtectedClaim(op.Name) || op.Name == ClaimAudience {
		return WrapError(ErrProtectedClaim, nil, map[string]any{"claim": op.Name, "path": op.Path})
	}
	if s.Claims == nil {
		s.Claims = map[string]any{}
	}

	switch op.Op {
	case OpAdd:
		value, err := claimValue(op)
		if err != nil {
			return err
		}
		existing, hasExisting := stringSlice(s.Claims[op.Name])
		incoming, incomingArray := value.([]string)
		if hasExisting && incomingArray {
			set := NewOrderedSet(existing...)
			for _, v := range incoming {
				set.Add(v)
			}
			s.Claims[op.Name] = set.Values()
			return nil
		}
		s.Claims[op.Name] = value
		return nil

	case OpRemove:
		delete(s.Claims, op.Name)
		return nil

	case OpReplace:
		value, err := claimValue(op)
		if err != nil {
			return err
		}
		s.Claims[op.Name] = value
		return nil
	}
	return unsupportedOperation(string(op.Op), op.Path, "unknown op")
}

func applyClaimElement(s *TokenState, op Operation) error {
	if IsProtectedClaim(op.Name) || op.Name == ClaimAudience {
		return WrapError(ErrProtectedClaim, nil, map[string]any{"claim": op.Name, "path": op.Path})
	}
	if s.Claims == nil {
		s.Claims = map[string]any{}
	}

	raw, present := s.Claims[op.Name]
	var current []string
	if present {
		var ok bool
		if current, ok = stringSlice(raw); !ok {
			// a scalar claim has no element to remove
			if op.Op == OpRemove {
				return nil
			}
			return unsupportedOperation(string(op.Op), op.Path, "claim is not a string array")
		}
	}

	set := NewOrderedSet(current...)
	if err := applySet(&set, op); err != nil {
		return err
	}
	if !present && set.Len() == 0 {
		return nil
	}
	s.Claims[op.Name] = set.Values()
	return nil
}

// MaxExpiresIn caps the token lifetime, in seconds, an operation may set.
const MaxExpiresIn int64 = 366 * 24 * 60 * 60

func applyExpiresIn(s *TokenState, op Operation) error {
	if op.Op != OpReplace {
		return unsupportedOperation(string(op.Op), op.Path, "expires_in only supports replace")
	}
	seconds, ok := numericSeconds(op.Value)
	if !ok || seconds <= 0 {
		return invalidValue(op, "expires_in expects a positive number of seconds")
	}
	if seconds > MaxExpiresIn {
		return invalidValue(op, fmt.Sprintf("expires_in exceeds %d seconds", MaxExpiresIn))
	}
	s.ExpiresAt = s.IssuedAt.Add(time.Duration(seconds) * time.Second)
	return nil
}

// resolveMember finds the member named by selector. A selector that is not a
// member but parses as an in range index addresses the member at that index.
func resolveMember(set OrderedSet, selector string) (string, bool) {
	if set.Has(selector) {
		return selector, true
	}
	idx, err := strconv.Atoi(selector)
	if err != nil {
		return "", false
	}
	return set.At(idx)
}

func setValues(op Operation) ([]string, error) {
	switch v := op.Value.(type) {
	case string:
		if v == "" {
			return nil, invalidValue(op, "value must not be empty")
		}
		return []string{v}, nil
	default:
		values, ok := stringSlice(v)
		if !ok {
			return nil, invalidValue(op, "value must be a string or string array")
		}
		return values, nil
	}
}

// claimValue accepts the JSON scalar types and string arrays. Objects and
// mixed arrays are rejected.
func claimValue(op Operation) (any, error) {
	switch v := op.Value.(type) {
	case string, bool:
		return v, nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, invalidValue(op, "number is not finite")
		}
		return v, nil
	case int, int32, int64:
		return v, nil
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, nil
		}
		f, err := v.Float64()
		if err != nil {
			return nil, invalidValue(op, "malformed number")
		}
		return f, nil
	case nil:
		return nil, invalidValue(op, "value is required")
	}
	if values, ok := stringSlice(op.Value); ok {
		return values, nil
	}
	return nil, invalidValue(op, "unsupported claim value type")
}

func numericSeconds(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) || math.Abs(n) > math.MaxInt64/2 {
			return 0, false
		}
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	}
	return 0, false
}

func invalidValue(op Operation, reason string) error {
	return WrapError(ErrUnsupportedOperation, nil, map[string]any{
		"op":     string(op.Op),
		"path":   op.Path,
		"reason": reason,
	})
}

func annotateOperationError(err error, index int, op Operation) error {
	var rich *goerrors.Error
	if !errors.As(err, &rich) {
		return WrapError(ErrUnsupportedOperation, err, map[string]any{"index": index, "path": op.Path})
	}
	clone := rich.Clone()
	clone.WithMetadata(map[string]any{
		"index":  index,
		"target": string(op.Target),
	})
	return clone
}
