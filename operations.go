package grants

import (
	"strings"
)

// OpKind is the verb of a mutation operation.
type OpKind string

const (
	OpAdd     OpKind = "add"
	OpRemove  OpKind = "remove"
	OpReplace OpKind = "replace"
)

// OpTarget is the container an operation mutates.
type OpTarget string

const (
	TargetScope        OpTarget = "scope"
	TargetAudience     OpTarget = "audience"
	TargetClaim        OpTarget = "claim"
	TargetClaimElement OpTarget = "claimElement"
	TargetExpiresIn    OpTarget = "expiresIn"
)

// AppendSelector addresses the end of an array container.
const AppendSelector = "-"

const (
	pathPrefix      = "/accessToken/"
	pathScopes      = "scopes"
	pathClaims      = "claims"
	jsonPointerSep  = "/"
	claimValueName  = "name"
	claimValueValue = "value"
)

// Operation is one typed mutation requested by a pre-issue action.
// Name identifies a claim. Selector addresses a member of a scope, audience
// or array claim, either by value or by index.
type Operation struct {
	Op       OpKind   `json:"op"`
	Target   OpTarget `json:"target"`
	Name     string   `json:"name,omitempty"`
	Selector string   `json:"selector,omitempty"`
	Value    any      `json:"value,omitempty"`
	Path     string   `json:"path,omitempty"`
}

// ParseOperation converts a wire operation into a typed Operation. Paths
// follow JSON pointer escaping. Unknown verbs, unknown paths, and verbs
// not allowed on a path yield ErrUnsupportedOperation.
func ParseOperation(op, path string, value any) (Operation, error) {
	kind := OpKind(strings.ToLower(strings.TrimSpace(op)))
	switch kind {
	case OpAdd, OpRemove, OpReplace:
	default:
		return Operation{}, unsupportedOperation(op, path, "unknown op")
	}

	if !strings.HasPrefix(path, pathPrefix) {
		return Operation{}, unsupportedOperation(op, path, "unknown path")
	}

	segments := strings.Split(strings.TrimPrefix(path, pathPrefix), jsonPointerSep)
	for i := range segments {
		segments[i] = unescapePointer(segments[i])
	}

	out := Operation{Op: kind, Value: value, Path: path}

	switch segments[0] {
	case pathScopes:
		if len(segments) != 2 || segments[1] == "" {
			return Operation{}, unsupportedOperation(op, path, "scope path needs one selector")
		}
		out.Target = TargetScope
		out.Selector = segments[1]
		if err := checkSelectorVerb(out); err != nil {
			return Operation{}, err
		}
		return out, nil

	case pathClaims:
		return parseClaimPath(out, segments[1:])
	}

	return Operation{}, unsupportedOperation(op, path, "unknown container")
}

func parseClaimPath(out Operation, segments []string) (Operation, error) {
	op, path := string(out.Op), out.Path
	if len(segments) == 0 || segments[0] == "" {
		return Operation{}, unsupportedOperation(op, path, "claim path needs a name")
	}

	name := segments[0]

	switch {
	case name == AppendSelector && len(segments) == 1:
		if out.Op != OpAdd {
			return Operation{}, unsupportedOperation(op, path, "only add may append a claim")
		}
		obj, ok := out.Value.(map[string]any)
		if !ok {
			return Operation{}, unsupportedOperation(op, path, "claim add expects {name, value}")
		}
		claimName, _ := obj[claimValueName].(string)
		if claimName == "" {
			return Operation{}, unsupportedOperation(op, path, "claim add needs a name")
		}
		claimValue, present := obj[claimValueValue]
		if !present {
			return Operation{}, unsupportedOperation(op, path, "claim add needs a value")
		}
		out.Value = claimValue
		if claimName == ClaimAudience {
			out.Target = TargetAudience
			out.Selector = AppendSelector
			return out, nil
		}
		out.Target = TargetClaim
		out.Name = claimName
		return out, nil

	case name == ClaimExpiresIn && len(segments) == 1:
		if out.Op != OpReplace {
			return Operation{}, unsupportedOperation(op, path, "expires_in only supports replace")
		}
		out.Target = TargetExpiresIn
		out.Name = name
		return out, nil

	case name == ClaimAudience:
		if len(segments) != 2 || segments[1] == "" {
			return Operation{}, unsupportedOperation(op, path, "audience path needs one selector")
		}
		out.Target = TargetAudience
		out.Selector = segments[1]
		if err := checkSelectorVerb(out); err != nil {
			return Operation{}, err
		}
		return out, nil

	case len(segments) == 1:
		if out.Op == OpAdd {
			return Operation{}, unsupportedOperation(op, path, "use /accessToken/claims/- to add a claim")
		}
		out.Target = TargetClaim
		out.Name = name
		return out, nil

	case len(segments) == 2 && segments[1] != "":
		out.Target = TargetClaimElement
		out.Name = name
		out.Selector = segments[1]
		if err := checkSelectorVerb(out); err != nil {
			return Operation{}, err
		}
		return out, nil
	}

	return Operation{}, unsupportedOperation(op, path, "claim path too deep")
}

// add appends with "-", remove and replace address an existing member.
func checkSelectorVerb(o Operation) error {
	if o.Op == OpAdd && o.Selector != AppendSelector {
		return unsupportedOperation(string(o.Op), o.Path, "add must target the append selector")
	}
	if o.Op != OpAdd && o.Selector == AppendSelector {
		return unsupportedOperation(string(o.Op), o.Path, "append selector only valid for add")
	}
	return nil
}

func unescapePointer(segment string) string {
	if !strings.Contains(segment, "~") {
		return segment
	}
	segment = strings.ReplaceAll(segment, "~1", "/")
	return strings.ReplaceAll(segment, "~0", "~")
}

func unsupportedOperation(op, path, reason string) error {
	return WrapError(ErrUnsupportedOperation, nil, map[string]any{
		"op":     op,
		"path":   path,
		"reason": reason,
	})
}
