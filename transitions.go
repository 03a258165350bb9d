package grants

type transitionTable[S ~string] map[S]map[S]struct{}

func (t transitionTable[S]) allows(from, to S) bool {
	targets, ok := t[from]
	if !ok {
		return false
	}
	_, ok = targets[to]
	return ok
}

var sessionTransitions = transitionTable[SessionStatus]{
	SessionAwaitingLogin: {
		SessionAwaitingConsent: {},
		SessionCodeIssued:      {},
	},
	SessionAwaitingConsent: {
		SessionCodeIssued: {},
		SessionDenied:     {},
	},
	SessionCodeIssued: {
		SessionExchanged: {},
	},
}

var codeTransitions = transitionTable[CodeStatus]{
	CodeIssued: {
		CodeInUse: {},
	},
	CodeInUse: {
		CodeIssued:   {},
		CodeConsumed: {},
	},
}

var deviceTransitions = transitionTable[DeviceStatus]{
	DevicePending: {
		DeviceApproved: {},
		DeviceDenied:   {},
	},
	DeviceApproved: {
		DeviceRedeeming: {},
	},
	DeviceRedeeming: {
		DeviceApproved: {},
		DeviceRedeemed: {},
	},
}

func invalidTransition[S ~string](from, to S) error {
	return WrapError(ErrInvalidSessionState, nil, map[string]any{
		"from": string(from),
		"to":   string(to),
	})
}
