package protocol

const (
	// Session layer.
	ErrBadRequest   = "E_BAD_REQUEST"
	ErrNameTaken    = "E_NAME_TAKEN"
	ErrCooldown     = "E_COOLDOWN"
	ErrDead         = "E_DEAD"
	ErrUnknownOrder = "E_UNKNOWN_COMMAND"

	// Decision-service taxonomy.
	ErrDecisionAuth        = "E_DECISION_AUTH"
	ErrDecisionRateLimit   = "E_DECISION_RATE_LIMIT"
	ErrDecisionTimeout     = "E_DECISION_TIMEOUT"
	ErrDecisionBadRequest  = "E_DECISION_BAD_REQUEST"
	ErrDecisionUnavailable = "E_DECISION_UNAVAILABLE"

	ErrInternal = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrBadRequest:          {},
	ErrNameTaken:           {},
	ErrCooldown:            {},
	ErrDead:                {},
	ErrUnknownOrder:        {},
	ErrDecisionAuth:        {},
	ErrDecisionRateLimit:   {},
	ErrDecisionTimeout:     {},
	ErrDecisionBadRequest:  {},
	ErrDecisionUnavailable: {},
	ErrInternal:            {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
