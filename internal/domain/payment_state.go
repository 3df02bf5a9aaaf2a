package domain

type PaymentState string

const (
	StateIdle               PaymentState = "IDLE"
	StateValidatingCheckout PaymentState = "VALIDATING_CHECKOUT"
	StateSummaryReady       PaymentState = "SUMMARY_READY"
	StateMethodSelected     PaymentState = "METHOD_SELECTED"
	StateCashSubmitting     PaymentState = "CASH_SUBMITTING"
	StateGatewayAwaitingSDK PaymentState = "GATEWAY_AWAITING_SDK"
	StateGatewayButtonReady PaymentState = "GATEWAY_BUTTON_READY"
	StateGatewayAuthorizing PaymentState = "GATEWAY_AUTHORIZING"
	StateGatewayCapturing   PaymentState = "GATEWAY_CAPTURING"
	StateOrderSubmitting    PaymentState = "ORDER_SUBMITTING"
	StateCompleted          PaymentState = "COMPLETED"
	StateFailed             PaymentState = "FAILED"
)

// transitions lists the allowed moves. Failed is reachable from every non-terminal
// state and is added in CanTransitionTo. Moves out of Failed are user initiated
// restarts (reopen, pick a method again), never automatic ones.
var transitions = map[PaymentState][]PaymentState{
	StateIdle:               {StateValidatingCheckout},
	StateValidatingCheckout: {StateSummaryReady},
	StateSummaryReady:       {StateMethodSelected},
	StateMethodSelected:     {StateMethodSelected, StateCashSubmitting, StateGatewayAwaitingSDK},
	StateCashSubmitting:     {StateOrderSubmitting},
	StateGatewayAwaitingSDK: {StateGatewayButtonReady, StateMethodSelected},
	StateGatewayButtonReady: {StateGatewayButtonReady, StateGatewayAuthorizing, StateMethodSelected},
	StateGatewayAuthorizing: {StateGatewayCapturing, StateGatewayButtonReady, StateMethodSelected},
	StateGatewayCapturing:   {StateOrderSubmitting},
	StateOrderSubmitting:    {StateCompleted},
	StateFailed:             {StateValidatingCheckout, StateMethodSelected},
}

func CanTransitionTo(from, to PaymentState) bool {
	if to == StateFailed {
		return !from.IsTerminal()
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s PaymentState) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// IsGateway reports whether the state belongs to the gateway sub-machine.
func (s PaymentState) IsGateway() bool {
	switch s {
	case StateGatewayAwaitingSDK, StateGatewayButtonReady, StateGatewayAuthorizing, StateGatewayCapturing:
		return true
	}
	return false
}

// Pending returns the affordance a client renders while the state is suspended on a
// network or provider call. Empty means nothing is in flight.
func (s PaymentState) Pending() string {
	switch s {
	case StateValidatingCheckout:
		return "validating"
	case StateCashSubmitting:
		return "submitting_cash"
	case StateGatewayAwaitingSDK:
		return "loading_provider"
	case StateGatewayAuthorizing:
		return "awaiting_provider"
	case StateGatewayCapturing:
		return "capturing"
	case StateOrderSubmitting:
		return "submitting_order"
	}
	return ""
}

// InFlight reports whether this server is waiting on one of its own calls. The
// provider popup (GatewayAuthorizing) is not: the user may never come back from it.
func (s PaymentState) InFlight() bool {
	switch s {
	case StateValidatingCheckout, StateCashSubmitting, StateGatewayAwaitingSDK,
		StateGatewayCapturing, StateOrderSubmitting:
		return true
	}
	return false
}

// String representation (for logging)
func (s PaymentState) String() string {
	return string(s)
}
