package types

// OrderStatus represents a payment order's position in its lifecycle.
//
// The graph is a total order of creation with escape transitions:
//
//	CREATED → PENDING → PROCESSING → CONFIRMED → COMPLETED
//
// and any non-terminal status may transition to FAILED, EXPIRED or
// REFUNDED. No component may set a terminal status without an
// authoritative server response carrying it.
type OrderStatus string

const (
	StatusCreated    OrderStatus = "CREATED"
	StatusPending    OrderStatus = "PENDING"
	StatusProcessing OrderStatus = "PROCESSING"
	StatusConfirmed  OrderStatus = "CONFIRMED"
	StatusCompleted  OrderStatus = "COMPLETED"
	StatusFailed     OrderStatus = "FAILED"
	StatusExpired    OrderStatus = "EXPIRED"
	StatusRefunded   OrderStatus = "REFUNDED"
)

// transitions is the exhaustive forward transition table. Escape
// transitions to the failure terminals are appended to every
// non-terminal entry.
var transitions = func() map[OrderStatus][]OrderStatus {
	t := map[OrderStatus][]OrderStatus{
		StatusCreated:    {StatusPending},
		StatusPending:    {StatusProcessing},
		StatusProcessing: {StatusConfirmed},
		StatusConfirmed:  {StatusCompleted},
		StatusCompleted:  {},
		StatusFailed:     {},
		StatusExpired:    {},
		StatusRefunded:   {},
	}
	escapes := []OrderStatus{StatusFailed, StatusExpired, StatusRefunded}
	for s, next := range t {
		if s.IsTerminal() {
			continue
		}
		t[s] = append(next, escapes...)
	}
	return t
}()

func (s OrderStatus) String() string {
	return string(s)
}

// Valid reports whether the status is a known lifecycle state.
func (s OrderStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether no further transition occurs from s.
// CONFIRMED is not terminal here: the backend still settles internally
// before COMPLETED, and polling must continue until it does.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusExpired, StatusRefunded:
		return true
	default:
		return false
	}
}

// IsSuccess reports whether the status indicates a successful payment.
// CONFIRMED means on-chain confirmation, COMPLETED means the backend has
// finished internal settlement; business actions such as crediting an
// investment must gate on COMPLETED, not CONFIRMED.
func (s OrderStatus) IsSuccess() bool {
	return s == StatusConfirmed || s == StatusCompleted
}

// CanTransitionTo reports whether the graph permits moving from s to next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Cancellable reports whether a client-initiated cancel is still
// permitted for an order in this status.
func (s OrderStatus) Cancellable() bool {
	return s == StatusCreated || s == StatusPending
}
