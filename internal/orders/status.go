package orders

type Status string

const (
	StatusPending Status = "Pending"
	StatusPaid    Status = "Paid"
)

// Paid is terminal; nothing moves an order back to Pending.
var validNext = map[Status]map[Status]bool{
	StatusPending: {StatusPaid: true},
	StatusPaid:    {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// ParseStatus accepts the status names the client sends.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusPending, StatusPaid:
		return Status(s), true
	}
	return "", false
}
