package orders

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:   {StatusConfirmed: true},
	StatusConfirmed: {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}
