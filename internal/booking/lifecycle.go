package booking

// Action names an appointment lifecycle transition. Action values double as
// history entry actions.
type Action string

const (
	ActionBook       Action = "book"
	ActionConfirm    Action = "confirm"
	ActionStart      Action = "start"
	ActionCancel     Action = "cancel"
	ActionReschedule Action = "reschedule"
	ActionComplete   Action = "complete"
	ActionNoShow     Action = "no_show"
)

// allowedFrom is the lifecycle transition table: the statuses an
// appointment must currently hold for the action to be legal.
var allowedFrom = map[Action][]AppointmentStatus{
	ActionConfirm:    {StatusScheduled},
	ActionStart:      {StatusScheduled, StatusConfirmed},
	ActionCancel:     {StatusScheduled, StatusConfirmed},
	ActionReschedule: {StatusScheduled, StatusConfirmed},
	ActionComplete:   {StatusConfirmed, StatusInProgress},
	ActionNoShow:     {StatusScheduled, StatusConfirmed},
}

func canTransition(action Action, from AppointmentStatus) bool {
	for _, s := range allowedFrom[action] {
		if s == from {
			return true
		}
	}
	return false
}
