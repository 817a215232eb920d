package booking

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		action Action
		from   AppointmentStatus
		want   bool
	}{
		{ActionConfirm, StatusScheduled, true},
		{ActionConfirm, StatusConfirmed, false},
		{ActionConfirm, StatusCancelled, false},
		{ActionStart, StatusScheduled, true},
		{ActionStart, StatusConfirmed, true},
		{ActionStart, StatusInProgress, false},
		{ActionCancel, StatusScheduled, true},
		{ActionCancel, StatusConfirmed, true},
		{ActionCancel, StatusInProgress, false},
		{ActionCancel, StatusCompleted, false},
		{ActionCancel, StatusCancelled, false},
		{ActionReschedule, StatusScheduled, true},
		{ActionReschedule, StatusConfirmed, true},
		{ActionReschedule, StatusInProgress, false},
		{ActionComplete, StatusConfirmed, true},
		{ActionComplete, StatusInProgress, true},
		{ActionComplete, StatusScheduled, false},
		{ActionNoShow, StatusScheduled, true},
		{ActionNoShow, StatusConfirmed, true},
		{ActionNoShow, StatusCompleted, false},
	}

	for _, tc := range cases {
		if got := canTransition(tc.action, tc.from); got != tc.want {
			t.Errorf("canTransition(%s, %s) = %v, want %v", tc.action, tc.from, got, tc.want)
		}
	}
}

func TestTerminalStatusesHaveNoExits(t *testing.T) {
	for _, terminal := range []AppointmentStatus{StatusCompleted, StatusCancelled, StatusNoShow} {
		for action := range allowedFrom {
			if canTransition(action, terminal) {
				t.Errorf("status %s must be terminal, but %s is allowed from it", terminal, action)
			}
		}
	}
}
