package appointment

// transition is one edge of the status graph.
type transition struct {
	from Status
	to   Status
}

// doctorTransitions are the edges a doctor may drive on their own appointments.
var doctorTransitions = map[transition]bool{
	{StatusScheduled, StatusInProgress}: true,
	{StatusInProgress, StatusCompleted}: true,
	{StatusScheduled, StatusCanceled}:   true,
}

// patientTransitions: patients may only cancel a scheduled appointment.
var patientTransitions = map[transition]bool{
	{StatusScheduled, StatusCanceled}: true,
}

// adminTransitions covers every edge of the graph. Terminal states still
// have no outgoing edges, for any role.
var adminTransitions = map[transition]bool{
	{StatusScheduled, StatusInProgress}: true,
	{StatusScheduled, StatusCompleted}:  true,
	{StatusScheduled, StatusCanceled}:   true,
	{StatusInProgress, StatusCompleted}: true,
	{StatusInProgress, StatusCanceled}:  true,
	{StatusInProgress, StatusScheduled}: true,
}

// CanTransition reports whether the role may move an appointment from one
// status to another. COMPLETED and CANCELED are terminal for everyone.
func CanTransition(role Role, from, to Status) bool {
	if !from.Valid() || !to.Valid() || from == to {
		return false
	}
	if from.Terminal() {
		return false
	}

	t := transition{from, to}
	switch role {
	case RoleDoctor:
		return doctorTransitions[t]
	case RolePatient:
		return patientTransitions[t]
	case RoleAdmin, RoleSuperAdmin:
		return adminTransitions[t]
	}
	return false
}
