package session

// Cycle returns the ordered role cycle for a group of n counted participants.
func Cycle(n int) []Role {
	switch {
	case n <= 2:
		return []Role{RoleSpeaker, RoleListener}
	case n == 3:
		return []Role{RoleSpeaker, RoleListener, RoleScribe}
	default:
		return []Role{RoleSpeaker, RoleListener, RoleScribe, RoleObserver}
	}
}

// TotalRounds is the number of rounds in one cycle: one per role in the cycle.
func TotalRounds(n int) int {
	return len(Cycle(n))
}

// NextRole returns the role following r in the cycle for n participants.
// Roles outside the cycle, including the empty role, are returned unchanged.
func NextRole(r Role, n int) Role {
	cycle := Cycle(n)
	for i, c := range cycle {
		if c == r {
			return cycle[(i+1)%len(cycle)]
		}
	}
	return r
}

// Rotate moves every rotating participant one step forward in the role cycle.
// Only the first observer in stored order takes part in the cycle; further observers
// stay observers. skipID (the in-person host) is never rotated.
func Rotate(participants []Participant, n int, skipID string) []Participant {
	out := append([]Participant(nil), participants...)
	observerSeen := false
	for i := range out {
		p := &out[i]
		if skipID != "" && p.ID == skipID {
			continue
		}
		if p.Role == RoleObserver {
			if observerSeen || n < 4 {
				continue
			}
			observerSeen = true
		}
		p.Role = NextRole(p.Role, n)
	}
	return out
}

// AvailableRoles returns the roles a participant could still take, in cycle order.
// Exclusive roles held by anyone but skipID are removed; observer is always available.
func AvailableRoles(participants []Participant, skipID string) []Role {
	taken := takenRoles(participants, skipID)
	var out []Role
	for _, r := range Roles {
		if r.Exclusive() && taken[r] {
			continue
		}
		out = append(out, r)
	}
	return out
}

// RoleAvailable reports whether participantID may take role r.
func RoleAvailable(participants []Participant, participantID string, r Role) bool {
	if !r.Exclusive() {
		return true
	}
	for _, p := range participants {
		if p.ID != participantID && p.Role == r {
			return false
		}
	}
	return true
}

// AutoAssign fills empty roles in stored order from the palette for n counted
// participants: free exclusive roles first, observers once those run out (n >= 4).
// Participants that already hold a role, and skipID, are left alone. It reports
// whether any role changed, so a second call on its own output is a no-op.
func AutoAssign(participants []Participant, n int, skipID string) ([]Participant, bool) {
	palette := Cycle(n)
	taken := takenRoles(participants, "")

	var queue []Role
	observerAllowed := false
	for _, r := range palette {
		if r == RoleObserver {
			observerAllowed = true
			continue
		}
		if !taken[r] {
			queue = append(queue, r)
		}
	}

	out := append([]Participant(nil), participants...)
	changed := false
	for i := range out {
		p := &out[i]
		if p.Role != RoleNone || (skipID != "" && p.ID == skipID) {
			continue
		}
		switch {
		case len(queue) > 0:
			p.Role = queue[0]
			queue = queue[1:]
		case observerAllowed:
			p.Role = RoleObserver
		default:
			continue
		}
		changed = true
	}
	return out, changed
}

func takenRoles(participants []Participant, skipID string) map[Role]bool {
	taken := make(map[Role]bool, len(Roles))
	for _, p := range participants {
		if skipID != "" && p.ID == skipID {
			continue
		}
		if p.Role.Exclusive() {
			taken[p.Role] = true
		}
	}
	return taken
}
