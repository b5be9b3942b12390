package quest

// Unlockable returns, in registry declaration order, the quests that are
// locked in state and whose prerequisites are all completed. It does not
// modify state; callers apply the transitions.
func Unlockable(reg *Registry, state PlayerState) []string {
	var out []string
	for _, q := range reg.quests {
		rec, ok := state.Quests[q.ID]
		if ok && rec.Status != StatusLocked {
			continue
		}
		if state.prerequisitesMet(reg, q.ID) {
			out = append(out, q.ID)
		}
	}
	return out
}
