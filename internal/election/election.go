package election

// ElectHost returns the lexicographically smallest non-empty id. Every replica
// holding the same member set gets the same answer, whatever the order.
func ElectHost(memberIDs []string) (string, bool) {
	best, ok := "", false
	for _, id := range memberIDs {
		if id == "" {
			continue
		}
		if !ok || id < best {
			best, ok = id, true
		}
	}
	return best, ok
}

// ShouldReelect is true only once the current host has left. A smaller id
// joining later does not unseat a present host.
func ShouldReelect(hostID string, memberIDs []string) bool {
	if hostID == "" {
		return true
	}
	for _, id := range memberIDs {
		if id == hostID {
			return false
		}
	}
	return true
}

// Next combines the two: keep hostID while present, otherwise elect.
func Next(hostID string, memberIDs []string) (string, bool) {
	if !ShouldReelect(hostID, memberIDs) {
		return hostID, true
	}
	return ElectHost(memberIDs)
}
