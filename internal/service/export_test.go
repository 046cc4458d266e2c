package service

// TrackedVotings reports how many votings currently hold a progress lock
func (s *DefaultService) TrackedVotings() int {
	n := 0
	s.progressLocks.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}
