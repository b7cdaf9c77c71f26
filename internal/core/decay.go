package core

import (
	"github.com/rs/zerolog/log"
)

// sweepActivityRanks clears the "recently active" pin from participants
// whose speaking signal went quiet. A rank survives only while the
// activity timestamp is present and younger than the activity timeout.
func (s *Session) sweepActivityRanks() {
	now := s.nowSeconds()
	maxAge := s.activityTimeout.Seconds()

	cleared := 0
	list := cloneParticipants(s.state.Participants)
	for i := range list {
		p := &list[i]
		if p.ActivityRank == nil {
			continue
		}
		if p.ActivityTimestamp == nil || now-*p.ActivityTimestamp > maxAge {
			p.ActivityRank = nil
			cleared++
		}
	}
	if cleared == 0 {
		return
	}
	sortParticipants(list, s.state.SortAscending)
	s.state.Participants = list
	log.Debug().Str("module", "core.decay").Int("cleared", cleared).Msg("activity ranks decayed")
	s.publish()
}
