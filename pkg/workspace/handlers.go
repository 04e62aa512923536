package workspace

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/huddlehq/huddle/pkg/domain"
	"github.com/huddlehq/huddle/pkg/realtime"
)

// Source is where realtime events come from.
type Source interface {
	On(event string, h realtime.Handler)
}

// Attach routes the server's collaboration events into s.
func (s *State) Attach(src Source) {
	src.On(domain.EventRemovedFromTeam, decode(s, s.HandleRemovedFromTeam))
	src.On(domain.EventChannelCreated, decode(s, s.HandleChannelCreated))
	src.On(domain.EventChannelUpdated, decode(s, s.HandleChannelUpdated))
	src.On(domain.EventChannelDeleted, decode(s, s.HandleChannelDeleted))
	src.On(domain.EventChannelMemberJoined, decode(s, s.HandleChannelMemberJoined))
	src.On(domain.EventConnectionRejected, decode(s, s.HandleConnectionRejected))
}

func decode[T any](s *State, fn func(T)) realtime.Handler {
	return func(data json.RawMessage) {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			s.logger.Warn("dropping undecodable event", zap.String("type", fmt.Sprintf("%T", v)), zap.Error(err))
			return
		}
		fn(v)
	}
}

// HandleRemovedFromTeam applies a forced removal: the team and its channels
// go away, a notification is recorded and the user is told. The login
// itself is unaffected.
func (s *State) HandleRemovedFromTeam(evt domain.RemovedFromTeam) {
	if evt.TeamID == "" {
		return
	}
	name := evt.TeamName
	if name == "" {
		name = "a team"
	}
	n := domain.Notification{
		ID:        uuid.NewString(),
		Type:      domain.NotificationTeamRemoval,
		Title:     "Removed from Team",
		Message:   fmt.Sprintf("You have been removed from '%s'", name),
		TeamID:    evt.TeamID,
		TeamName:  evt.TeamName,
		Severity:  domain.SeverityWarning,
		CreatedAt: s.clock.Now(),
	}

	s.update(func() {
		s.removeTeamLocked(evt.TeamID)
		s.notifications = append([]domain.Notification{n}, s.notifications...)
		s.unread++
	})

	msg := evt.Message
	if msg == "" {
		msg = n.Message
	}
	s.logger.Info("removed from team", zap.String("team_id", evt.TeamID))
	s.notifier.Notify(Notice{Severity: domain.SeverityError, Title: n.Title, Message: msg})
}

// HandleChannelCreated records a channel created in one of the user's teams.
func (s *State) HandleChannelCreated(evt domain.ChannelEvent) {
	s.AddChannel(evt.TeamID, evt.Channel)
}

// HandleChannelUpdated replaces an edited channel.
func (s *State) HandleChannelUpdated(evt domain.ChannelEvent) {
	s.UpdateChannel(evt.TeamID, evt.Channel)
}

// HandleChannelDeleted drops a deleted channel.
func (s *State) HandleChannelDeleted(evt domain.ChannelDeleted) {
	s.RemoveChannel(evt.TeamID, evt.ChannelID)
}

// HandleChannelMemberJoined adds a member to a channel's roster.
func (s *State) HandleChannelMemberJoined(evt domain.ChannelMemberJoined) {
	s.AddChannelMember(evt.TeamID, evt.ChannelID, evt.Member)
}

// HandleConnectionRejected tells the user live updates are off.
func (s *State) HandleConnectionRejected(evt domain.ConnectionRejected) {
	msg := evt.Message
	if msg == "" {
		msg = "The server refused the live connection."
	}
	s.notifier.Notify(Notice{Severity: domain.SeverityWarning, Title: "Live updates unavailable", Message: msg})
}
