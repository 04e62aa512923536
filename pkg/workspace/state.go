// Package workspace holds the client's view of the collaboration data: the
// user's teams, their channels and notifications. Realtime events and REST
// responses both land here.
package workspace

import (
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/huddlehq/huddle/pkg/domain"
)

// Notice is a transient message for the user (a toast).
type Notice struct {
	Severity string
	Title    string
	Message  string
}

// Notifier shows notices to the user.
type Notifier interface {
	Notify(Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

// Snapshot is a copy of the workspace at one point in time.
type Snapshot struct {
	Teams         []domain.Team
	CurrentTeamID string
	TeamChannels  map[string][]domain.Channel
	UserChannels  []domain.Channel
	Notifications []domain.Notification
	UnreadCount   int
}

// CurrentTeam returns the team being viewed, if any.
func (s Snapshot) CurrentTeam() (domain.Team, bool) {
	for _, t := range s.Teams {
		if t.ID == s.CurrentTeamID {
			return t, true
		}
	}
	return domain.Team{}, false
}

// State is safe for concurrent use. Observers registered with Subscribe get
// a fresh Snapshot after every change.
type State struct {
	clock    clockwork.Clock
	notifier Notifier
	logger   *zap.Logger

	mu            sync.Mutex
	teams         []domain.Team
	current       string
	teamChannels  map[string][]domain.Channel
	userChannels  []domain.Channel
	notifications []domain.Notification
	unread        int
	// removed records when a realtime event took a team away, so that a
	// list response requested before the removal cannot bring it back.
	removed map[string]time.Time

	subMu   sync.Mutex
	subs    map[int]func(Snapshot)
	nextSub int
}

// New returns an empty State. A nil notifier drops notices.
func New(clock clockwork.Clock, notifier Notifier, logger *zap.Logger) *State {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if notifier == nil {
		notifier = NotifierFunc(func(Notice) {})
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &State{
		clock:        clock,
		notifier:     notifier,
		logger:       logger,
		teamChannels: make(map[string][]domain.Channel),
		removed:      make(map[string]time.Time),
		subs:         make(map[int]func(Snapshot)),
	}
}

// Now is the workspace clock's current time. Callers stamp list requests
// with it before issuing them.
func (s *State) Now() time.Time {
	return s.clock.Now()
}

// Subscribe registers fn for change notifications.
func (s *State) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

// Snapshot returns a copy of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *State) snapshotLocked() Snapshot {
	chans := make(map[string][]domain.Channel, len(s.teamChannels))
	for id, cs := range s.teamChannels {
		chans[id] = slices.Clone(cs)
	}
	return Snapshot{
		Teams:         slices.Clone(s.teams),
		CurrentTeamID: s.current,
		TeamChannels:  chans,
		UserChannels:  slices.Clone(s.userChannels),
		Notifications: slices.Clone(s.notifications),
		UnreadCount:   s.unread,
	}
}

// update runs fn under the lock and notifies observers afterwards.
func (s *State) update(fn func()) {
	s.mu.Lock()
	fn()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.subMu.Lock()
	fns := make([]func(Snapshot), 0, len(s.subs))
	for _, f := range s.subs {
		fns = append(fns, f)
	}
	s.subMu.Unlock()
	for _, f := range fns {
		f(snap)
	}
}

// SetTeams replaces the team list with a response to a request issued at
// requestedAt. Teams removed by a realtime event at or after requestedAt
// are left out.
func (s *State) SetTeams(teams []domain.Team, requestedAt time.Time) {
	s.update(func() {
		kept := make([]domain.Team, 0, len(teams))
		for _, t := range teams {
			if at, ok := s.removed[t.ID]; ok && !requestedAt.After(at) {
				s.logger.Debug("dropping team removed after list request", zap.String("team_id", t.ID))
				continue
			}
			kept = append(kept, t)
		}
		s.teams = kept
		if s.current != "" && !hasTeam(kept, s.current) {
			s.current = ""
		}
	})
}

// AddTeam inserts or replaces a team, e.g. after creating or joining it.
func (s *State) AddTeam(t domain.Team) {
	s.update(func() {
		delete(s.removed, t.ID)
		if i := teamIndex(s.teams, t.ID); i >= 0 {
			s.teams[i] = t
			return
		}
		s.teams = append(s.teams, t)
	})
}

// RemoveTeam drops a team the user deleted or left.
func (s *State) RemoveTeam(teamID string) {
	s.update(func() { s.removeTeamLocked(teamID) })
}

func (s *State) removeTeamLocked(teamID string) {
	s.removed[teamID] = s.clock.Now()
	if i := teamIndex(s.teams, teamID); i >= 0 {
		s.teams = slices.Delete(s.teams, i, i+1)
	}
	delete(s.teamChannels, teamID)
	s.userChannels = slices.DeleteFunc(s.userChannels, func(c domain.Channel) bool {
		return c.TeamID == teamID
	})
	if s.current == teamID {
		s.current = ""
	}
}

// SetCurrentTeam selects the team being viewed. Unknown ids clear it.
func (s *State) SetCurrentTeam(teamID string) {
	s.update(func() {
		if hasTeam(s.teams, teamID) {
			s.current = teamID
		} else {
			s.current = ""
		}
	})
}

// SetTeamChannels replaces a team's channel list.
func (s *State) SetTeamChannels(teamID string, channels []domain.Channel) {
	s.update(func() {
		if _, gone := s.removed[teamID]; gone && !hasTeam(s.teams, teamID) {
			return
		}
		s.teamChannels[teamID] = sortChannels(slices.Clone(channels))
	})
}

// SetUserChannels replaces the list of channels the user belongs to.
func (s *State) SetUserChannels(channels []domain.Channel) {
	s.update(func() {
		s.userChannels = slices.DeleteFunc(slices.Clone(channels), func(c domain.Channel) bool {
			_, gone := s.removed[c.TeamID]
			return gone && !hasTeam(s.teams, c.TeamID)
		})
	})
}

// AddChannel records a new channel. User channels are kept newest first,
// team channels alphabetically.
func (s *State) AddChannel(teamID string, ch domain.Channel) {
	if ch.TeamID == "" {
		ch.TeamID = teamID
	}
	s.update(func() {
		if channelIndex(s.userChannels, ch.ID) < 0 {
			s.userChannels = append([]domain.Channel{ch}, s.userChannels...)
		}
		if cs, ok := s.teamChannels[teamID]; ok && channelIndex(cs, ch.ID) < 0 {
			s.teamChannels[teamID] = sortChannels(append(cs, ch))
		}
	})
}

// UpdateChannel replaces every copy of ch.
func (s *State) UpdateChannel(teamID string, ch domain.Channel) {
	s.update(func() {
		if i := channelIndex(s.userChannels, ch.ID); i >= 0 {
			s.userChannels[i] = ch
		}
		if cs := s.teamChannels[teamID]; channelIndex(cs, ch.ID) >= 0 {
			cs[channelIndex(cs, ch.ID)] = ch
			s.teamChannels[teamID] = sortChannels(cs)
		}
	})
}

// RemoveChannel drops a deleted channel.
func (s *State) RemoveChannel(teamID, channelID string) {
	s.update(func() {
		match := func(c domain.Channel) bool { return c.ID == channelID }
		s.userChannels = slices.DeleteFunc(s.userChannels, match)
		if cs, ok := s.teamChannels[teamID]; ok {
			s.teamChannels[teamID] = slices.DeleteFunc(cs, match)
		}
	})
}

// AddChannelMember records that m joined a channel.
func (s *State) AddChannelMember(teamID, channelID string, m domain.Member) {
	add := func(cs []domain.Channel) {
		if i := channelIndex(cs, channelID); i >= 0 {
			for _, existing := range cs[i].Members {
				if existing.ID == m.ID {
					return
				}
			}
			cs[i].Members = append(slices.Clone(cs[i].Members), m)
		}
	}
	s.update(func() {
		add(s.userChannels)
		add(s.teamChannels[teamID])
	})
}

// SetNotifications replaces the notification list with a fetched page.
func (s *State) SetNotifications(page domain.NotificationPage) {
	s.update(func() {
		s.notifications = slices.Clone(page.Notifications)
		s.unread = page.UnreadCount
	})
}

// AddNotification prepends n.
func (s *State) AddNotification(n domain.Notification) {
	s.update(func() {
		s.notifications = append([]domain.Notification{n}, s.notifications...)
		if !n.IsRead {
			s.unread++
		}
	})
}

// MarkRead marks one notification read.
func (s *State) MarkRead(id string) {
	s.update(func() {
		for i := range s.notifications {
			if s.notifications[i].ID == id && !s.notifications[i].IsRead {
				s.notifications[i].IsRead = true
				s.unread = max(s.unread-1, 0)
			}
		}
	})
}

// MarkAllRead marks every notification read.
func (s *State) MarkAllRead() {
	s.update(func() {
		for i := range s.notifications {
			s.notifications[i].IsRead = true
		}
		s.unread = 0
	})
}

// RemoveNotification drops one notification.
func (s *State) RemoveNotification(id string) {
	s.update(func() {
		i := slices.IndexFunc(s.notifications, func(n domain.Notification) bool { return n.ID == id })
		if i < 0 {
			return
		}
		if !s.notifications[i].IsRead {
			s.unread = max(s.unread-1, 0)
		}
		s.notifications = slices.Delete(s.notifications, i, i+1)
	})
}

// Reset forgets everything. It runs when a different user logs in.
func (s *State) Reset() {
	s.update(func() {
		s.teams = nil
		s.current = ""
		s.teamChannels = make(map[string][]domain.Channel)
		s.userChannels = nil
		s.notifications = nil
		s.unread = 0
		s.removed = make(map[string]time.Time)
	})
}

func teamIndex(teams []domain.Team, id string) int {
	return slices.IndexFunc(teams, func(t domain.Team) bool { return t.ID == id })
}

func hasTeam(teams []domain.Team, id string) bool {
	return teamIndex(teams, id) >= 0
}

func channelIndex(cs []domain.Channel, id string) int {
	return slices.IndexFunc(cs, func(c domain.Channel) bool { return c.ID == id })
}

func sortChannels(cs []domain.Channel) []domain.Channel {
	sort.SliceStable(cs, func(i, j int) bool {
		return strings.ToLower(cs[i].Name) < strings.ToLower(cs[j].Name)
	})
	return cs
}
