package domain

// Realtime event names pushed by the server.
const (
	EventRemovedFromTeam     = "user:removed-from-team"
	EventChannelCreated      = "channel:created"
	EventChannelUpdated      = "channel:updated"
	EventChannelDeleted      = "channel:deleted"
	EventChannelMemberJoined = "channel:member:joined"
	EventConnectionRejected  = "connection:rejected"
)

// RemovedFromTeam is pushed when the current user loses access to a team.
type RemovedFromTeam struct {
	TeamID   string `json:"teamId"`
	TeamName string `json:"teamName"`
	Message  string `json:"message"`
}

// ChannelEvent carries a created or updated channel.
type ChannelEvent struct {
	TeamID  string  `json:"teamId"`
	Channel Channel `json:"channel"`
}

// ChannelDeleted is pushed when a channel is removed.
type ChannelDeleted struct {
	TeamID    string `json:"teamId"`
	ChannelID string `json:"channelId"`
}

// ChannelMemberJoined is pushed when a user joins a channel.
type ChannelMemberJoined struct {
	TeamID    string `json:"teamId"`
	ChannelID string `json:"channelId"`
	Member    Member `json:"member"`
}

// ConnectionRejected explains why the server refused the realtime channel.
type ConnectionRejected struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}
