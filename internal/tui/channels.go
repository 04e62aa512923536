package tui

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/huddlehq/huddle/pkg/client"
	"github.com/huddlehq/huddle/pkg/domain"
	"github.com/huddlehq/huddle/pkg/workspace"
)

type channelsLoadedMsg struct {
	teamID   string
	channels []domain.Channel
	err      error
}

type channelCreatedMsg struct {
	teamID  string
	channel *domain.Channel
	err     error
}

// backMsg asks the app to return to the team list.
type backMsg struct{}

type channelsModel struct {
	api      *client.Client
	ws       *workspace.State
	teamID   string
	cursor   int
	loading  bool
	err      string
	creating bool
	draft    string
	width    int
}

func newChannelsModel(api *client.Client, ws *workspace.State) channelsModel {
	return channelsModel{api: api, ws: ws}
}

// open switches to teamID and fetches its channels.
func (m channelsModel) open(teamID string) (channelsModel, tea.Cmd) {
	m.teamID = teamID
	m.cursor = 0
	m.err = ""
	m.creating = false
	m.loading = true
	return m, m.load()
}

func (m channelsModel) load() tea.Cmd {
	api, teamID := m.api, m.teamID
	return func() tea.Msg {
		channels, err := api.ListTeamChannels(context.Background(), teamID)
		return channelsLoadedMsg{teamID: teamID, channels: channels, err: err}
	}
}

func (m channelsModel) channels() []domain.Channel {
	return m.ws.Snapshot().TeamChannels[m.teamID]
}

func (m channelsModel) Update(msg tea.Msg) (channelsModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width

	case channelsLoadedMsg:
		if msg.teamID != m.teamID {
			return m, nil
		}
		m.loading = false
		if msg.err != nil {
			m.err = client.Message(msg.err)
			return m, failed(msg.err)
		}
		m.err = ""
		m.ws.SetTeamChannels(msg.teamID, msg.channels)
		m.cursor = clampCursor(m.cursor, len(m.channels()))

	case channelCreatedMsg:
		if msg.err != nil {
			return m, failed(msg.err)
		}
		m.ws.AddChannel(msg.teamID, *msg.channel)
		return m, notify(domain.SeverityInfo, fmt.Sprintf("Created #%s", msg.channel.Name))

	case tea.KeyMsg:
		if m.creating {
			return m.handleDraftKey(msg)
		}
		return m.handleKey(msg)
	}
	return m, nil
}

func (m channelsModel) handleKey(msg tea.KeyMsg) (channelsModel, tea.Cmd) {
	channels := m.channels()
	switch msg.String() {
	case "j", "down":
		if m.cursor < len(channels)-1 {
			m.cursor++
		}
	case "k", "up":
		if m.cursor > 0 {
			m.cursor--
		}
	case "r":
		m.loading = true
		return m, m.load()
	case "n":
		m.creating = true
		m.draft = ""
	case "c":
		if m.cursor < len(channels) {
			return m, copyCmd("channel id", channels[m.cursor].ID)
		}
	case "esc", "backspace":
		return m, func() tea.Msg { return backMsg{} }
	}
	return m, nil
}

func (m channelsModel) handleDraftKey(msg tea.KeyMsg) (channelsModel, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.creating = false
		m.draft = ""
	case "enter":
		name := strings.TrimSpace(strings.TrimPrefix(m.draft, "#"))
		if name == "" {
			return m, nil
		}
		m.creating = false
		m.draft = ""
		api, teamID := m.api, m.teamID
		return m, func() tea.Msg {
			ch, err := api.CreateChannel(context.Background(), teamID, client.ChannelRequest{Name: name})
			return channelCreatedMsg{teamID: teamID, channel: ch, err: err}
		}
	default:
		m.draft = editText(m.draft, msg)
	}
	return m, nil
}

func (m channelsModel) editing() bool {
	return m.creating
}

func (m channelsModel) helpKeys() string {
	if m.creating {
		return helpBar([2]string{"enter", "create"}, [2]string{"esc", "cancel"})
	}
	return helpBar(
		[2]string{"j/k", "nav"},
		[2]string{"n", "new channel"},
		[2]string{"c", "copy id"},
		[2]string{"r", "reload"},
		[2]string{"esc", "teams"},
		[2]string{"q", "quit"},
	)
}

func (m channelsModel) View() string {
	snap := m.ws.Snapshot()
	var b strings.Builder

	team, ok := snap.CurrentTeam()
	if !ok || team.ID != m.teamID {
		b.WriteString("\n  " + dimStyle.Render("This team is no longer available.") + "\n")
		return b.String()
	}
	channels := snap.TeamChannels[m.teamID]
	fmt.Fprintf(&b, "\n  %s  %s\n\n", selectedStyle.Render(team.Name), sectionHeaderStyle.Render(fmt.Sprintf("CHANNELS  %d", len(channels))))

	switch {
	case m.loading && len(channels) == 0:
		b.WriteString("  " + dimStyle.Render("loading channels...") + "\n")
	case m.err != "" && len(channels) == 0:
		b.WriteString("  " + errorStyle.Render(m.err) + "\n")
	case len(channels) == 0:
		b.WriteString("  " + dimStyle.Render("No channels yet. Press n to create one.") + "\n")
	}

	for i, ch := range channels {
		cursor := "  "
		name := normalStyle.Render("#" + ch.Name)
		if i == m.cursor {
			cursor = inputPromptStyle.Render("> ")
			name = selectedStyle.Render("#" + ch.Name)
		}
		lock := ""
		if ch.IsPrivate {
			lock = " " + metaStyle.Render("private")
		}
		members := metaStyle.Render(fmt.Sprintf("%d members", len(ch.Members)))
		fmt.Fprintf(&b, "  %s%s%s  %s\n", cursor, name, lock, members)
		if i == m.cursor && ch.Description != "" {
			fmt.Fprintf(&b, "      %s\n", dimStyle.Render(truncStr(ch.Description, max(m.width-8, 20))))
		}
	}

	if m.creating {
		fmt.Fprintf(&b, "\n  %s #%s%s\n", inputPromptStyle.Render("new channel:"), normalStyle.Render(m.draft), accentStyle.Render("█"))
	}
	return b.String()
}
