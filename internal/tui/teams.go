package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/huddlehq/huddle/pkg/client"
	"github.com/huddlehq/huddle/pkg/domain"
	"github.com/huddlehq/huddle/pkg/workspace"
)

// -- messages --

type teamsLoadedMsg struct {
	teams       []domain.Team
	requestedAt time.Time
	err         error
}

type teamCreatedMsg struct {
	team *domain.Team
	err  error
}

// openTeamMsg asks the app to show a team's channels.
type openTeamMsg struct {
	teamID string
}

// -- model --

type teamsModel struct {
	api      *client.Client
	ws       *workspace.State
	userID   string
	cursor   int
	loading  bool
	err      string
	creating bool
	draft    string
	width    int
	height   int
}

func newTeamsModel(api *client.Client, ws *workspace.State) teamsModel {
	return teamsModel{api: api, ws: ws}
}

func (m teamsModel) Init() tea.Cmd {
	return m.load()
}

// load fetches the team list. The request time is recorded so teams
// removed while it is in flight stay removed.
func (m teamsModel) load() tea.Cmd {
	api, requestedAt := m.api, m.ws.Now()
	return func() tea.Msg {
		teams, err := api.ListTeams(context.Background())
		return teamsLoadedMsg{teams: teams, requestedAt: requestedAt, err: err}
	}
}

func (m teamsModel) Update(msg tea.Msg) (teamsModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case teamsLoadedMsg:
		m.loading = false
		if msg.err != nil {
			m.err = client.Message(msg.err)
			return m, failed(msg.err)
		}
		m.err = ""
		m.ws.SetTeams(msg.teams, msg.requestedAt)
		m.cursor = clampCursor(m.cursor, len(m.ws.Snapshot().Teams))

	case teamCreatedMsg:
		if msg.err != nil {
			return m, failed(msg.err)
		}
		m.ws.AddTeam(*msg.team)
		return m, notify(domain.SeverityInfo, fmt.Sprintf("Created team %s", msg.team.Name))

	case tea.KeyMsg:
		if m.creating {
			return m.handleDraftKey(msg)
		}
		return m.handleKey(msg)
	}
	return m, nil
}

func (m teamsModel) handleKey(msg tea.KeyMsg) (teamsModel, tea.Cmd) {
	teams := m.ws.Snapshot().Teams
	switch msg.String() {
	case "j", "down":
		if m.cursor < len(teams)-1 {
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
		if m.cursor < len(teams) {
			return m, copyCmd("team id", teams[m.cursor].ID)
		}
	case "enter":
		if m.cursor < len(teams) {
			id := teams[m.cursor].ID
			m.ws.SetCurrentTeam(id)
			return m, func() tea.Msg { return openTeamMsg{teamID: id} }
		}
	}
	return m, nil
}

func (m teamsModel) handleDraftKey(msg tea.KeyMsg) (teamsModel, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.creating = false
		m.draft = ""
	case "enter":
		name := strings.TrimSpace(m.draft)
		if name == "" {
			return m, nil
		}
		m.creating = false
		m.draft = ""
		api := m.api
		return m, func() tea.Msg {
			team, err := api.CreateTeam(context.Background(), client.TeamRequest{Name: name})
			return teamCreatedMsg{team: team, err: err}
		}
	default:
		m.draft = editText(m.draft, msg)
	}
	return m, nil
}

func (m teamsModel) editing() bool {
	return m.creating
}

func (m teamsModel) helpKeys() string {
	if m.creating {
		return helpBar([2]string{"enter", "create"}, [2]string{"esc", "cancel"})
	}
	return helpBar(
		[2]string{"j/k", "nav"},
		[2]string{"enter", "channels"},
		[2]string{"n", "new team"},
		[2]string{"c", "copy id"},
		[2]string{"r", "reload"},
		[2]string{"h", "help"},
		[2]string{"q", "quit"},
	)
}

func (m teamsModel) View() string {
	snap := m.ws.Snapshot()
	var b strings.Builder

	fmt.Fprintf(&b, "\n  %s\n\n", sectionHeaderStyle.Render(fmt.Sprintf("TEAMS  %d", len(snap.Teams))))

	switch {
	case m.loading && len(snap.Teams) == 0:
		b.WriteString("  " + dimStyle.Render("loading teams...") + "\n")
	case m.err != "" && len(snap.Teams) == 0:
		b.WriteString("  " + errorStyle.Render(m.err) + "\n")
	case len(snap.Teams) == 0:
		b.WriteString("  " + dimStyle.Render("No teams yet. Press n to create one.") + "\n")
	}

	for i, t := range snap.Teams {
		cursor := "  "
		name := normalStyle.Render(truncStr(t.Name, 32))
		if i == m.cursor {
			cursor = inputPromptStyle.Render("> ")
			name = selectedStyle.Render(truncStr(t.Name, 32))
		}
		role := ""
		switch {
		case t.IsOwner(m.userID):
			role = " " + accentStyle.Render("owner")
		case t.HasMember(m.userID):
			role = " " + metaStyle.Render("member")
		}
		current := ""
		if t.ID == snap.CurrentTeamID {
			current = " " + okStyle.Render("●")
		}
		members := metaStyle.Render(fmt.Sprintf("%d members", len(t.Members)))
		fmt.Fprintf(&b, "  %s%s%s%s  %s\n", cursor, name, current, role, members)
		if i == m.cursor && t.Description != "" {
			fmt.Fprintf(&b, "      %s\n", dimStyle.Render(truncStr(t.Description, max(m.width-8, 20))))
		}
	}

	if m.creating {
		fmt.Fprintf(&b, "\n  %s %s%s\n", inputPromptStyle.Render("new team:"), normalStyle.Render(m.draft), accentStyle.Render("█"))
	}
	return b.String()
}
