package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/huddlehq/huddle/internal/bootstrap"
	"github.com/huddlehq/huddle/internal/browser"
	"github.com/huddlehq/huddle/pkg/client"
	"github.com/huddlehq/huddle/pkg/domain"
	"github.com/huddlehq/huddle/pkg/realtime"
	"github.com/huddlehq/huddle/pkg/session"
	"github.com/huddlehq/huddle/pkg/workspace"
)

type view int

const (
	viewLogin view = iota
	viewTeams
	viewChannels
	viewNotifications
)

const toastDuration = 4 * time.Second

// Replaced in tests.
var (
	writeClipboard = clipboard.WriteAll
	openURL        = browser.Open
)

// -- messages --

// eventMsg carries one runtime event into the update loop.
type eventMsg bootstrap.Event

// apiFailedMsg reports a failed API call from any view.
type apiFailedMsg struct {
	err error
}

// noticeMsg shows a toast.
type noticeMsg workspace.Notice

type toastExpiredMsg struct {
	id int
}

type loggedOutMsg struct {
	err error
}

type refreshedMsg struct {
	err error
}

func failed(err error) tea.Cmd {
	return func() tea.Msg { return apiFailedMsg{err: err} }
}

func notify(severity, text string) tea.Cmd {
	return func() tea.Msg { return noticeMsg{Severity: severity, Message: text} }
}

func copyCmd(label, value string) tea.Cmd {
	return func() tea.Msg {
		if err := writeClipboard(value); err != nil {
			return noticeMsg{Severity: domain.SeverityWarning, Message: "Clipboard unavailable: " + value}
		}
		return noticeMsg{Severity: domain.SeverityInfo, Message: "Copied " + label}
	}
}

// waitForEvent blocks on the runtime's event stream. It is re-armed after
// every event so exactly one read is pending at a time.
func waitForEvent(events <-chan bootstrap.Event) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-events
		if !ok {
			return nil
		}
		return eventMsg(e)
	}
}

// App is the root Bubbletea model.
type App struct {
	rt            *bootstrap.Runtime
	view          view
	auth          authModel
	teams         teamsModel
	channels      channelsModel
	notifications notificationsModel
	session       session.Session
	socket        realtime.State
	toast         *workspace.Notice
	toastID       int
	helpOpen      bool
	helpCursor    int
	width         int
	height        int
	frame         int // logo shimmer animation frame
}

// NewApp creates the TUI over a started runtime.
func NewApp(rt *bootstrap.Runtime) App {
	a := App{
		rt:            rt,
		auth:          newAuthModel(rt.Auth),
		teams:         newTeamsModel(rt.API, rt.Workspace),
		channels:      newChannelsModel(rt.API, rt.Workspace),
		notifications: newNotificationsModel(rt.API, rt.Workspace),
		session:       rt.Store.Get(),
		socket:        rt.Socket.Status(),
	}
	a.teams.userID = a.session.UserID()
	if a.session.IsAuthenticated {
		a.view = viewTeams
		a.teams.loading = true
	}
	return a
}

func (a App) Init() tea.Cmd {
	cmds := []tea.Cmd{shimmerTickCmd(), waitForEvent(a.rt.Events())}
	if a.view != viewLogin {
		cmds = append(cmds, a.teams.Init(), a.notifications.Init())
	}
	return tea.Batch(cmds...)
}

func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.teams, _ = a.teams.Update(msg)
		a.channels, _ = a.channels.Update(msg)
		a.notifications, _ = a.notifications.Update(msg)
		return a, nil

	case shimmerTickMsg:
		a.frame++
		return a, shimmerTickCmd()

	case eventMsg:
		next, cmd := a.handleEvent(bootstrap.Event(msg))
		return next, tea.Batch(cmd, waitForEvent(a.rt.Events()))

	case loginDoneMsg:
		a.auth, _ = a.auth.Update(msg)
		if msg.err != nil {
			return a, nil
		}
		return a.toWorkspace()

	case registerDoneMsg:
		var cmd tea.Cmd
		a.auth, cmd = a.auth.Update(msg)
		return a, cmd

	case loggedOutMsg:
		if msg.err != nil {
			return a.showToast(workspace.Notice{Severity: domain.SeverityError, Message: client.Message(msg.err)})
		}
		return a.toLogin("")

	case refreshedMsg:
		if msg.err != nil {
			return a.handleFailure(msg.err)
		}
		return a.showToast(workspace.Notice{Severity: domain.SeverityInfo, Message: "Session renewed"})

	case apiFailedMsg:
		return a.handleFailure(msg.err)

	case noticeMsg:
		return a.showToast(workspace.Notice(msg))

	case toastExpiredMsg:
		if msg.id == a.toastID {
			a.toast = nil
		}
		return a, nil

	case openTeamMsg:
		a.view = viewChannels
		var cmd tea.Cmd
		a.channels, cmd = a.channels.open(msg.teamID)
		if err := a.rt.Socket.JoinTeamRoom(msg.teamID); err != nil {
			a.rt.Logger.Debug("join team room skipped", zap.Error(err))
		}
		return a, cmd

	case backMsg:
		if a.channels.teamID != "" {
			_ = a.rt.Socket.LeaveTeamRoom(a.channels.teamID)
		}
		a.view = viewTeams
		return a, nil

	case tea.KeyMsg:
		if a.helpOpen {
			return a.handleHelpKey(msg)
		}
		if msg.String() == "ctrl+c" {
			return a, tea.Quit
		}
		if a.view != viewLogin && !a.isEditing() {
			if m, cmd, ok := a.handleGlobalKey(msg); ok {
				return m, cmd
			}
		}
	}

	return a.routeToView(msg)
}

func (a App) routeToView(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch msg.(type) {
	case teamsLoadedMsg, teamCreatedMsg:
		a.teams, cmd = a.teams.Update(msg)
		return a, cmd
	case channelsLoadedMsg, channelCreatedMsg:
		a.channels, cmd = a.channels.Update(msg)
		return a, cmd
	case notificationsLoadedMsg, notificationSyncedMsg:
		a.notifications, cmd = a.notifications.Update(msg)
		return a, cmd
	}

	switch a.view {
	case viewLogin:
		a.auth, cmd = a.auth.Update(msg)
	case viewTeams:
		a.teams, cmd = a.teams.Update(msg)
	case viewChannels:
		a.channels, cmd = a.channels.Update(msg)
	case viewNotifications:
		a.notifications, cmd = a.notifications.Update(msg)
	}
	return a, cmd
}

func (a App) handleEvent(e bootstrap.Event) (App, tea.Cmd) {
	switch e.Kind {
	case bootstrap.EventSessionChanged:
		a.session = e.Session
		a.teams.userID = e.Session.UserID()
		if e.Session.AccessToken == "" && a.view != viewLogin {
			m, cmd := a.toLogin("")
			return m.(App), cmd
		}
	case bootstrap.EventSessionEnded:
		m, cmd := a.toLogin(client.Message(session.ErrSessionEnded))
		return m.(App), cmd
	case bootstrap.EventSocketStatus:
		a.socket = e.Socket
	case bootstrap.EventNotice:
		m, cmd := a.showToast(e.Notice)
		return m.(App), cmd
	}
	return a, nil
}

func (a App) handleFailure(err error) (tea.Model, tea.Cmd) {
	if client.Classify(err) == client.OutcomeSessionEnded {
		return a.toLogin(client.Message(err))
	}
	return a.showToast(workspace.Notice{Severity: domain.SeverityError, Message: client.Message(err)})
}

// toLogin shows the login form. Several signals can report the same ended
// session; only the first one resets the form.
func (a App) toLogin(reason string) (tea.Model, tea.Cmd) {
	if a.view == viewLogin {
		if reason != "" && a.auth.status == "" && !a.auth.submitted {
			a.auth.status = reason
			a.auth.isError = true
		}
		return a, nil
	}
	a.view = viewLogin
	a.helpOpen = false
	a.auth = a.auth.reset(reason)
	a.channels.teamID = ""
	return a, nil
}

func (a App) toWorkspace() (tea.Model, tea.Cmd) {
	a.session = a.rt.Store.Get()
	a.teams.userID = a.session.UserID()
	a.view = viewTeams
	a.teams.loading = true
	return a, tea.Batch(a.teams.Init(), a.notifications.Init())
}

func (a App) showToast(n workspace.Notice) (tea.Model, tea.Cmd) {
	a.toastID++
	a.toast = &n
	id := a.toastID
	return a, tea.Tick(toastDuration, func(time.Time) tea.Msg { return toastExpiredMsg{id: id} })
}

func (a App) handleHelpKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "h", "esc":
		a.helpOpen = false
	case "q", "ctrl+c":
		return a, tea.Quit
	case "j", "down":
		if a.helpCursor < len(helpItems)-1 {
			a.helpCursor++
		}
	case "k", "up":
		if a.helpCursor > 0 {
			a.helpCursor--
		}
	case "enter":
		if err := openURL(helpItems[a.helpCursor].url); err != nil {
			return a.showToast(workspace.Notice{Severity: domain.SeverityWarning, Message: "Could not open a browser"})
		}
	}
	return a, nil
}

func (a App) handleGlobalKey(msg tea.KeyMsg) (tea.Model, tea.Cmd, bool) {
	switch msg.String() {
	case "q":
		return a, tea.Quit, true
	case "h", "?":
		a.helpOpen = true
		a.helpCursor = 0
		return a, nil, true
	case "1":
		if a.view == viewNotifications {
			a.view = viewTeams
		}
		return a, nil, true
	case "2":
		if a.view != viewNotifications {
			a.view = viewNotifications
			a.notifications.loading = true
			return a, a.notifications.Init(), true
		}
		return a, nil, true
	case "L":
		auth := a.rt.Auth
		return a, func() tea.Msg {
			return loggedOutMsg{err: auth.Logout(context.Background())}
		}, true
	case "R":
		auth := a.rt.Auth
		return a, func() tea.Msg {
			return refreshedMsg{err: auth.ForceRefresh(context.Background())}
		}, true
	}
	return a, nil, false
}

func (a App) isEditing() bool {
	switch a.view {
	case viewLogin:
		return true
	case viewTeams:
		return a.teams.editing()
	case viewChannels:
		return a.channels.editing()
	}
	return false
}

// statusLine shows who is logged in, the token's remaining lifetime and
// the realtime connection.
func (a App) statusLine() string {
	if !a.session.IsAuthenticated {
		return metaStyle.Render("not logged in") + "  " + socketBadge(a.socket)
	}
	who := a.session.UserID()
	if u := a.session.User; u != nil && u.Name != "" {
		who = accentStyle.Render(u.Initial()) + " " + selectedStyle.Render(u.Name)
	} else {
		who = selectedStyle.Render(who)
	}
	health := a.rt.Store.Health()
	token := healthStyle(health).Render(health.Label()) + " " + dimStyle.Render(a.rt.Store.FormatTimeUntilExpiration())
	return who + metaStyle.Render(" . ") + token + metaStyle.Render(" . ") + socketBadge(a.socket)
}

func center(s string, width int) string {
	pad := (width - lipgloss.Width(s)) / 2
	if pad < 0 {
		pad = 0
	}
	return strings.Repeat(" ", pad) + s
}

func (a App) tabBar() string {
	if a.view == viewLogin {
		return ""
	}
	tab := func(key, name string, active bool) string {
		if active {
			return accentStyle.Render(key) + " " + selectedStyle.Underline(true).Render(name)
		}
		return metaStyle.Render(key) + " " + dimStyle.Render(name)
	}
	teams := tab("1", "Teams", a.view == viewTeams || a.view == viewChannels)
	notes := tab("2", "Notifications", a.view == viewNotifications)
	if n := a.rt.Workspace.Snapshot().UnreadCount; n > 0 {
		notes += " " + unreadDotStyle.Render("●") + dimStyle.Render(fmt.Sprintf("%d", n))
	}
	return center(teams+"      "+notes, a.width)
}

func (a App) View() string {
	header := center(renderShimmerLogo(a.frame), a.width) + "\n" + center(a.statusLine(), a.width)

	var body, help string
	switch a.view {
	case viewLogin:
		body = a.auth.View()
		help = helpBar([2]string{"tab", "next"}, [2]string{"enter", "submit"}, [2]string{"ctrl+t", "switch"}, [2]string{"ctrl+c", "quit"})
	case viewTeams:
		body = a.teams.View()
		help = a.teams.helpKeys()
	case viewChannels:
		body = a.channels.View()
		help = a.channels.helpKeys()
	case viewNotifications:
		body = a.notifications.View()
		help = a.notifications.helpKeys()
	}
	if a.view != viewLogin && !a.isEditing() {
		help += "  " + helpEntry("R", "renew") + "  " + helpEntry("L", "logout")
	}

	if a.helpOpen {
		body = helpView(a.helpCursor)
		help = helpBar([2]string{"j/k", "nav"}, [2]string{"enter", "open"}, [2]string{"esc", "close"})
	}

	toast := ""
	if a.toast != nil {
		style := severityStyle(a.toast.Severity)
		text := a.toast.Message
		if a.toast.Title != "" {
			text = style.Bold(true).Render(a.toast.Title) + " " + normalStyle.Render(text)
		} else {
			text = style.Render(text)
		}
		toast = toastBorder.BorderForeground(style.GetForeground()).Render(text)
	}

	// Chrome: header(2) + tabs(1) + toast(3) + help(1)
	chrome := 7
	body = strings.TrimRight(truncateToHeight(body, a.height-chrome), "\n")

	return fmt.Sprintf("%s\n%s\n%s\n%s\n%s", header, a.tabBar(), body, toast, help)
}
