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

const notificationPageSize = 50

type notificationsLoadedMsg struct {
	page *domain.NotificationPage
	err  error
}

// notificationSyncedMsg reports the server side of a local change.
type notificationSyncedMsg struct {
	err error
}

type notificationsModel struct {
	api     *client.Client
	ws      *workspace.State
	cursor  int
	loading bool
	err     string
	width   int
}

func newNotificationsModel(api *client.Client, ws *workspace.State) notificationsModel {
	return notificationsModel{api: api, ws: ws}
}

func (m notificationsModel) Init() tea.Cmd {
	api := m.api
	return func() tea.Msg {
		page, err := api.ListNotifications(context.Background(), 1, notificationPageSize)
		return notificationsLoadedMsg{page: page, err: err}
	}
}

func (m notificationsModel) Update(msg tea.Msg) (notificationsModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width

	case notificationsLoadedMsg:
		m.loading = false
		if msg.err != nil {
			m.err = client.Message(msg.err)
			return m, failed(msg.err)
		}
		m.err = ""
		// Keep locally raised notifications the server has not seen.
		local := localNotifications(m.ws.Snapshot().Notifications)
		page := *msg.page
		page.Notifications = append(local, page.Notifications...)
		page.UnreadCount += unread(local)
		m.ws.SetNotifications(page)
		m.cursor = clampCursor(m.cursor, len(page.Notifications))

	case notificationSyncedMsg:
		if msg.err != nil {
			return m, failed(msg.err)
		}

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m notificationsModel) handleKey(msg tea.KeyMsg) (notificationsModel, tea.Cmd) {
	list := m.ws.Snapshot().Notifications
	switch msg.String() {
	case "j", "down":
		if m.cursor < len(list)-1 {
			m.cursor++
		}
	case "k", "up":
		if m.cursor > 0 {
			m.cursor--
		}
	case "r":
		m.loading = true
		return m, m.Init()
	case "enter", "m":
		if m.cursor < len(list) && !list[m.cursor].IsRead {
			n := list[m.cursor]
			m.ws.MarkRead(n.ID)
			if isLocal(n) {
				return m, nil
			}
			return m, m.sync(func(ctx context.Context) error { return m.api.MarkNotificationRead(ctx, n.ID) })
		}
	case "a":
		m.ws.MarkAllRead()
		return m, m.sync(m.api.MarkAllNotificationsRead)
	case "d":
		if m.cursor < len(list) {
			n := list[m.cursor]
			m.ws.RemoveNotification(n.ID)
			m.cursor = clampCursor(m.cursor, len(list)-1)
			if isLocal(n) {
				return m, nil
			}
			return m, m.sync(func(ctx context.Context) error { return m.api.DeleteNotification(ctx, n.ID) })
		}
	}
	return m, nil
}

func (m notificationsModel) sync(fn func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		return notificationSyncedMsg{err: fn(context.Background())}
	}
}

// isLocal reports whether n was raised on this device rather than fetched.
func isLocal(n domain.Notification) bool {
	return n.Type == domain.NotificationTeamRemoval
}

func localNotifications(ns []domain.Notification) []domain.Notification {
	var out []domain.Notification
	for _, n := range ns {
		if isLocal(n) {
			out = append(out, n)
		}
	}
	return out
}

func unread(ns []domain.Notification) int {
	n := 0
	for _, x := range ns {
		if !x.IsRead {
			n++
		}
	}
	return n
}

func (m notificationsModel) helpKeys() string {
	return helpBar(
		[2]string{"j/k", "nav"},
		[2]string{"enter", "mark read"},
		[2]string{"a", "all read"},
		[2]string{"d", "delete"},
		[2]string{"r", "reload"},
		[2]string{"q", "quit"},
	)
}

func (m notificationsModel) View() string {
	snap := m.ws.Snapshot()
	now := m.ws.Now()
	var b strings.Builder

	fmt.Fprintf(&b, "\n  %s\n\n", sectionHeaderStyle.Render(fmt.Sprintf("NOTIFICATIONS  %d unread", snap.UnreadCount)))

	switch {
	case m.loading && len(snap.Notifications) == 0:
		b.WriteString("  " + dimStyle.Render("loading notifications...") + "\n")
	case m.err != "" && len(snap.Notifications) == 0:
		b.WriteString("  " + errorStyle.Render(m.err) + "\n")
	case len(snap.Notifications) == 0:
		b.WriteString("  " + dimStyle.Render("You're all caught up.") + "\n")
	}

	for i, n := range snap.Notifications {
		cursor := "  "
		if i == m.cursor {
			cursor = inputPromptStyle.Render("> ")
		}
		dot := " "
		title := normalStyle.Render(n.Title)
		if !n.IsRead {
			dot = unreadDotStyle.Render("●")
			title = severityStyle(n.Severity).Bold(true).Render(n.Title)
		}
		fmt.Fprintf(&b, "  %s%s %s  %s\n", cursor, dot, title, metaStyle.Render(formatTime(now, n.CreatedAt)))
		if n.Message != "" {
			fmt.Fprintf(&b, "      %s\n", dimStyle.Render(truncStr(n.Message, max(m.width-8, 20))))
		}
	}
	return b.String()
}
