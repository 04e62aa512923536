package tui

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/huddlehq/huddle/pkg/client"
	"github.com/huddlehq/huddle/pkg/domain"
)

// authenticator is the part of session.Authenticator the login form needs.
type authenticator interface {
	Login(ctx context.Context, email, password string) (*domain.User, error)
	Register(ctx context.Context, name, email, password string) (string, error)
}

type authMode int

const (
	modeLogin authMode = iota
	modeRegister
)

type authField int

const (
	fieldName authField = iota
	fieldEmail
	fieldPassword
	numAuthFields
)

const minPasswordLen = 6

type loginDoneMsg struct {
	user *domain.User
	err  error
}

type registerDoneMsg struct {
	message string
	err     error
}

type authModel struct {
	auth      authenticator
	mode      authMode
	fields    [numAuthFields]string
	focus     authField
	status    string
	isError   bool
	submitted bool
}

func newAuthModel(a authenticator) authModel {
	return authModel{auth: a, focus: fieldEmail}
}

// reset clears the form for a fresh login, keeping the email and an
// optional reason to show.
func (m authModel) reset(reason string) authModel {
	email := m.fields[fieldEmail]
	m = newAuthModel(m.auth)
	m.fields[fieldEmail] = email
	if email != "" {
		m.focus = fieldPassword
	}
	m.status = reason
	m.isError = reason != ""
	return m
}

func (m authModel) firstField() authField {
	if m.mode == modeRegister {
		return fieldName
	}
	return fieldEmail
}

func (m authModel) Update(msg tea.Msg) (authModel, tea.Cmd) {
	switch msg := msg.(type) {
	case loginDoneMsg:
		m.submitted = false
		if msg.err != nil {
			m.status = client.Message(msg.err)
			m.isError = true
			m.fields[fieldPassword] = ""
			m.focus = fieldPassword
		}
		return m, nil

	case registerDoneMsg:
		m.submitted = false
		if msg.err != nil {
			m.status = client.Message(msg.err)
			m.isError = true
			return m, nil
		}
		email := m.fields[fieldEmail]
		m = newAuthModel(m.auth)
		m.fields[fieldEmail] = email
		m.focus = fieldPassword
		m.status = "Account created. Log in to continue."
		return m, nil

	case tea.KeyMsg:
		if m.submitted {
			return m, nil
		}
		return m.handleKey(msg)
	}
	return m, nil
}

func (m authModel) handleKey(msg tea.KeyMsg) (authModel, tea.Cmd) {
	switch msg.String() {
	case "ctrl+t":
		if m.mode == modeLogin {
			m.mode = modeRegister
		} else {
			m.mode = modeLogin
		}
		m.focus = m.firstField()
		m.status = ""
		return m, nil
	case "tab", "down":
		m.focus++
		if m.focus >= numAuthFields {
			m.focus = m.firstField()
		}
		return m, nil
	case "shift+tab", "up":
		if m.focus == m.firstField() {
			m.focus = numAuthFields - 1
		} else {
			m.focus--
		}
		return m, nil
	case "enter":
		if m.focus < fieldPassword {
			m.focus++
			return m, nil
		}
		return m.submit()
	}
	m.fields[m.focus] = editText(m.fields[m.focus], msg)
	return m, nil
}

func (m authModel) validate() string {
	name := strings.TrimSpace(m.fields[fieldName])
	email := strings.TrimSpace(m.fields[fieldEmail])
	password := m.fields[fieldPassword]

	if m.mode == modeRegister && name == "" {
		return "Name is required."
	}
	if email == "" {
		return "Email is required."
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return "Enter a valid email address."
	}
	if password == "" {
		return "Password is required."
	}
	if m.mode == modeRegister && len([]rune(password)) < minPasswordLen {
		return fmt.Sprintf("Password must be at least %d characters.", minPasswordLen)
	}
	return ""
}

func (m authModel) submit() (authModel, tea.Cmd) {
	if problem := m.validate(); problem != "" {
		m.status = problem
		m.isError = true
		return m, nil
	}
	m.submitted = true
	m.status = ""
	m.isError = false

	a := m.auth
	name := strings.TrimSpace(m.fields[fieldName])
	email := strings.TrimSpace(m.fields[fieldEmail])
	password := m.fields[fieldPassword]

	if m.mode == modeRegister {
		return m, func() tea.Msg {
			msg, err := a.Register(context.Background(), name, email, password)
			return registerDoneMsg{message: msg, err: err}
		}
	}
	return m, func() tea.Msg {
		user, err := a.Login(context.Background(), email, password)
		return loginDoneMsg{user: user, err: err}
	}
}

func (m authModel) View() string {
	var b strings.Builder

	title := "Log in"
	other := "create an account"
	if m.mode == modeRegister {
		title = "Create an account"
		other = "log in instead"
	}
	fmt.Fprintf(&b, "\n  %s\n\n", selectedStyle.Render(title))

	labels := [numAuthFields]string{"name", "email", "password"}
	for i := m.firstField(); i < numAuthFields; i++ {
		cursor := " "
		style := metaStyle
		if i == m.focus {
			cursor = inputPromptStyle.Render(">")
			style = selectedStyle
		}
		value := m.fields[i]
		if i == fieldPassword {
			value = mask(value)
		}
		if i == m.focus {
			value += accentStyle.Render("█")
		}
		fmt.Fprintf(&b, "  %s %s %s\n", cursor, style.Render(fmt.Sprintf("%-9s", labels[i])), normalStyle.Render(value))
	}

	b.WriteString("\n  ")
	switch {
	case m.submitted && m.mode == modeRegister:
		b.WriteString(dimStyle.Render("creating account..."))
	case m.submitted:
		b.WriteString(dimStyle.Render("logging in..."))
	case m.isError:
		b.WriteString(errorStyle.Render(m.status))
	case m.status != "":
		b.WriteString(okStyle.Render(m.status))
	}
	fmt.Fprintf(&b, "\n\n  %s\n", dimStyle.Render("ctrl+t to "+other))
	return b.String()
}
