package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/huddlehq/huddle/pkg/session"
)

var (
	titleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#7dd3fc")).Bold(true)
	cmdStyle   = lipgloss.NewStyle().Bold(true)
	descStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#34d474"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#f0944a"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#e06060"))
)

func printHelp(out io.Writer) {
	commands := []struct{ cmd, desc string }{
		{"huddle", "Open the workspace (interactive TUI)"},
		{"huddle login", "Log in with email and password"},
		{"huddle register", "Create an account"},
		{"huddle status", "Show the session and token lifetime"},
		{"huddle refresh", "Renew the access token now"},
		{"huddle logout", "Revoke and clear your session"},
		{"huddle --version", "Show version"},
		{"huddle help", "You are here"},
	}

	fmt.Fprintf(out, "\n  %s\n\n  Commands:\n", titleStyle.Render("H U D D L E"))
	for _, c := range commands {
		fmt.Fprintf(out, "    %s  %s\n", cmdStyle.Render(fmt.Sprintf("%-20s", c.cmd)), descStyle.Render(c.desc))
	}
	fmt.Fprintf(out, "\n  %s\n\n", descStyle.Render("Settings: ~/.huddle/config.yaml or HUDDLE_* environment variables"))
}

func printStatus(out io.Writer, store *session.Store) {
	snap := store.Get()
	if snap.AccessToken == "" && snap.RefreshToken == "" {
		fmt.Fprintln(out, "Not logged in. Run `huddle login`.")
		return
	}

	who := "unknown user"
	if snap.User != nil {
		who = fmt.Sprintf("%s <%s>", snap.User.Name, snap.User.Email)
	}
	health := store.Health()
	style := okStyle
	switch health {
	case session.HealthWarning:
		style = warnStyle
	case session.HealthCritical, session.HealthExpired:
		style = errStyle
	}

	renewable := "no"
	if snap.RefreshToken != "" {
		renewable = "yes"
	}
	fmt.Fprintf(out, "%s %s\n", descStyle.Render("User:      "), cmdStyle.Render(who))
	fmt.Fprintf(out, "%s %s (%s)\n", descStyle.Render("Token:     "), style.Render(health.Label()), store.FormatTimeUntilExpiration())
	fmt.Fprintf(out, "%s %s\n", descStyle.Render("Renewable: "), renewable)
}
