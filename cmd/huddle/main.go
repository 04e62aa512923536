package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/huddlehq/huddle/internal/bootstrap"
	"github.com/huddlehq/huddle/internal/config"
	"github.com/huddlehq/huddle/internal/logger"
	"github.com/huddlehq/huddle/internal/tui"
	"github.com/huddlehq/huddle/pkg/client"
	"github.com/huddlehq/huddle/pkg/session"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, in io.Reader, out io.Writer) error {
	cmd := ""
	if len(args) > 0 {
		cmd = args[0]
	}

	switch cmd {
	case "--version", "version", "-v":
		fmt.Fprintln(out, "huddle "+version)
		return nil
	case "help", "--help", "-h":
		printHelp(out)
		return nil
	case "", "login", "register", "logout", "status", "refresh":
	default:
		printHelp(out)
		return fmt.Errorf("unknown command %q", cmd)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logFile, err := logger.OpenFile(cfg.LogPath())
	if err != nil {
		return err
	}
	defer logFile.Close() //nolint:errcheck
	log := logger.New(logger.Config{Level: cfg.Log.Level, Encoding: cfg.Log.Encoding}, logFile)

	rt, err := bootstrap.New(cfg, bootstrap.Options{Logger: log})
	if err != nil {
		return err
	}
	defer rt.Close() //nolint:errcheck

	switch cmd {
	case "login":
		return runLogin(ctx, rt, in, out)
	case "register":
		return runRegister(ctx, rt, in, out)
	case "logout":
		return runLogout(ctx, rt, out)
	case "status":
		return runStatus(rt, out)
	case "refresh":
		return runRefresh(ctx, rt, out)
	}
	return runTUI(ctx, rt, log)
}

func runTUI(ctx context.Context, rt *bootstrap.Runtime, log *zap.Logger) error {
	if _, err := rt.Start(ctx); err != nil {
		// Offline or a server error: open anyway, the views retry.
		log.Warn("starting without a restored session", zap.Error(err))
	}
	p := tea.NewProgram(tui.NewApp(rt), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("tui error: %w", err)
	}
	return nil
}

// prompter reads answers line by line.
type prompter struct {
	sc  *bufio.Scanner
	out io.Writer
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{sc: bufio.NewScanner(in), out: out}
}

func (p *prompter) ask(label string) (string, error) {
	fmt.Fprintf(p.out, "%s: ", label)
	if !p.sc.Scan() {
		if err := p.sc.Err(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("%s: no input", strings.ToLower(label))
	}
	answer := strings.TrimSpace(p.sc.Text())
	if answer == "" {
		return "", fmt.Errorf("%s is required", strings.ToLower(label))
	}
	return answer, nil
}

func runLogin(ctx context.Context, rt *bootstrap.Runtime, in io.Reader, out io.Writer) error {
	p := newPrompter(in, out)
	email, err := p.ask("Email")
	if err != nil {
		return err
	}
	password, err := p.ask("Password")
	if err != nil {
		return err
	}
	user, err := rt.Auth.Login(ctx, email, password)
	if err != nil {
		return errors.New(client.Message(err))
	}
	fmt.Fprintf(out, "\nLogged in as %s (%s)\n", user.Name, user.Email)
	return nil
}

func runRegister(ctx context.Context, rt *bootstrap.Runtime, in io.Reader, out io.Writer) error {
	p := newPrompter(in, out)
	name, err := p.ask("Name")
	if err != nil {
		return err
	}
	email, err := p.ask("Email")
	if err != nil {
		return err
	}
	password, err := p.ask("Password")
	if err != nil {
		return err
	}
	msg, err := rt.Auth.Register(ctx, name, email, password)
	if err != nil {
		return errors.New(client.Message(err))
	}
	if msg == "" {
		msg = "Account created"
	}
	fmt.Fprintf(out, "\n%s. Run `huddle login` to continue.\n", strings.TrimRight(msg, "."))
	return nil
}

func runLogout(ctx context.Context, rt *bootstrap.Runtime, out io.Writer) error {
	if err := rt.Store.Hydrate(); err != nil {
		return err
	}
	if snap := rt.Store.Get(); snap.AccessToken == "" && snap.RefreshToken == "" {
		fmt.Fprintln(out, "Already logged out.")
		return nil
	}
	if err := rt.Auth.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(out, "Logged out.")
	return nil
}

func runStatus(rt *bootstrap.Runtime, out io.Writer) error {
	if err := rt.Store.Hydrate(); err != nil {
		return err
	}
	printStatus(out, rt.Store)
	return nil
}

func runRefresh(ctx context.Context, rt *bootstrap.Runtime, out io.Writer) error {
	snap, err := rt.Auth.Restore(ctx)
	if err != nil {
		return err
	}
	if !snap.IsAuthenticated {
		fmt.Fprintln(out, "Not logged in. Run `huddle login`.")
		return nil
	}
	if err := rt.Auth.ForceRefresh(ctx); err != nil {
		if errors.Is(err, session.ErrSessionEnded) {
			return errors.New(client.Message(err))
		}
		return err
	}
	printStatus(out, rt.Store)
	return nil
}
