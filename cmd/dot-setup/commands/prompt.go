package commands

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/dotsetup/dotsetup/pkg/engine"
)

// chooseTasks lets the user pick tasks with a multi-select. Tasks enabled by
// default start selected. The result keeps catalog order.
func chooseTasks(ctx context.Context, tasks []engine.Task) ([]engine.Task, error) {
	options := make([]huh.Option[string], 0, len(tasks))
	for _, t := range tasks {
		label := t.Name
		if t.RequiresPrivilege {
			label += " (sudo)"
		}
		options = append(options, huh.NewOption(label, t.ID).Selected(t.Enabled))
	}

	var selected []string
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewMultiSelect[string]().
				Title("Tasks").
				Description("space toggles, enter continues").
				Options(options...).
				Height(min(len(options)+2, 18)).
				Value(&selected),
		).Title("Select what to install"),
	).RunWithContext(ctx)
	if err != nil {
		return nil, err
	}

	chosen := make(map[string]bool, len(selected))
	for _, id := range selected {
		chosen[id] = true
	}
	out := make([]engine.Task, len(tasks))
	for i, t := range tasks {
		t.Enabled = chosen[t.ID]
		out[i] = t
	}
	return out, nil
}

// confirmRun asks for confirmation before a run.
func confirmRun(ctx context.Context, tasks []engine.Task) (bool, error) {
	names := make([]string, len(tasks))
	for i, t := range tasks {
		names[i] = "  - " + t.Name
	}

	ok := true
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Run %d task(s)?", len(tasks))).
				Description(strings.Join(names, "\n")).
				Affirmative("Run").
				Negative("Cancel").
				Value(&ok),
		),
	).RunWithContext(ctx)
	return ok, err
}

// promptPassword asks for the sudo password without echo.
func promptPassword(ctx context.Context) ([]byte, error) {
	var password string
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("sudo password").
				Description("Kept in memory for this run only").
				EchoMode(huh.EchoModePassword).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("password cannot be empty")
					}
					return nil
				}).
				Value(&password),
		),
	).RunWithContext(ctx)
	if err != nil {
		return nil, err
	}
	return []byte(password), nil
}

// readPasswordLine reads the first line of r as the password.
func readPasswordLine(r io.Reader) ([]byte, error) {
	line, err := bufio.NewReader(r).ReadBytes('\n')
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read password: %w", err)
	}
	line = bytes.TrimRight(line, "\r\n")
	if len(line) == 0 {
		return nil, fmt.Errorf("failed to read password: empty input")
	}
	return line, nil
}
