package policy

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/dotsetup/dotsetup/pkg/engine"
)

func lines(cmds ...string) []engine.Command {
	out := make([]engine.Command, len(cmds))
	for i, c := range cmds {
		out[i] = engine.Command{Line: c}
	}
	return out
}

var scripted = engine.ResolverFunc(func(task engine.Task) ([]engine.Command, error) {
	switch task.ID {
	case "good":
		return lines("dnf install -y git"), nil
	case "bad":
		return lines("dnf install -y git", "sudo systemctl restart sshd"), nil
	case "empty":
		return nil, nil
	default:
		return nil, errors.New("unknown task")
	}
})

func TestGuardResolve(t *testing.T) {
	guard := NewGuard(context.Background(), scripted, newTestEngine(t), zerolog.Nop())

	cmds, err := guard.Resolve(engine.Task{ID: "good"})
	if err != nil || len(cmds) != 1 {
		t.Fatalf("Expected one command, got %v, %v", cmds, err)
	}

	cmds, err = guard.Resolve(engine.Task{ID: "bad"})
	var denied *DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("Expected *DeniedError, got %v", err)
	}
	if cmds != nil {
		t.Errorf("Blocked task must not return commands, got %v", cmds)
	}
	if denied.Violations[0].Command != "sudo systemctl restart sshd" {
		t.Errorf("Unexpected violation: %+v", denied.Violations[0])
	}

	cmds, err = guard.Resolve(engine.Task{ID: "empty"})
	if err != nil || len(cmds) != 0 {
		t.Errorf("Empty task should pass through, got %v, %v", cmds, err)
	}

	if _, err := guard.Resolve(engine.Task{ID: "other"}); err == nil || err.Error() != "unknown task" {
		t.Errorf("Resolver error should pass through, got %v", err)
	}
}

func TestGuardFailsOnlyBlockedStep(t *testing.T) {
	code := 0
	var executed []string
	exec := engine.ExecutorFunc(func(ctx context.Context, cmd engine.Command, credential []byte) engine.ExecResult {
		executed = append(executed, cmd.Line)
		return engine.ExecResult{Success: true, ExitCode: &code}
	})

	guard := NewGuard(context.Background(), scripted, newTestEngine(t), zerolog.Nop())
	orch := engine.NewOrchestrator(exec, guard)

	_, err := orch.Start(context.Background(), []engine.Task{
		{ID: "good", Name: "Good", Enabled: true},
		{ID: "bad", Name: "Bad", Enabled: true},
		{ID: "good", Name: "Good again", Enabled: true},
	}, nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	result, err := orch.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	if result.Status != engine.RunStatusPartial || result.Completed != 2 || result.Failed != 1 {
		t.Errorf("Unexpected result: %+v", result)
	}
	if len(executed) != 2 {
		t.Errorf("Blocked task must not execute anything, executed %v", executed)
	}

	log := strings.Join(orch.SnapshotLog(), "\n")
	if !strings.Contains(log, "blocked by policy: inline-sudo") {
		t.Errorf("Log should explain the block:\n%s", log)
	}
}
