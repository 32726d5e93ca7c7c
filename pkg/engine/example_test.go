package engine_test

import (
	"context"
	"fmt"
	"strings"

	"github.com/dotsetup/dotsetup/pkg/engine"
)

// echoExecutor pretends every command succeeds and echoes its line.
type echoExecutor struct{}

func (echoExecutor) Execute(_ context.Context, cmd engine.Command, _ []byte) engine.ExecResult {
	code := 0
	return engine.ExecResult{
		StdoutLines: []string{strings.TrimPrefix(cmd.Line, "echo ")},
		Success:     true,
		ExitCode:    &code,
	}
}

// Example_run demonstrates a complete run over two enabled tasks.
func Example_run() {
	tasks := engine.NewTaskList([]engine.Task{
		{ID: "hello", Name: "Saying hello", Enabled: true},
		{ID: "skipped", Name: "Never runs", Enabled: false},
		{ID: "bye", Name: "Saying goodbye", Enabled: true},
	})

	resolver := engine.ResolverFunc(func(t engine.Task) ([]engine.Command, error) {
		return []engine.Command{{Line: "echo " + t.ID}}, nil
	})

	orch := engine.NewOrchestrator(echoExecutor{}, resolver,
		engine.WithCompletionHints())

	if _, err := orch.Start(context.Background(), tasks.Tasks(), nil); err != nil {
		fmt.Println("start:", err)
		return
	}
	<-orch.Done()

	for _, line := range orch.SnapshotLog() {
		if line != "" {
			fmt.Println(line)
		}
	}
	for _, step := range orch.SnapshotSteps() {
		fmt.Printf("%s: %s\n", step.TaskID, step.Status)
	}
	fmt.Println(orch.Result().Status)

	// Output:
	// === Saying hello ===
	// hello
	// ✓ Saying hello completed
	// === Saying goodbye ===
	// bye
	// ✓ Saying goodbye completed
	// === Setup complete! ===
	// hello: completed
	// bye: completed
	// succeeded
}

// Example_logBuffer shows the batch eviction of a full buffer.
func Example_logBuffer() {
	buf := engine.NewLogBuffer(4)
	for i := 1; i <= 5; i++ {
		buf.Append(fmt.Sprintf("line %d", i))
	}
	fmt.Println(buf.Snapshot())

	// Output:
	// [line 3 line 4 line 5]
}
