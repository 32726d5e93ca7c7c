// Package policy checks the shell commands dot-setup is about to run against
// Open Policy Agent (Rego) policies.
//
// Each command line a task resolves to is evaluated as one input document:
//
//	{
//	  "task":       {"id": "core-packages", "name": "...", "privileged": true},
//	  "command":    "dnf install -y git zsh",
//	  "privileged": true,
//	  "context":    {"operation": "run", "root": false, "timestamp": "..."}
//	}
//
// A policy is a Rego v1 module defining a deny set. Each element is either a
// string message or an object with "message" and an optional "severity":
//
//	package dotsetup.policies.nosnap
//
//	import rego.v1
//
//	deny contains violation if {
//		startswith(input.command, "snap ")
//		violation := {"message": "snap is not used on this machine", "severity": "error"}
//	}
//
// Violations with severity error or critical block the task; info and warning
// are reported only.
//
// # Built-in policies
//
//   - inline-sudo (error): command lines must not call sudo themselves
//   - https-only (error): no plain http downloads
//   - destructive-commands (critical): rm -rf of / or $HOME, mkfs, dd to a device
//   - remote-script (warning): curl or wget output executed by a shell
//   - privileged-home (warning): privileged commands touching $HOME
//
// # Usage
//
// The engine is wired in front of the catalog with a Guard, so a blocked
// task fails its own step and the run continues:
//
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//	if err := eng.LoadPolicies(ctx, []string{policyDir}); err != nil {
//	    return err
//	}
//	orch := engine.NewOrchestrator(shell, policy.NewGuard(ctx, catalog, eng, logger))
//
// The validate command calls CheckTasks to report violations for every task
// without running anything.
//
// Extra policies are read from .rego files (named after the file, severity
// from a "# severity: <level>" header comment) and .json files holding a
// serialized Policy.
package policy
