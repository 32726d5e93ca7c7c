package policy

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		inlineSudoPolicy(),
		httpsOnlyPolicy(),
		destructiveCommandsPolicy(),
		remoteScriptPolicy(),
		privilegedHomePolicy(),
	}
}

// inlineSudoPolicy rejects command lines that call sudo themselves. The
// executor wraps privileged tasks, so an inner sudo would read the password
// pipe a second time or hang on a prompt.
func inlineSudoPolicy() Policy {
	return Policy{
		Name:        "inline-sudo",
		Description: "Commands must not call sudo; mark the task privileged instead",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package dotsetup.policies.sudo

import rego.v1

deny contains violation if {
	regex.match("(^|[;&|([:space:]])sudo([[:space:]]|$)", input.command)
	violation := {
		"message": sprintf("%s calls sudo directly; mark the task privileged instead", [input.task.id]),
	}
}
`,
	}
}

// httpsOnlyPolicy rejects plain http downloads.
func httpsOnlyPolicy() Policy {
	return Policy{
		Name:        "https-only",
		Description: "Packages, repositories and scripts must be fetched over https",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package dotsetup.policies.https

import rego.v1

deny contains violation if {
	some url in regex.find_n("http://[^[:space:]\"']+", input.command, -1)
	violation := {
		"message": sprintf("%s downloads %s over plain http", [input.task.id, url]),
	}
}
`,
	}
}

// destructiveCommandsPolicy rejects commands that wipe the root or home
// directory or write to block devices.
func destructiveCommandsPolicy() Policy {
	return Policy{
		Name:        "destructive-commands",
		Description: "Blocks recursive deletes of / or $HOME, mkfs and dd to devices",
		Severity:    SeverityCritical,
		Enabled:     true,
		Rego: `package dotsetup.policies.destructive

import rego.v1

patterns := [
	"rm[[:space:]]+(-[[:alpha:]]+[[:space:]]+)*-[[:alpha:]]*[rR][[:alpha:]]*[[:space:]]+(-[[:alpha:]]+[[:space:]]+)*(/|/[*]|~/?|[$]HOME/?|\"[$]HOME/?\")([[:space:];&|]|$)",
	"(^|[[:space:];&|])mkfs([.][[:alnum:]]+)?([[:space:]]|$)",
	"(^|[[:space:];&|])dd[[:space:]].*of=/dev/",
]

deny contains violation if {
	some pattern in patterns
	regex.match(pattern, input.command)
	violation := {
		"message": sprintf("%s runs a destructive command: %s", [input.task.id, input.command]),
	}
}
`,
	}
}

// remoteScriptPolicy flags scripts piped from the network into a shell.
func remoteScriptPolicy() Policy {
	return Policy{
		Name:        "remote-script",
		Description: "Flags scripts downloaded and executed at run time",
		Severity:    SeverityWarning,
		Enabled:     true,
		Rego: `package dotsetup.policies.remote

import rego.v1

piped if regex.match("(curl|wget)[^|]*[|][[:space:]]*(sudo[[:space:]]+)?(/usr)?(/bin/)?(ba|z)?sh([[:space:]]|$)", input.command)

substituted if regex.match("[$][(][[:space:]]*(curl|wget)[[:space:]]", input.command)

deny contains violation if {
	piped
	violation := {"message": sprintf("%s pipes a downloaded script into a shell", [input.task.id])}
}

deny contains violation if {
	substituted
	violation := {"message": sprintf("%s runs a script downloaded at run time", [input.task.id])}
}
`,
	}
}

// privilegedHomePolicy flags privileged commands touching the home
// directory, which leaves root-owned files behind.
func privilegedHomePolicy() Policy {
	return Policy{
		Name:        "privileged-home",
		Description: "Flags privileged commands that write under $HOME",
		Severity:    SeverityWarning,
		Enabled:     true,
		Rego: `package dotsetup.policies.home

import rego.v1

deny contains violation if {
	input.privileged
	not input.context.root
	regex.match("(^|[[:space:]=\"'])(~/|[$]HOME|[$][{]HOME[}])", input.command)
	violation := {
		"message": sprintf("%s touches $HOME as root; the files will be owned by root", [input.task.id]),
	}
}
`,
	}
}
