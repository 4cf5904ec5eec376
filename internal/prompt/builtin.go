package prompt

import "sort"

// Built-in template names.
const (
	FixCheck    = "fix-check.md"
	FixCIJob    = "fix-ci-job.md"
	FixCIRun    = "fix-ci-run.md"
	Analyze     = "analyze.md"
	Interactive = "interactive.md"
)

var builtinTemplates = map[string]string{
	FixCheck:    fixCheckTemplate,
	FixCIJob:    fixCIJobTemplate,
	FixCIRun:    fixCIRunTemplate,
	Analyze:     analyzeTemplate,
	Interactive: interactiveTemplate,
}

// Names lists the built-in templates in a stable order.
func Names() []string {
	names := make([]string, 0, len(builtinTemplates))
	for n := range builtinTemplates {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

const rules = `## Rules
- Make the smallest change that makes the failure go away for the right reason.
- Do not disable, skip, or delete checks or tests to make them pass.
- Do not commit, push, or create branches. The caller commits your changes.
- Do not invoke skills or slash commands. Use only built-in tools.
`

const fixCheckTemplate = `# Fix failing check: {{check_name}}

Working in: {{repo_dir}}
Command: ` + "`{{command}}`" + `
Attempt: {{attempt}}

## Failure output
` + "```" + `
{{error_text}}
` + "```" + `
{{#if analysis}}

## Analysis
{{analysis}}
{{/if}}
{{#if history}}

## Earlier attempts at this same failure
{{history}}
{{/if}}

` + rules + `
When you are done the command above will be run again.
`

const fixCIJobTemplate = `# Fix failing CI job: {{job_name}}

Working in: {{repo_dir}}
Run: {{run_url}}

The job failed on the remote CI system while other jobs may still be running.
The log below was reduced to the error-relevant lines.

## Job log
` + "```" + `
{{error_text}}
` + "```" + `
{{#if analysis}}

## Analysis
{{analysis}}
{{/if}}
{{#if history}}

## Earlier attempts at this same failure
{{history}}
{{/if}}

` + rules + `
Local checks will be re-run after your change.
`

const fixCIRunTemplate = `# Fix failed CI run

Working in: {{repo_dir}}
Run: {{run_url}}

The run completed with a failure. Below are the logs of its failed steps.

## Failed step logs
` + "```" + `
{{error_text}}
` + "```" + `
{{#if analysis}}

## Analysis
{{analysis}}
{{/if}}
{{#if history}}

## Earlier attempts at this same failure
{{history}}
{{/if}}

` + rules

const analyzeTemplate = `# Classify a build failure

Target: {{target}}

` + "```" + `
{{error_text}}
` + "```" + `

Do not change any files. Reply with exactly these four lines and nothing else:

CLASSIFICATION: <code|test|config|dependency|environmental|flaky>
CONFIDENCE: <high|medium|low>
STRATEGY: <one short phrase naming the fix approach>
ROOT CAUSE: <one sentence>

Use "environmental" only for failures outside the repository's control, such as
network outages, missing system tools, or exhausted runner disk space.
`

const interactiveTemplate = `Automatic remediation of {{target}} gave up after {{attempts}} attempts.

Last failure output:

{{error_text}}

Work with the operator to fix it. Exit the session when the check should pass.
`
