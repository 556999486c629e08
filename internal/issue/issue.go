// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"cmp"

	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

const (
	ConfigLoadFailedId Id = iota + 1
	SourceNotFoundId
	WorkerSpawnFailedId
	WorkerCrashedId
	EvaluationFailedId
	EvalDisabledId
	FetchFailedId
	ProtocolViolationId
	InvalidLanguageId
)

type (
	// Id identifies a catalog issue.
	Id int

	// MarkdownMsg is the Markdown body of an issue page.
	MarkdownMsg string

	// Issue is a catalog page explaining a class of failure.
	Issue struct {
		id          Id
		mdMsg       MarkdownMsg
		suggestions []string
	}
)

func (i *Issue) Id() Id {
	return i.id
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

// Suggestions returns the one-line hints attached to errors linking this issue.
func (i *Issue) Suggestions() []string {
	return slices.Clone(i.suggestions)
}

// Render renders the issue page. An empty stylePath picks the style from
// the terminal background.
func (i *Issue) Render(stylePath string) (string, error) {
	if stylePath == "" {
		stylePath = "auto"
	}
	return render(string(i.mdMsg), stylePath)
}

var (
	render = glamour.Render

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Configuration could not be loaded

workerhost reads ` + "`config.cue`" + ` from its configuration directory and validates it
against the built-in schema before merging ` + "`WORKERHOST_*`" + ` environment overrides.

## Things you can try
- Print the effective configuration:
~~~
$ workerhost config show
~~~
- Recreate the default file:
~~~
$ workerhost config init --force
~~~`,
		suggestions: []string{"Run 'workerhost config show' to inspect the effective configuration"},
	}

	sourceNotFoundIssue = &Issue{
		id: SourceNotFoundId,
		mdMsg: `
# Worker source not found

A worker source can be a local path, a ` + "`file://`" + ` URL, a ` + "`data:`" + ` URL or a network URL.
Relative references resolve against ` + "`fetch.base_url`" + ` when it is set, otherwise against the
current directory.

## Things you can try
- Check the path or URL for typos
- Pass inline code with ` + "`workerhost eval`" + ` instead`,
		suggestions: []string{"Check that the source path or URL exists"},
	}

	workerSpawnFailedIssue = &Issue{
		id: WorkerSpawnFailedId,
		mdMsg: `
# Worker could not be started

The execution context failed before it began servicing messages.

## Things you can try
- Re-run with ` + "`--verbose`" + ` to see the worker log
- When using ` + "`--isolate`" + `, make sure the workerhost binary can be executed again`,
	}

	workerCrashedIssue = &Issue{
		id: WorkerCrashedId,
		mdMsg: `
# Worker thread failed

The worker's thread ended unexpectedly or ignored shutdown and was reaped after
` + "`worker.shutdown_grace`" + `.

## Things you can try
- Make long-running bindings honour cancellation
- Increase ` + "`worker.shutdown_grace`" + ` in your configuration`,
		suggestions: []string{"Increase worker.shutdown_grace if exit hooks need more time"},
	}

	evaluationFailedIssue = &Issue{
		id: EvaluationFailedId,
		mdMsg: `
# Evaluation failed

The code raised an error inside the worker. The worker keeps running, so later
evaluations still see the state defined before the failure.`,
	}

	evalDisabledIssue = &Issue{
		id: EvalDisabledId,
		mdMsg: `
# Evaluation is disabled

This binary was built with the ` + "`noeval`" + ` tag, which removes every scripting backend.

## Things you can try
- Use a build without ` + "`-tags noeval`" + `
- Drive workers through module sources and ` + "`asyncInvoke`" + ` handlers instead`,
		suggestions: []string{"Rebuild without '-tags noeval' to enable evaluation"},
	}

	fetchFailedIssue = &Issue{
		id: FetchFailedId,
		mdMsg: `
# Fetch failed

The response status was outside 200-299, or no response arrived before
` + "`fetch.timeout`" + `. Status 0 means the request never reached the server.

## Things you can try
- Retry the request with ` + "`workerhost fetch <url>`" + `
- Raise ` + "`fetch.timeout`" + ` for slow servers`,
		suggestions: []string{"Try the URL with 'workerhost fetch' to see the raw response"},
	}

	protocolViolationIssue = &Issue{
		id: ProtocolViolationId,
		mdMsg: `
# Protocol violation

A worker received a message it could not understand and stopped. This usually
means the parent and an isolated worker run different workerhost versions.`,
		suggestions: []string{"Make sure parent and worker run the same workerhost binary"},
	}

	invalidLanguageIssue = &Issue{
		id: InvalidLanguageId,
		mdMsg: `
# Unknown script language

Supported languages are ` + "`sh`" + ` (POSIX shell) and ` + "`cue`" + `.

~~~cue
script: language: "sh"
~~~`,
		suggestions: []string{"Use --lang sh or --lang cue"},
	}

	issues = map[Id]*Issue{
		configLoadFailedIssue.Id():  configLoadFailedIssue,
		sourceNotFoundIssue.Id():    sourceNotFoundIssue,
		workerSpawnFailedIssue.Id(): workerSpawnFailedIssue,
		workerCrashedIssue.Id():     workerCrashedIssue,
		evaluationFailedIssue.Id():  evaluationFailedIssue,
		evalDisabledIssue.Id():      evalDisabledIssue,
		fetchFailedIssue.Id():       fetchFailedIssue,
		protocolViolationIssue.Id(): protocolViolationIssue,
		invalidLanguageIssue.Id():   invalidLanguageIssue,
	}
)

// Values returns every catalog issue ordered by id.
func Values() []*Issue {
	all := maps.Clone(issues)
	out := make([]*Issue, 0, len(all))
	for _, i := range all {
		out = append(out, i)
	}
	slices.SortFunc(out, func(a, b *Issue) int {
		return cmp.Compare(a.id, b.id)
	})
	return out
}

func Get(id Id) *Issue {
	return issues[id]
}
