// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"os"
	"strings"

	"github.com/workerhost/workerhost/internal/fetch"
	"github.com/workerhost/workerhost/internal/issue"
	"github.com/workerhost/workerhost/internal/protocol"
	"github.com/workerhost/workerhost/internal/script"
	"github.com/workerhost/workerhost/internal/shm"
	"github.com/workerhost/workerhost/internal/worker"
)

// classifyError maps an error to the catalog issue that explains it.
// Order matters: the more specific causes are checked first.
func classifyError(err error) issue.Id {
	var remote *protocol.RemoteError
	switch {
	case errors.Is(err, script.ErrEvalDisabled),
		errors.As(err, &remote) && strings.Contains(remote.Report, script.ErrEvalDisabled.Error()):
		return issue.EvalDisabledId
	case errors.Is(err, script.ErrInvalidLanguage):
		return issue.InvalidLanguageId
	case errors.Is(err, fetch.ErrFetch), errors.Is(err, shm.ErrWaitTimeout):
		return issue.FetchFailedId
	case errors.Is(err, os.ErrNotExist), errors.Is(err, fetch.ErrInvalidURL):
		return issue.SourceNotFoundId
	case errors.Is(err, protocol.ErrProtocol):
		return issue.ProtocolViolationId
	case errors.Is(err, script.ErrEvaluation), errors.Is(err, protocol.ErrRemote):
		return issue.EvaluationFailedId
	case errors.Is(err, worker.ErrThread):
		return issue.WorkerCrashedId
	default:
		return 0
	}
}

// actionable wraps err with the operation that failed and the issue that
// explains it. ActionableErrors pass through unchanged.
func actionable(operation, resource string, err error) error {
	if err == nil {
		return nil
	}
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return err
	}
	ctx := issue.NewErrorContext().
		WithOperation(operation).
		WithResource(resource).
		Wrap(err)
	if id := classifyError(err); id != 0 {
		ctx.WithIssue(id)
	}
	return ctx.BuildError()
}
