package listener

import (
	"fmt"
	"strings"

	"github.com/sebas/switchburst/internal/eslerr"
)

func errHangupBeforeJob(sessUUID string) error {
	return fmt.Errorf("listener: session %s hung up before its background job resolved", sessUUID)
}

// errBackgroundJobFailed wraps a "-ERR ..." BACKGROUND_JOB body as a
// CommandError, the taxonomy entry for bgapi failures surfaced via the
// event stream rather than a synchronous reply.
func errBackgroundJobFailed(jobUUID, body string) error {
	return &eslerr.CommandError{
		JobUUID: jobUUID,
		Reason:  strings.TrimSpace(strings.TrimPrefix(body, "-ERR")),
	}
}
