package dispatch

import (
	"fmt"

	"github.com/sebas/switchburst/internal/eslerr"
)

func errUnsubscribed(event string) error {
	return &eslerr.ConfigurationError{Reason: fmt.Sprintf("event %q is unsubscribed, cannot register", event)}
}

func errNoDefaultHandler(event string) error {
	return &eslerr.ConfigurationError{Reason: fmt.Sprintf("no handler for event %q and no default handler installed", event)}
}

func errLoopRunning() error {
	return &eslerr.ConfigurationError{Reason: "Unsubscribe requires the loop to be stopped"}
}
