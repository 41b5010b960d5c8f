package pipeline

import (
	"errors"
	"fmt"
)

const successMessage = "Deployment complete. Your application is live."

func stepDoneMessage(label string) string {
	return label + " finished."
}

func cancelledMessage(completed, total int) string {
	return fmt.Sprintf("Cancelled. %d of %d steps completed before the run was stopped.", completed, total)
}

func failureMessage(err error) string {
	var timeout *TimeoutError
	if errors.As(err, &timeout) {
		return fmt.Sprintf("Deployment stopped: %s did not finish within %s.", timeout.Label, timeout.Timeout)
	}
	var failed *StepFailedError
	if errors.As(err, &failed) {
		return fmt.Sprintf("Deployment stopped: %s failed. %v", failed.Label, failed.Cause)
	}
	return fmt.Sprintf("Deployment stopped: %v", err)
}
