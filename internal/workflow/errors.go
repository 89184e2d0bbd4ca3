package workflow

import (
	"errors"
	"fmt"
)

// AcquisitionError means the identifier step failed. Fatal for that task;
// the client never retries it.
type AcquisitionError struct {
	HTTPStatus int
	Reason     string
}

func (e *AcquisitionError) Error() string {
	if e.HTTPStatus > 0 {
		return fmt.Sprintf("acquire identifier: HTTP %d: %s", e.HTTPStatus, e.Reason)
	}
	return fmt.Sprintf("acquire identifier: %s", e.Reason)
}

// ErrDetailUnconfigured is returned when FetchDetail is invoked without a
// configured detail endpoint.
var ErrDetailUnconfigured = errors.New("detail endpoint not configured")
