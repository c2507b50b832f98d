package intelx

import "fmt"

// UpstreamError is returned for any unrecoverable failure of the
// intelligence API: non-2xx responses, malformed envelopes and transport
// errors (Status is 0 when no HTTP response was received).
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("upstream request failed: %s", e.Body)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.Status, e.Body)
}
