package transcription

import "fmt"

// NetworkError reports that the relay could not be reached
type NetworkError struct {
	Endpoint string
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("relay unreachable at %s: %v", e.Endpoint, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// UploadError carries a non-success status and the relay's error envelope
type UploadError struct {
	StatusCode    int
	ServerMessage string
	Details       string
}

func (e *UploadError) Error() string {
	msg := fmt.Sprintf("upload failed with HTTP %d", e.StatusCode)
	if e.ServerMessage != "" {
		msg += ": " + e.ServerMessage
	}
	if e.Details != "" {
		msg += " (" + e.Details + ")"
	}
	return msg
}

// MalformedResponseError reports a success response that breaks the relay contract
type MalformedResponseError struct {
	Reason string
	Body   string
	Err    error
}

func (e *MalformedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed relay response: %s: %v", e.Reason, e.Err)
	}
	return "malformed relay response: " + e.Reason
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}
