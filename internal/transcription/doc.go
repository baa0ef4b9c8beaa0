// Package transcription implements the client for the transcription relay.
// It uploads WAV assets as multipart form data, parses the relay's result
// envelope and reports network, server and contract failures as distinct
// error types. Uploads are never retried.
package transcription
