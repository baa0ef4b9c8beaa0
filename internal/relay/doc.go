// Package relay implements the transcription relay: an HTTP server that accepts
// audio uploads, runs a speech engine subprocess on a bounded worker pool and
// answers with the engine's transcription.
package relay
