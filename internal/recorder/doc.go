// Package recorder implements the recording session state machine.
// A Session drives a CaptureEngine through Idle, Recording, Paused and Stopped,
// keeps the captured container blob, plays it back and converts it to a WAV
// asset ready for transcription. Manager keeps a registry of sessions and
// expires idle ones.
package recorder
