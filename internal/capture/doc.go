// Package capture provides the capture, playback and visualization engines
// behind a recorder session: an ffmpeg microphone recorder, a browser
// MediaRecorder bridge over WebSocket, ffplay playback and a peak meter.
package capture
