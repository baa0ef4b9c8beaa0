// Package audio converts captured audio between containers and PCM.
// It decodes recorder blobs (WAV natively, anything else through ffmpeg) into
// float PCM at a target rate and encodes channel 0 into mono 16-bit WAV assets
// for upload.
package audio
