// Package vad provides energy-based voice activity detection over 16-bit PCM.
// It scores fixed windows by RMS energy with light smoothing and groups voiced
// windows into segments with confidence scores.
package vad
