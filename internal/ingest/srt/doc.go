// Package srt implements caller-mode SRT (Secure Reliable Transport) input,
// dialing a remote SRT listener and exposing the received transport stream
// as an io.ReadCloser.
package srt
