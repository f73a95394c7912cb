// Package main hosts the mediascribe entrypoint.
//
// "mediascribe serve" runs the transcription server: the task scheduler,
// the cleanup cron and the HTTP/WebSocket API. The remaining commands are
// thin clients of that API for submitting media and inspecting tasks from
// a terminal.
package main
