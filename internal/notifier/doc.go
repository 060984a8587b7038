// Package notifier plays notification sounds.
//
// Allowed verdicts become play requests. In daemon mode requests go through a
// bounded queue drained by a worker under a token-bucket rate limit, so a
// burst of events cannot stack overlapping sounds. The one-shot hook path
// calls PlayNow instead.
//
// # Player
//
// Playback is delegated to a Player. CommandPlayer runs an external audio
// command (afplay, paplay, ...) with {sound} and {volume} substituted into
// its arguments.
//
// # History
//
// The service keeps a small in-memory history of recent plays for the HTTP
// API and status output.
package notifier
