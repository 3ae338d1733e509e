// Package youtube lists a channel's most recent uploads through the YouTube
// Data API v3.
//
// A channel ID is resolved once per process to its uploads playlist
// (channels?part=contentDetails), then the newest page of that playlist is
// read (playlistItems?part=snippet). Requests are rate limited and 5xx/429
// responses are retried with exponential backoff and jitter. Quota refusals
// map to feed.ErrQuotaExceeded and unknown channels to feed.ErrNotFound.
package youtube
