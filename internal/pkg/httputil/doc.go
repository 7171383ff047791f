// Package httputil is the single way handlers write responses: one JSON
// encoder, one error envelope, one decode helper. Raw ResponseWriter calls
// in handler code are a review flag.
package httputil
