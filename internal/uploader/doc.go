// Package uploader watches a directory for new data files and streams them
// to the message bus as chunks. A single control goroutine schedules one
// file at a time into a bounded queue, a pool of workers serializes and
// produces the chunks, and a cooperative drain protocol guarantees that
// every chunk whose upload has begun is delivered before shutdown completes.
package uploader
