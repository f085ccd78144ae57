// Package background is the production transfer.Subsystem. Tasks are
// journaled in Pebble before their upload starts, so a restarted process
// resumes them under the same identity. Uploads are HTTP POSTs of the staged
// body; any 2xx response is a success.
package background
