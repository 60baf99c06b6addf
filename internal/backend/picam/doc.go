// Package picam implements the persistent-handle capture backend.
//
// One Handle per camera index is opened lazily and kept for the life of the
// backend. A capture reconfigures the handle only when the stream shape (size,
// pixel format, buffer count, orientation) differs from the last applied one,
// then applies controls, waits for the sensor to settle, and writes the image.
// Every capture also reads the frame metadata for archival.
//
// Handles come from an Opener. The default opener drives a helper process
// speaking newline-delimited JSON; see helper.go for the protocol.
package picam
