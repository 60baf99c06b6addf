// Package calibration runs the focus and white balance procedures against an
// open camera handle and produces the calibration profile stored in the
// camera registry.
//
// Procedures report recoverable failures (autofocus did not converge, no
// colour gains) in their result values. Only a camera that cannot be opened,
// configured, or started is returned as an error.
package calibration
