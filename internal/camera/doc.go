// Package camera defines the immutable per-capture camera configuration shared
// by both capture backends, the calibration engine, and the manifest.
//
// A Config is a plain value: every mutator returns a copy, so a snapshot taken
// for a manifest record can never drift from the settings that produced the
// image. The package also owns the closed vocabularies the backends translate
// into their own dialects (AWB modes, encodings) and the named resolution
// presets exposed to operators.
package camera
