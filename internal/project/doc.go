// Package project creates and resolves project directories and records their
// initialization in the project manifest.
package project
