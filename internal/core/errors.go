// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors. Typed errors elsewhere wrap these so callers can use errors.Is.
var (
	// DSL errors
	ErrCompile    = errors.New("netcap: dsl compile error")
	ErrExtraction = errors.New("netcap: extraction failed")

	// Filter errors
	ErrFilterSyntax = errors.New("netcap: filter syntax error")

	// Capture device errors
	ErrCaptureDevice = errors.New("netcap: capture device error")

	// Interactive command errors
	ErrCommandParse    = errors.New("netcap: command parse error")
	ErrDynamicDisabled = errors.New("netcap: dynamic transformation disabled")

	// Registry errors
	ErrNameNotFound = errors.New("netcap: name not found")

	// Pipeline errors
	ErrPipelineStopped = errors.New("netcap: pipeline stopped")

	// Configuration errors
	ErrConfigInvalid = errors.New("netcap: invalid configuration")
)
