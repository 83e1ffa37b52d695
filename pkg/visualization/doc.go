// Package visualization renders slices of registration inputs and results
// as images for visual quality assessment.
package visualization
