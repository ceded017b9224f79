// Package cmd holds the small helpers shared by the vold sub-commands:
// interactive questions and help text formatting.
package cmd
