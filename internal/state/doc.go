// Package state holds the process-wide, in-memory stream store shared by
// every chat session. Nothing in it survives a restart.
package state
