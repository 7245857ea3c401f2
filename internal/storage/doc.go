// Package storage provides the small persistence layer used by restartbot.
//
// It currently supports:
//   - Named documents (whole-document replace, e.g. a plugin's schedule)
//   - Audit log appends (operator actions)
package storage
