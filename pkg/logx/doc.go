// Package logx wraps zerolog behind a small structured-logging API.
//
// It exists so services can carry a Logger value that stays live across
// runtime config changes (level/sink swaps via Service.Apply) and so the
// zero value of Logger is always safe to use.
package logx
