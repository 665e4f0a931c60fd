// Package logs reads the daemon's rotating log file for the CLI.
//
// Last returns the trailing lines with bounded memory, and Follow streams new
// lines as they are appended. Follow watches the log directory with fsnotify,
// so it keeps going across lumberjack rotations that rename the active file
// and start a fresh one.
package logs
