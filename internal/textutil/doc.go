// Package textutil provides filename sanitization helpers.
//
// Names arriving from uploads and drop folders are untrusted: they may carry
// path separators, reserved characters, or accented letters that the
// player's FAT filesystem stores poorly. SanitizeDeviceName folds them to a
// safe form; SanitizeToken produces lowercase identifiers for work files.
package textutil
