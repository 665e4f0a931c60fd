// Package devicedb is the boundary to the player's track database.
//
// Opener and Database describe the capability the sync orchestrator needs:
// import a file, remove a track, commit once, close. Library is the bundled
// implementation. It keeps an SQLite index under iPod_Control/iTunes on the
// mounted filesystem and copies audio into the player's Music/Fnn folders.
// Every mutation made through one Database lands in a single transaction;
// files are only deleted from the device after that transaction commits, and
// files copied by a session that never commits are removed on Close.
package devicedb
