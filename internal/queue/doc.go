// Package queue persists pending player mutations durably on local disk.
//
// The Store pairs an SQLite manifest (queue.db, WAL mode) with a staging
// directory holding one payload file per add item. Enqueue writes the
// payload through a temp file, fsyncs and renames it, and only then inserts
// the manifest row, so an item is either fully accepted or absent. Items are
// drained in seq order; sync sessions remove them once their effect has been
// committed to the device, or move them to the failure log.
//
// The database is treated as transient storage for in-flight work. Schema
// changes bump the version in schema.go; users move the database aside to
// adopt the new schema.
package queue
