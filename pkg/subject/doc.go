// Package subject manages the on-disk layout of received uploads.
//
// Every subject code owns one directory under the storage root:
//
//	<root>/<code>/logging          Subcode,Time,File,Address header + one row per stored slot
//	<root>/<code>/<resolved name>  slot 0 output
//	<root>/<code>/<companion>      slot 1 output (slot 0 name without .csv)
//
// Directories are created lazily by the first upload carrying a code. Log
// appends for one code are serialised through a per-code lock; file
// creation never overwrites a slot 0 file.
package subject
