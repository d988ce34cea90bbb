// Package netlog records completed loads.
//
// A Log is a loader.Delegate: installed on a dispatcher it wraps every
// peer that reaches a response or completion with a recorder, which
// collects the load's URL, status, sizes and timings and commits an Entry
// when the load completes. Peers wrapped at start with Log.Wrap also
// carry the request method and inspector id.
//
// Entries are kept in memory, bounded by a limit, and optionally written
// to a Sink such as the SQLite backed Store.
package netlog
