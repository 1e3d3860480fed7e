package es

import "log/slog"

// Version is the position of an event within its stream. The first event
// of a stream has version 1 and versions have no gaps; 0 means the stream
// does not exist yet. Appends name the version they expect the stream at.
type Version uint64

func (v Version) Uint64() uint64 { return uint64(v) }

// Next is the version of the next event appended after v.
func (v Version) Next() Version { return v + 1 }

// Add is the stream version after appending n events at v.
func (v Version) Add(n int) Version { return v + Version(n) }

func (v Version) SlogAttr() slog.Attr                  { return v.SlogAttrWithKey("version") }
func (v Version) SlogAttrWithKey(key string) slog.Attr { return slog.Uint64(key, uint64(v)) }
