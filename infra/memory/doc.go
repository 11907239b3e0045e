// Package memory provides the slab allocator backing every engine record.
//
// A Pool owns the block budget for two size classes. Each record type gets
// its own Slab drawn from one of those classes; slots are handed out from a
// free list of indices and addressed by generational Handles, so a handle
// to a released slot is detected rather than silently aliased. Blocks are
// never returned to the runtime until the pool itself is dropped.
package memory
