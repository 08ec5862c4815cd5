/*
Package vstore implements binary serialization of plain data, pointers and
shared reference graphs into and from byte streams, and is the serialization
building block of the object store in the store subpackage.

# Archive and Direction

The basic building block is an Archive: a stream, a tracking Mode, and the
identity maps of one session. At any time the archive has a Direction:
Writing, Reading or Sizing.

This allows one "pack" function to fulfill the role of writing, reading and
measuring at the same time. A pack function takes a pointer to an object and
a pointer to the Archive:

	func PackXYZ(xyz *XYZ, ar *vstore.Archive) {
	    vstore.Int(&xyz.Unit, ar)
	    vstore.String(&xyz.Chapter, ar)
	    vstore.Slice(&xyz.Parts, PackPart, ar)
	    vstore.Shared(&xyz.Owner, PackOwner, ar)
	}

As a user of this package, you almost never have to check the direction in
your own pack functions: list the fields in order, and deserialization is
guaranteed to happen in exactly the same order. A Sizing pass walks the same
function without touching the stream and reports how many bytes a write
would produce.

# Wire format

Fixed-width values are raw copies in host byte order. Strings, slices, maps
and the other containers start with an int32 count. Untracked pointers are a
presence byte followed by the pointee. Tracked pointers and Ref handles are
an 8 byte ID: NullID for nil, the pointee follows the id the first time it is
seen and is linked by id alone afterwards.

# Errors

An archive keeps the first error it runs into and turns every later
operation into a no-op, so callers check Ready or Err once after a batch of
calls. Contract violations are distinguished with errors.Is:
ErrUnsupportedSizeQuery, ErrTypeMismatch, ErrBadLength. Stream failures wrap
ErrStreamNotReady.

# Stores

When a Binder (see store.Store) is attached, tracked pointees are persisted
out of line under their own ids, and a Sizing pass over a reference costs
exactly one id.
*/
package vstore
