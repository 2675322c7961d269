// Package bytecode is the execution core of cinder: a single-pass compiler
// and a stack-based virtual machine for a small dynamically-typed language
// with first-class functions, closures, and classes with single
// inheritance.
//
// # Architecture Overview
//
// The pipeline runs in one pass from source text to execution:
//
//   - Compiler: A Pratt parser that drives the lexer directly and emits
//     bytecode as it goes, resolving local slots, upvalue captures, and
//     jump targets inline. Each function compiles into its own chunk.
//
//   - Chunk: A compiled unit holding code bytes, a parallel source-line
//     table, and a constant pool of values.
//
//   - VM: A stack machine with fixed-size value and call-frame stacks. A
//     call frame windows the value stack; slot 0 of the window holds the
//     callee or 'this'. Upvalues alias live stack slots while open and own
//     their value once closed.
//
//   - Heap: All script-visible objects live in an allocator-owned slot
//     vector addressed by stable handles. A tri-colour mark-sweep
//     collector reclaims slots; registered root sources (the VM, any
//     running compiler) enumerate the roots.
//
//   - Table: Open-addressed hash tables with explicit tombstone buckets
//     back the global environment, method and field tables, and the
//     string intern set.
//
// # Strings
//
// Every string is interned: equal contents always share one handle, so
// value equality on strings is handle identity. The collector scrubs the
// intern set before sweeping so freed strings never linger as keys.
//
// # Snapshots
//
// A compiled function graph can be serialized to canonical CBOR and
// rebuilt into any heap (see EncodeFunction and DecodeFunction). Snapshots
// carry only compile-time kinds: numbers, booleans, nil, strings, and
// nested functions. The compiled-script cache stores these blobs in
// SQLite, keyed by a hash of the source.
package bytecode
