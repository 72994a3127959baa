// Package objmesh exposes dynamically typed objects whose methods and
// signals are published at runtime and reachable from other processes.
//
// ## How it works
//
// An `ObjectBuilder` collects methods, under a "name::(params)" signature,
// and signals. Sealing it with `ObjectBuilder.Object` gives a
// `GenericObject`: its method table is frozen in an immutable radix tree so
// dispatch never takes a lock, and every method has a stable uid.
//
// Methods are `Callable`s: type-erased functions working on `value.Value`s,
// usually wrapped from plain Go functions with `Func`. Calls are always
// asynchronous, they run on the `EventLoop` the object is bound to and
// complete a `Future`.
//
// Signals fan out to their subscribers in connection order, each delivery
// running on the subscriber's own loop. A subscriber whose target is gone
// (a closed object, a collected receiver, a failing `Guard`) is removed on
// the next trigger instead of being called.
//
// Objects cross process boundaries with:
//
// * `ObjectHandler`, which serves the `pkg/wire` request format,
// * `pkg/transport`, carrying requests over QUIC streams,
// * `pkg/remote`, the client-side proxy,
// * `pkg/directory`, a gossiped directory of service names.
//
// ## Design Principles
//
// Failures are values: everything, from a misspelled method to a panic in a
// handler, is reported through the `Future` or the returned error and can be
// matched with `errors.Is` against the sentinels of errors.go. Remote
// failures match the same sentinels.
//
// Lifetimes are explicit. Closing an object disconnects whatever targets it,
// unregisters it from the directory and lets in-flight deliveries finish.
package objmesh
