/*
Package events implements Broker[T], a generic, non-blocking publish/
subscribe channel broker. A Broker[T] is topic-agnostic: every subscriber
receives every published value of type T on its own buffered channel, and
a slow subscriber drops values rather than stalling the publisher.

This is the shared mechanism behind every watch stream in the module:
pkg/storage instantiates Broker[WatchEvent] per keyspace and pkg/cluster
layers a heartbeat-typed projection over it. pkg/jobstate also publishes
its job lifecycle events on a Broker, but directly from its own write
methods rather than from a storage watch.
*/
package events
