// Package registry keeps exactly one group worker running for every
// non-empty alarm group.
//
// Reconcile is called after each store mutation that may change whether a
// group is empty. It takes the store lock first and the registry lock second,
// spawns a worker for a group that gained its first alarm and retires the
// worker of a group that lost its last one. Workers scan the store on their
// own tick, announce due alarms outside the store lock and stop cooperatively
// at tick boundaries.
package registry
