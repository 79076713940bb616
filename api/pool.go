// File: api/pool.go
// Author: momentics <momentics@gmail.com>
//
// Generic bounded object pool contract. The Connection free-list
// implements it (connpool.Pool.AsObjectPool); PollerEvents and
// SocketProcessor tasks are not pooled.

package api

// ObjectPool provides generic pooling of transiently allocated objects.
// A bounded pool refuses Offer once its max count is exceeded or the
// owning endpoint is not running; Poll on an empty pool returns the zero
// value and false.
type ObjectPool[T any] interface {
	// Poll removes and returns an item, or ok=false if the pool is empty.
	Poll() (item T, ok bool)

	// Offer returns an item to the pool. It returns false if the pool
	// rejected the item (at capacity, or endpoint not running).
	Offer(item T) bool

	// Len returns the current number of pooled items.
	Len() int
}
