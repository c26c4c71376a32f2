package alarm

import "slices"

// Tx is a read view of the store valid only inside Store.Locked.
type Tx struct {
	// store is the locked store.
	store *Store
}

// HasGroup reports whether the group has at least one alarm.
func (tx *Tx) HasGroup(groupID int) bool {
	return tx.store.groups[groupID] > 0
}

// Groups returns the non-empty group ids in ascending order.
func (tx *Tx) Groups() []int {
	result := make([]int, 0, len(tx.store.groups))
	for groupID := range tx.store.groups {
		result = append(result, groupID)
	}

	slices.Sort(result)

	return result
}

// Len returns the number of stored alarms.
func (tx *Tx) Len() int {
	return len(tx.store.ordered)
}
