package alarm

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"golang.org/x/sync/semaphore"

	domain "github.com/oshokin/alarm-groups/internal/domain/alarm"
)

// ErrLockUnavailable is returned when the store lock cannot be acquired before the context ends.
var ErrLockUnavailable = errors.New("store lock unavailable")

// Store is the single source of truth for the alarms that must be announced.
type Store struct {
	// lock is a weighted semaphore of size one so acquisition can honour a deadline.
	lock *semaphore.Weighted
	// ordered holds every alarm ascending by id.
	ordered []*domain.Alarm
	// byID indexes alarms by id in the same relative order as ordered.
	byID map[int][]*domain.Alarm
	// groups counts alarms per group id.
	groups map[int]int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		lock:   semaphore.NewWeighted(1),
		byID:   make(map[int][]*domain.Alarm),
		groups: make(map[int]int),
	}
}

// Insert stores a copy of the alarm, keeping id-ascending order.
// An alarm is placed before existing alarms with the same id.
func (s *Store) Insert(ctx context.Context, a *domain.Alarm) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	stored := a.Clone()

	position := sort.Search(len(s.ordered), func(i int) bool {
		return s.ordered[i].ID >= stored.ID
	})

	s.ordered = slices.Insert(s.ordered, position, stored)
	s.byID[stored.ID] = slices.Insert(s.byID[stored.ID], 0, stored)
	s.groups[stored.GroupID]++

	return nil
}

// Find returns a copy of the first alarm with the id.
func (s *Store) Find(ctx context.Context, id int) (*domain.Alarm, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	found := s.first(id)
	if found == nil {
		return nil, fmt.Errorf("find alarm %d: %w", id, domain.ErrNotFound)
	}

	return found.Clone(), nil
}

// Update changes interval, message and category of the first alarm with the id
// in place. Group and due times are recomputed from now. It returns the group
// the alarm belonged to before the update and a copy of the updated alarm.
func (s *Store) Update(
	ctx context.Context,
	id int,
	interval time.Duration,
	message, category string,
	now time.Time,
) (int, *domain.Alarm, error) {
	if err := s.acquire(ctx); err != nil {
		return 0, nil, err
	}
	defer s.release()

	target := s.first(id)
	if target == nil {
		return 0, nil, fmt.Errorf("update alarm %d: %w", id, domain.ErrNotFound)
	}

	previousGroup := target.GroupID
	s.decrementGroup(previousGroup)

	target.Reschedule(interval, now)
	target.Message = message
	target.Category = category

	s.groups[target.GroupID]++

	return previousGroup, target.Clone(), nil
}

// Remove deletes the first alarm with the id and returns it.
// The returned alarm's GroupID is the group it was removed from.
func (s *Store) Remove(ctx context.Context, id int) (*domain.Alarm, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	target := s.first(id)
	if target == nil {
		return nil, fmt.Errorf("remove alarm %d: %w", id, domain.ErrNotFound)
	}

	s.ordered = slices.DeleteFunc(s.ordered, func(a *domain.Alarm) bool { return a == target })

	rest := s.byID[id][1:]
	if len(rest) == 0 {
		delete(s.byID, id)
	} else {
		s.byID[id] = rest
	}

	s.decrementGroup(target.GroupID)

	return target, nil
}

// AlarmsInGroup returns copies of the alarms in the group, ascending by id.
func (s *Store) AlarmsInGroup(ctx context.Context, groupID int) ([]*domain.Alarm, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	result := make([]*domain.Alarm, 0, s.groups[groupID])

	for _, a := range s.ordered {
		if a.GroupID == groupID {
			result = append(result, a.Clone())
		}
	}

	return result, nil
}

// CollectDue marks every due alarm of the group as announced at now and returns
// copies of them in id order. Nothing is printed while the lock is held; the
// caller emits the returned alarms after CollectDue returns.
func (s *Store) CollectDue(ctx context.Context, groupID int, now time.Time) ([]*domain.Alarm, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	if s.groups[groupID] == 0 {
		return nil, nil
	}

	var due []*domain.Alarm

	for _, a := range s.ordered {
		if a.GroupID != groupID || !a.IsDue(now) {
			continue
		}

		a.MarkAnnounced(now)
		due = append(due, a.Clone())
	}

	return due, nil
}

// DistinctGroups returns the set of group ids that have at least one alarm.
func (s *Store) DistinctGroups(ctx context.Context) (map[int]struct{}, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	result := make(map[int]struct{}, len(s.groups))
	for groupID := range s.groups {
		result[groupID] = struct{}{}
	}

	return result, nil
}

// List returns copies of all alarms ascending by id.
func (s *Store) List(ctx context.Context) ([]*domain.Alarm, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	result := make([]*domain.Alarm, 0, len(s.ordered))
	for _, a := range s.ordered {
		result = append(result, a.Clone())
	}

	return result, nil
}

// Locked runs fn while holding the store lock. fn must not block on I/O.
func (s *Store) Locked(ctx context.Context, fn func(tx *Tx) error) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	return fn(&Tx{store: s})
}

// acquire takes the store lock or fails once ctx is done.
func (s *Store) acquire(ctx context.Context) error {
	if err := s.lock.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%w: %w", ErrLockUnavailable, err)
	}

	return nil
}

// release gives the store lock back.
func (s *Store) release() {
	s.lock.Release(1)
}

// first returns the stored alarm with the id that comes first in iteration order.
func (s *Store) first(id int) *domain.Alarm {
	matches := s.byID[id]
	if len(matches) == 0 {
		return nil
	}

	return matches[0]
}

// decrementGroup drops one member from the group count, forgetting empty groups.
func (s *Store) decrementGroup(groupID int) {
	s.groups[groupID]--
	if s.groups[groupID] <= 0 {
		delete(s.groups, groupID)
	}
}
