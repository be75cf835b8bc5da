package pubsub

import (
	"errors"
	"fmt"
	"sort"

	"github.com/timshannon/badgerhold/v4"
)

// ErrSubscriptionNotFound is returned when removing an unknown
// subscription.
var ErrSubscriptionNotFound = errors.New("webhook not found")

type store struct {
	db *badgerhold.Store
}

func (s store) add(sub Subscription) error {
	if err := s.db.Insert(sub.ID, sub); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return nil
		}
		return err
	}
	return nil
}

func (s store) remove(id string) error {
	if err := s.db.Delete(id, Subscription{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrSubscriptionNotFound, id)
		}
		return err
	}
	return nil
}

func (s store) byTopic(topic string) (subscriptions, error) {
	return s.find(badgerhold.Where("Event").Eq(topic))
}

func (s store) all() (subscriptions, error) {
	return s.find(nil)
}

func (s store) find(query *badgerhold.Query) (subscriptions, error) {
	var subs subscriptions
	if err := s.db.Find(&subs, query); err != nil {
		return nil, err
	}
	sort.SliceStable(subs, func(i, j int) bool {
		if subs[i].CreatedAt == subs[j].CreatedAt {
			return subs[i].ID < subs[j].ID
		}
		return subs[i].CreatedAt < subs[j].CreatedAt
	})
	return subs, nil
}

func (s store) close() error {
	return s.db.Close()
}
