package cache

import (
	"github.com/erauner12/garagesync/internal/events"
	"github.com/rs/zerolog/log"
)

// Bridge subscribes c to bus and returns the unsubscribe function.
//
// Entity writes refresh the entity key and mark the collection's list
// queries stale; a translated id also drops the old key. Deletes drop the
// key. A completed sync pass invalidates everything.
func Bridge(bus *events.Bus, c *QueryCache) func() {
	return bus.Subscribe(func(ev events.Event) {
		switch e := ev.(type) {
		case events.EntityAdded:
			c.InvalidateQueries(e.Collection)
			c.SetQueryData(EntityKey(e.Collection, e.Entity.ID()), e.Entity)
		case events.EntityUpdated:
			c.InvalidateQueries(e.Collection)
			if e.PreviousID != 0 && e.PreviousID != e.Entity.ID() {
				c.RemoveQueries(EntityKey(e.Collection, e.PreviousID))
			}
			c.SetQueryData(EntityKey(e.Collection, e.Entity.ID()), e.Entity)
		case events.EntityDeleted:
			c.RemoveQueries(EntityKey(e.Collection, e.ID))
			c.InvalidateQueries(e.Collection)
		case events.SyncCompleted:
			log.Debug().Int("success", e.Success).Strs("collections", e.Collections).Msg("invalidating query cache after sync")
			c.InvalidateQueries()
		}
	})
}
