// Package feed carries relationship changes made elsewhere into the local
// fragment cache over Redis pub/sub.
//
// When another client or a backend worker adds or removes an edge, it
// publishes an EdgeEvent. Every session subscribed to the channel applies the
// event to each cached connection of the affected container through the
// updater, so open list views converge without a re-fetch. Events for
// connections the session never fetched are ignored.
//
// # Redis Key Schema
//
//   - graphsync:edges - Pub/Sub channel for edge events (configurable)
//   - graphsync:edges:subscribers - Integer counter of running subscribers
//   - graphsync:edges:subscriber:<id> - String with TTL, subscriber heartbeat
//
// # Usage
//
// Publishing an event after a server-side edit:
//
//	client, err := feed.NewRedisClient(feed.RedisOptions{URL: "redis://localhost:6379"})
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	err = client.Publish(ctx, feed.NewEdgeEvent(feed.ActionAdd, groupID,
//		"Pagination_group_members", userRef, entity.RelMemberOf))
//
// Applying events to a session's cache:
//
//	sub := feed.NewSubscriber(client, s, feed.WithLogger(logger))
//	go sub.Run(ctx)
package feed
