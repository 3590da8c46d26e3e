// Package graphsync keeps a client-side cache of knowledge-graph fragments
// consistent with relationship edits made against a GraphQL backend, without
// re-fetching list views.
//
// # Core Concepts
//
//   - Fragment Cache (package store): fragments keyed by entity ID plus the
//     ordered connections list views read, with change notification.
//   - Mutation Dispatcher (package mutation): commits add-edge and delete-edge
//     mutations and reports typed failures.
//   - Cache Updater (package updater): inserts into and deletes from cached
//     connections once a mutation succeeds.
//   - View Binding (package binding): ties checkbox state to those steps.
//
// A Session owns one cache and the dispatchers, registry resolver and edge
// feed built around it. Create it at startup, Clear it on logout and Close it
// on exit. Session.Health combines the endpoint, breaker and feed checks of
// package health.
//
// # Getting Started
//
//	cfg, err := config.Load("graphsync.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	cfg.ApplyEnv()
//
//	session, err := graphsync.NewSession(ctx, cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer session.Close()
//
//	// The list query seeds the connection.
//	toggle, err := session.Membership(groupID, queryVars)
//	if err != nil {
//		log.Fatal(err)
//	}
//	session.Store().SetConnection(groupID, toggle.Config().Key, members)
//
//	// A checkbox click.
//	if err := toggle.Set(ctx, entity.Ref{ID: userID, Kind: entity.KindUser}, true); err != nil {
//		var me *mutation.MutationError
//		if errors.As(err, &me) {
//			fmt.Println(me.Message())
//		}
//	}
package graphsync
