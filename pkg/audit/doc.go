// Package audit keeps a durable trail of conversion runs.
//
// Every run is recorded once, successful or not. Runs that created a user
// and then failed are flagged as orphaned so operators can find users that
// need manual cleanup:
//
//	store, err := audit.NewSQLStore(db)
//	orphaned, err := store.ListOrphaned(ctx, 50)
package audit
