// Package dualwrite keeps a record write to a transactional store consistent with a
// message published to a non-transactional channel when no shared transaction exists.
//
// A Coordinator runs one unit of work per call:
//
//  1. Persist the entity inside a new transactional scope.
//  2. Map the entity to a wire message and publish it under a topic and key.
//  3. Wait a bounded time (one second by default) for the channel to acknowledge.
//
// If the publish fails or is not acknowledged in time, the scope is marked
// rollback-only so the persisted write is discarded, and the error is returned.
// A missing acknowledgment is ambiguous: the channel may still accept the message
// later. If the attempt fails for a reason that is not a channel failure after the
// publish was acknowledged, the Coordinator emits a best-effort correction message
// built from the request's correction supplier so consumers can reconcile.
//
// The caller always receives the original error. Corrections are a side channel,
// never a recovery, and their own failures are logged and absorbed.
//
// Usage:
//
//	coord := dualwrite.New[*account.Account, string, events.AccountEvent](
//	    txManager, producer, dualwrite.JSONCodec[events.AccountEvent]{},
//	    dualwrite.WithLogger(logger),
//	)
//
//	req, err := dualwrite.NewRequest[*account.Account, string, events.AccountEvent]("accounts", id).
//	    PersistWith(func(ctx context.Context) (*account.Account, error) { ... }).
//	    ValueMapper(events.Mapper(events.AccountCreated)).
//	    CorrectionRecord(func(ctx context.Context) (*account.Account, error) { ... }).
//	    Build()
//	if err != nil {
//	    return err
//	}
//	return coord.Execute(ctx, req)
package dualwrite
