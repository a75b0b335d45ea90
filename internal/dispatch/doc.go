// Package dispatch issues "run trigger" commands against the scheduler.
//
// The Dispatcher is the only component that mutates backend state. It is not
// idempotent: every call requests a new run, and concurrent calls for the same
// trigger are not merged, since an operator may deliberately fire several.
//
// Outcome handling:
//   - Success: the run list of the trigger is invalidated in the query cache so
//     the next read refetches it. No local run record is synthesized.
//   - Failure: the error is returned as is. No retry, no invalidation.
//   - Missing required params: a *repository.ValidationError is returned and no
//     request is sent.
//
// Pending state for a control (button, spinner) comes from InFlight, which
// counts the dispatcher's own outstanding calls, never from the cache.
package dispatch
