// Package orchestrator starts, inspects and stops executions of registered
// units on Temporal.
//
// A Manager serves one unit kind (workers or workflows) and talks to the
// engine through a Connector. A Service wraps a Manager with caller-facing
// validation: the implementation capability check, cron expressions, argument
// schemas and an optional start rate limit.
//
//	conn, _ := temporal.NewConnectionManager(temporal.Options{HostPort: addr})
//	mgr := orchestrator.NewManager(workers, conn, orchestrator.WithStore(store))
//	svc, _ := orchestrator.NewWorkerService(mgr)
//	id, err := svc.Start(ctx, &arith.AddUnit{}, []any{10, 5}, "")
//
// Every error returned by a Manager or Service is an *execution.Error; match
// its kind with errors.Is against the execution sentinels.
//
// Cancel and terminate are guarded: a request against an execution in a
// terminal state fails with the matching execution.ErrAlready* error and is
// never forwarded to the engine.
package orchestrator
