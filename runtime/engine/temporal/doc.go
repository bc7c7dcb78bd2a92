// Package temporal connects the orchestration runtime to a Temporal cluster.
//
// # Connection Management
//
// ConnectionManager owns the single Temporal client of a process. The client
// is dialed lazily on first use with a bounded retry budget and cached for the
// rest of the process lifetime:
//
//	conn, err := temporal.NewConnectionManager(temporal.Options{
//	    HostPort:  "temporal:7233",
//	    Namespace: "default",
//	})
//	if err != nil {
//	    return err
//	}
//	defer conn.Close()
//	c, err := conn.Client(ctx)
//
// Concurrent first callers share one dial. Dial failures are never cached:
// once the retry budget is exhausted the caller receives an
// *execution.Error of kind execution.ErrConnection naming the address and
// the number of attempts, and the next call dials again.
//
// # Instrumentation
//
// OpenTelemetry tracing and metrics are installed on the client by default
// using the Temporal contrib interceptors. WorkerOptions applies the same
// tracing interceptor to worker options so workflow and activity spans join
// the traces started by clients.
//
// # Results
//
// DecodeResult converts the result payloads of a closed run into JSON so
// results of any unit can be reported without knowing their Go type.
package temporal
