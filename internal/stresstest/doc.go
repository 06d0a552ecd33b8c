/*
Package stresstest sends one request many times over a single shared client
and summarizes the latencies.

# Executor

The Executor schedules Config.TotalRequests copies of the request. An
errgroup bounds the number in flight to Config.Concurrency; every request is
submitted to the same engine, so their stages interleave on one event loop.
Ramp-up spreads the start times over Config.RampUp. Config.Duration stops
scheduling once elapsed; requests already in flight still complete.

Each outcome is classified:
  - error: the engine rejected the request (timeout, connection, protocol)
  - validation error: the response arrived but its status or body did not
    match the expectations
  - success: everything else

# Statistics

Stats tracks min, max and average durations plus P50, P95 and P99 by linear
interpolation over the sorted samples.

# Persistence

Store saves finished runs and their per-kind error counts in the stress_runs
and stress_errors tables of the history database.

# Example Usage

	exec, err := NewExecutor(c, req, &Config{
		Name:          "users",
		Concurrency:   10,
		TotalRequests: 1000,
	})
	if err != nil {
		return err
	}
	run, err := exec.Run(ctx)
	fmt.Printf("P95 latency: %dms\n", run.P95DurationMs)
*/
package stresstest
