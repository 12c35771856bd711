// Package worker provides a bounded, generic worker pool.
//
// The pool is the shared executor for action behaviors: a fixed number of
// goroutines drain a bounded queue, Submit never blocks, and a full queue
// is reported as ErrQueueFull rather than spawning more goroutines.
//
// # Usage
//
//	pool := worker.NewTaskPool(8, 256, worker.WithMetrics[worker.Task](prometheus.DefaultRegisterer, "webthing_actions"))
//	if err := pool.Start(ctx); err != nil {
//	    return err
//	}
//	defer pool.Stop(10 * time.Second)
//
//	thing.SetExecutor(pool)
package worker
