// Package jobs runs batch matching jobs.
//
// A Coordinator owns the lifecycle pending -> matching -> completed, failed or
// cancelled. Each job is processed in waves: the adaptive batcher picks the
// wave size, items in a wave are matched concurrently, and the coordinator
// waits for the whole wave before persisting its results, publishing
// progress and deciding the next size. Cancellation is cooperative and is
// honoured only between waves.
//
// Process shutdown is not cancellation. Jobs interrupted by Stop stay in
// matching and are picked up again by ResumeInterrupted, which skips rows that
// already have a result.
package jobs
