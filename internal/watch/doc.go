// Package watch is the per-tenant polling engine.
//
// The Engine keeps exactly one lease (a timer goroutine) per enabled target,
// reconciles the lease table against a TargetProvider, and on every fire runs
// one fetch cycle:
//
//	Source.FetchLatest -> compare with stored Cursor -> Notifier.Deliver -> Cursor advance
//
// The cursor only advances after a successful delivery. Fires that arrive
// while the previous cycle for the same target is still running are dropped.
// Every failure is scoped to one target and surfaces as a log record and an
// eventbus event; nothing in a cycle can stop other targets.
package watch
