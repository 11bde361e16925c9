// Package ports declares the interfaces between the engine core and its
// adapters: run state repository, event broadcaster, work dispatcher, step
// executors and metrics. Adapters under pkg/adapters implement them.
package ports
