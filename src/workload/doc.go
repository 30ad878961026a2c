// Package workload holds the small request/response workloads a rumor node
// serves besides broadcast: echo, and generate, which hands out globally
// unique ids without any coordination.
package workload
