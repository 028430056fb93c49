// Package application wires configuration into the deployment records,
// artifact store, metrics registry, deployer and status server, keeping the
// main package focused on CLI parsing and orchestration.
package application
