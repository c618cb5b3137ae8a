// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime control for the chat server: a configuration store with reload
// listeners, a file watcher that feeds it, a metrics registry, and named
// debug probes exported over the admin endpoint.
package control
