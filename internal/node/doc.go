// Package node implements the transport lifecycle of a hidden-service
// peer-to-peer node: bootstrapping the anonymizing network client on a
// background worker, publishing the hidden endpoint, restarting on
// recoverable failures within a bounded budget, and coordinating a
// shutdown that always completes.
//
// All lifecycle state lives on a single event-loop goroutine; public
// methods and background-task completions post closures into it, so state
// transitions and listener notifications are strictly ordered and free of
// data races.
package node
