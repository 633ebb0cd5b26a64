// Package flows contains the orchestration behind every Engine operation.
//
// Each Run function takes a typed dependency struct whose func fields the
// root engine fills in, so flows never import authgate and can be tested
// with plain closures. Sentinel errors, metric ids and audit event names are
// passed in through the Errors, Metrics and Events sub-structs.
//
// Flows hold no state between calls and perform no I/O except through
// their dependencies.
package flows
