// Package http speaks the license service wire protocol: the
// multipart baseline seal endpoint and the online license
// verification endpoint. It carries the client used by the sync
// engine and a minimal in-process implementation of the same contract
// for self-tests.
package http
