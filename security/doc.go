// Package security provides the three safety oracles consulted by the
// workflow: a prompt-injection guard, a groundedness checker and a PII
// scanner.
//
// Every oracle fails closed. An internal error never escapes: the guard
// reports "not secured", the groundedness checker reports "not grounded" and
// the PII scanner reports no PII with an empty redaction. Failures are logged
// at warn level.
package security
