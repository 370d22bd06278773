/*
Package execution runs shell commands inside a remote terminal session and
recovers their output.

Every invocation walks the same phases:

	IDLE -> PATH_SYNC -> STRATEGY_SELECT -> STRUCTURED | SENTINEL -> DONE | TIMED_OUT | FAILED

The structured strategy relies on a cooperating shell integration that
reports prompt and command boundaries; the command's output range comes
straight from the finished prompt record. When the integration is missing
or misbehaves the engine falls back to the sentinel strategy: the command is
base64-encoded inside a wrapper that prints unique begin and end markers,
and the output is scraped from the scrollback between them.

Buffer reads are addressed by absolute line number, never by slice index,
because lines scroll out of the retained buffer while a command runs.
*/
package execution
