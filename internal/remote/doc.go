// Package remote defines the boundary to the control-plane application:
// the object model it exposes (windows, tabs, sessions, profiles, line
// buffers, shell prompts) and the Remote interface every transport
// implements.
//
// Terminal buffers are addressed by absolute line number. Lines scroll off
// the top over time; BufferInfo.Overflow is the absolute number of the
// oldest line still retained, so two reads are compared by absolute line
// number and never by slice index.
package remote
