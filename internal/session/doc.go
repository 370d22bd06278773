/*
Package session keeps a durable reference to one terminal session on the
control plane.

A Handle bundles the connection with the window, tab and session ids and the
profile that commands run under. Session ids are the source of truth: every
validation re-derives the owning window and tab from the live layout, so a
tab dragged to another window is followed rather than lost. When validation
fails the Handle is rebuilt through its refresh callback and updated in
place, which keeps long-lived references valid across reconnects.

The Resolver produces Handles. It picks a window, reuses a tab whose title
or session name carries the identifying tag, and otherwise creates and tags
a new tab so later runs converge on it.
*/
package session
