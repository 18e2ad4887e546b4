// Command sbinspect runs the Service Bus emulator inspector.
//
// The server keeps one Service Bus connection and exposes peek, receive
// and send operations over HTTP for the inspector web UI. The same binary
// doubles as a command-line client for a running server.
//
// Install:
//
//	go install github.com/nuetzliches/sbinspect/cmd/sbinspect@latest
//
// Usage:
//
//	sbinspect serve --listen :5000 --state-db ./.data/sbinspect.db
//	sbinspect connect --connection-string "$SB" --entity test-queue
//	sbinspect peek --max 20
package main
