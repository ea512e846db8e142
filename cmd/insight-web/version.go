package main

// Build-time version identity, injected via -ldflags:
//
//	go build -ldflags="-X main.commitHash=${COMMIT_HASH}"
//
// In development (go run), the default "dev" is used.
var commitHash = "dev"
