package main

// Build-time version identity, injected via -ldflags during the container
// build. "dev" is used otherwise.
var commitHash = "dev"
