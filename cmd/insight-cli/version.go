package main

// Overridden at build time with -ldflags "-X main.commitHash=...".
var commitHash = "dev"
