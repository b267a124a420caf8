package fxchat

// Version is overwritten at release build time via -ldflags.
var Version = "v0.1.0"
