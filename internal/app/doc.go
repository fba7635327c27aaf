// Package app assembles a localchat process: it opens the store, syncs the
// model directory, starts retrieval loading in the background and builds the
// session the HTTP layer and the CLI drive.
package app
