// Command sonomap is the CLI and daemon entry point for the audio
// analysis service.
package main
