// Package config loads fleet bootstrap files and process-wide tunables.
//
// A fleet file is YAML naming the transport backend and the node
// configurations an orchestrator pushes when it starts:
//
//	transport:
//	  backend: mqtt
//	  url: mqtt://broker:1883
//	nodes:
//	  - id: radio-1
//	    type: radio
//	    config:
//	      frequency: 915.0e6
//	      modulation: lora
//
// Node config blobs stay opaque: the map decodes from YAML and re-encodes
// as JSON for the wire without interpretation.
//
// Tunables mirror the types.Default* constants and can be overridden with
// FABRIC_* environment variables (Go duration syntax). Parsing is lenient:
// a malformed value keeps the default rather than failing startup.
package config
