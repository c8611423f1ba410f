// Package logging provides structured logging for the devicelink core.
//
// It wraps log/slog with a JSON handler for production and a text handler
// for development. Every entry carries service and version attributes;
// components add their own with With("component", "gateway").
//
// Configuration (config.yaml):
//
//	logging:
//	  level: "info"    # debug, info, warn, error
//	  format: "json"   # json, text
//	  output: "stdout" # stdout, stderr
//
// Device secrets, bearer tokens and MQTT passwords must never be logged.
package logging
