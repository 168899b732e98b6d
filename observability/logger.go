// Package observability wires up structured logging and distributed
// tracing for the engine process.
package observability

import (
	"go.uber.org/zap"
)

// NewLogger builds a zap logger appropriate to environment: "production"
// gets the JSON production config, anything else gets the human-readable
// development config.
func NewLogger(environment string) (*zap.Logger, error) {
	if environment == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
