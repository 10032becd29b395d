package config

import (
	"go.uber.org/zap"
)

// NewLogger builds a JSON production logger in production and a console logger elsewhere.
func NewLogger() (*zap.Logger, error) {
	if LoadAppConfig().IsProduction() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
