package authz

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

type Config struct {
	ModelPath  string
	PolicyPath string
	Logger     *logrus.Logger
}

func (c Config) validate() error {
	if c.ModelPath == "" {
		return configError("model path is required")
	}
	if c.PolicyPath == "" {
		return configError("policy path is required")
	}
	return nil
}

// configError standardizes configuration validation errors.
func configError(msg string, args ...any) error {
	return fmt.Errorf("authz: "+msg, args...)
}
