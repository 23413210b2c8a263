package common

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
)

func LoadEnv(envName, defaultEnv string) string {
	value := os.Getenv(envName)
	if value == "" {
		slog.Debug("environment variable not set, using default", "name", envName, "default", defaultEnv)
		return defaultEnv
	}
	return value
}

func LoadIntEnv(envName string, defaultEnv int) int {
	value := strings.TrimSpace(os.Getenv(envName))
	if value != "" {
		intValue, err := strconv.Atoi(value)
		if err != nil {
			slog.Warn("invalid integer environment value", "name", envName, "value", value)
		} else {
			return intValue
		}
	}
	slog.Debug("environment variable not set, using default", "name", envName, "default", defaultEnv)
	return defaultEnv
}

// ParseEndpoint splits a "tcp://host:port" endpoint into host and port.
func ParseEndpoint(ep string) (string, int, error) {
	if !strings.HasPrefix(ep, "tcp://") {
		return "", 0, fmt.Errorf("invalid endpoint format: %s", ep)
	}
	host, portStr, err := net.SplitHostPort(strings.TrimPrefix(ep, "tcp://"))
	if err != nil {
		return "", 0, fmt.Errorf("invalid endpoint format: %s", ep)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port number: %w", err)
	}
	return host, port, nil
}
