package main

import (
	"testing"

	"github.com/sirupsen/logrus"

	"warungpos/internal/config"
)

func TestValidateSecurityConfigRejectsShortSecret(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "short"})
	if err == nil {
		t.Fatalf("expected weak security config to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongSecret(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	log := newLogger("not-a-level")
	if log.GetLevel() != logrus.InfoLevel {
		t.Fatalf("expected info level fallback, got %s", log.GetLevel())
	}
}
