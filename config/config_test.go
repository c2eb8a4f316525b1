package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseFees(t *testing.T) {
	fees, err := parseFees("Full:1000, student : 250")
	require.NoError(t, err)
	require.Equal(t, map[string]int64{"full": 1000, "student": 250}, fees)

	_, err = parseFees("full")
	require.Error(t, err)

	_, err = parseFees("full:-1")
	require.Error(t, err)
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PUBLIC_BASE_URL", "https://society.example/")
	t.Setenv("PAYMENT_CALLBACK_URL", "")
	t.Setenv("PAYMENT_POLL_INTERVAL_SEC", "")
	t.Setenv("PAYMENT_POLL_TIMEOUT_MIN", "")
	t.Setenv("MEMBERSHIP_FEES", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "https://society.example", cfg.Server.PublicBaseURL)
	require.Equal(t, "https://society.example/payments/callback", cfg.Payment.CallbackURL)
	require.Equal(t, 5, cfg.Payment.PollIntervalSec)
	require.Equal(t, 0, cfg.Payment.PollTimeoutMinutes)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: "5432", User: "u", Password: "p", DBName: "n", SSLMode: "disable"}
	require.Equal(t, "postgres://u:p@db:5432/n?sslmode=disable", c.DSN())
	c.URL = "postgres://override"
	require.Equal(t, "postgres://override", c.DSN())
}
