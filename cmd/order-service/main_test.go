package main

import (
	"os"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orders/internal/app"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("ORDERS_CONFIG", "")
	prev := log.GetLevel()
	t.Cleanup(func() { log.SetLevel(prev) })

	cfg, err := loadConfig(nil)
	require.NoError(t, err)
	require.Equal(t, app.DefaultConfig(), cfg)
	require.Equal(t, log.InfoLevel, log.GetLevel())
}

func TestLoadConfig_FileFlag(t *testing.T) {
	prev, prevFormatter := log.GetLevel(), log.StandardLogger().Formatter
	t.Cleanup(func() {
		log.SetLevel(prev)
		log.SetFormatter(prevFormatter)
	})

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("metrics_addr: \":9191\"\nlog_level: warn\n"), 0o600))

	cfg, err := loadConfig([]string{"-config", path})
	require.NoError(t, err)
	require.Equal(t, ":9191", cfg.MetricsAddr)
	require.Equal(t, log.WarnLevel, log.GetLevel())
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := loadConfig([]string{"-unknown"})
	require.Error(t, err)

	_, err = loadConfig([]string{"-config", filepath.Join(t.TempDir(), "missing.yaml")})
	require.Error(t, err)

	t.Setenv("ORDERS_LOG_LEVEL", "chatty")
	_, err = loadConfig(nil)
	require.Error(t, err)
}
