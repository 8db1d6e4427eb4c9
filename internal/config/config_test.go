package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aetriusgx/openet/internal/api"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))
	return configPath
}

func TestLoad(t *testing.T) {
	configPath := writeConfig(t, `
api:
  key: "secret"
  timeout: 30s
  cache_size: 128

job:
  workers: 4
  start_date: "2023-01-01"
  end_date: "2023-12-31"
  value_field:
    polygon: et_mean

parameters:
  polygon: true
  interval: monthly
  reducer: mean
  models: [Ensemble, SSEBop]
  file_formats: [json]

storage:
  kind: gcs
  project_id: et-project

database:
  enabled: true
  host: "localhost"
  name: "testdb"
  user: "testuser"
  password: "testpass"

logging:
  level: "debug"
  format: "text"
`)

	config, err := Load(configPath)
	require.NoError(t, err)
	require.NoError(t, config.Validate())

	assert.Equal(t, "secret", config.API.Key)
	assert.Equal(t, 30*time.Second, config.API.Timeout)
	assert.Equal(t, 128, config.API.CacheSize)
	assert.Equal(t, api.PointEndpoint, config.API.PointEndpoint)
	assert.Equal(t, 4, config.Job.Workers)
	assert.Equal(t, "et_mean", config.Job.ValueField.Polygon)
	assert.Equal(t, "csv", config.Job.Format)

	assert.True(t, config.Parameters.Polygon)
	assert.Equal(t, "mean", config.Parameters.Reducer)
	assert.Equal(t, []string{"Ensemble", "SSEBop"}, config.Parameters.Models)
	assert.Equal(t, []string{"ET"}, config.Parameters.Variables, "defaults fill unset lists")

	assert.Equal(t, StorageGCS, config.Storage.Kind)
	assert.Equal(t, "forecasting-temp", config.Storage.Bucket)
	assert.Equal(t, "testdb", config.Database.Name)
	assert.Equal(t, 5432, config.Database.Port)
	assert.Equal(t, "debug", config.Logging.Level)
}

func TestLoadDefaults(t *testing.T) {
	config, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0 6 * * *", config.Schedule.Spec)
	assert.Equal(t, 30, config.Schedule.LookbackDays)
	assert.Equal(t, time.Hour, config.Schedule.Timeout)
	assert.Equal(t, 50051, config.Health.Port)
	assert.Equal(t, StorageNone, config.Storage.Kind)
	assert.Equal(t, 1, config.Job.Workers)
	assert.EqualError(t, config.Validate(), "api.key is required")
}

func TestLoadWithEnvExpansion(t *testing.T) {
	t.Setenv("APP_DATABASE_HOST", "envhost")
	t.Setenv("APP_DATABASE_PORT", "5433")

	configPath := writeConfig(t, `
database:
  host: $APP_DATABASE_HOST
  port: ${APP_DATABASE_PORT}
  name: "testdb"
`)

	config, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, "envhost", config.Database.Host)
	assert.Equal(t, 5433, config.Database.Port)
}

func TestLoadWithEnvOverride(t *testing.T) {
	t.Setenv("OPENET_API_KEY", "from-env")
	t.Setenv("OPENET_JOB_WORKERS", "8")
	t.Setenv("OPENET_PARAMETERS_MODELS", "PTJPL,SIMS")

	configPath := writeConfig(t, `
api:
  key: from-file
job:
  workers: 2
`)

	config, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, "from-env", config.API.Key)
	assert.Equal(t, 8, config.Job.Workers)
	assert.Equal(t, []string{"PTJPL", "SIMS"}, config.Parameters.Models)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestValidate(t *testing.T) {
	config, err := Load("")
	require.NoError(t, err)
	config.API.Key = "k"
	config.Job.Workers = 0
	config.Job.Format = "xml"
	config.Parameters.Reducer = "mean"
	config.Storage.Kind = "s3"
	config.Logging.Level = "loud"

	err = config.Validate()
	require.Error(t, err)
	for _, msg := range []string{
		"job.workers must be at least 1",
		"job.format xml is not supported",
		"parameters:",
		"storage.kind s3 is not supported",
		"logging.level",
	} {
		assert.Contains(t, err.Error(), msg)
	}
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Name: "openet", SSLMode: "disable", ConnectionTimeout: 5}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=openet sslmode=disable connect_timeout=5", d.DSN())
}

func TestLogger(t *testing.T) {
	logger, err := LoggingConfig{Level: "warn", Format: "text"}.Logger()
	require.NoError(t, err)
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)

	logger, err = LoggingConfig{Level: "info", Format: "json"}.Logger()
	require.NoError(t, err)
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	_, err = LoggingConfig{Level: "loud"}.Logger()
	assert.Error(t, err)
}
