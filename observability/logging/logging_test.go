package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupWritesStructuredJSON(t *testing.T) {
	defer slog.SetDefault(slog.Default())
	var buf bytes.Buffer
	logger := Setup("leased", "test", WithOutput(&buf))
	logger.Info("lease opened", "component", "lease", MaskField("customer", "nhb1abc"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "lease opened", line["message"])
	require.Equal(t, "INFO", line["severity"])
	require.Equal(t, "leased", line["service"])
	require.Equal(t, "test", line["env"])
	require.Equal(t, "lease", line["component"])
	require.Equal(t, RedactedValue, line["customer"])
	require.Contains(t, line, "timestamp")
}

func TestSetupFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("leased", "", WithOutput(&buf), WithLevel(slog.LevelWarn))
	logger.Info("dropped")
	require.Zero(t, buf.Len())
	logger.Warn("kept")
	require.Contains(t, buf.String(), "kept")
}

func TestSetupMirrorsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leased.log")
	var buf bytes.Buffer
	logger := Setup("leased", "", WithOutput(&buf), WithFile(path), WithText())
	logger.Info("mirrored")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(raw), "mirrored")
	require.Contains(t, buf.String(), "message=mirrored")
}

func TestMaskField(t *testing.T) {
	require.Equal(t, "lease", MaskField("component", "lease").Value.String())
	require.Equal(t, "nhb1lease", MaskField(" Lease ", "nhb1lease").Value.String())
	require.Equal(t, RedactedValue, MaskField("token", "abc").Value.String())
	require.Equal(t, " ", MaskField("token", " ").Value.String())
	require.Equal(t, "", MaskValue(""))
}

func TestSetupMasksSecretKeys(t *testing.T) {
	defer slog.SetDefault(slog.Default())
	var buf bytes.Buffer
	logger := Setup("leased", "", WithOutput(&buf))
	logger.Info("issued", "token", "eyJhbGci", "refresh_token", "abc", "hmac_secret", "", "height", 7)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, RedactedValue, line["token"])
	require.Equal(t, RedactedValue, line["refresh_token"])
	require.Equal(t, "", line["hmac_secret"])
	require.EqualValues(t, 7, line["height"])
}

func TestMaskDSN(t *testing.T) {
	require.Equal(t, "postgres://leased:"+RedactedValue+"@db:5432/leases",
		MaskDSN("postgres://leased:hunter2@db:5432/leases"))
	require.Equal(t, "host=db user=leased password="+RedactedValue+" dbname=leases",
		MaskDSN("host=db user=leased password=hunter2 dbname=leases"))
	require.Equal(t, "file:journal.db", MaskDSN("file:journal.db"))
}
