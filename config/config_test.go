package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempBinary(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "target")
	require.NoError(t, os.WriteFile(path, []byte{0x7f, 'E', 'L', 'F'}, 0o755))
	return path
}

func TestLoadParsesValidConfig(t *testing.T) {
	dir := t.TempDir()
	bin := writeTempBinary(t, dir)

	doc := `
binary = "` + bin + `"
args = ["--flag"]
breakpoints = ["0x1000", "0x2000"]
pass_file = "pass.json"
fail_file = "fail.json"
`
	cfgPath := filepath.Join(dir, "minitarp.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(doc), 0o644))

	cfg, err := Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, bin, cfg.Binary)
	assert.Equal(t, []string{"--flag"}, cfg.Args)
	assert.Equal(t, []string{"0x1000", "0x2000"}, cfg.Breakpoints)

	addrs, err := cfg.Addresses()
	require.NoError(t, err)
	assert.Equal(t, []uintptr{0x1000, 0x2000}, addrs)

	sink := cfg.Sink()
	assert.Equal(t, "pass.json", sink.PassPath)
	assert.Equal(t, "fail.json", sink.FailPath)
}

func TestLoadFailsWhenBinaryMissing(t *testing.T) {
	dir := t.TempDir()
	doc := `binary = ""`
	cfgPath := filepath.Join(dir, "minitarp.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(doc), 0o644))

	_, err := Load(cfgPath)
	assert.Error(t, err)
}

func TestLoadFailsWhenBinaryDoesNotExist(t *testing.T) {
	dir := t.TempDir()
	doc := `binary = "` + filepath.Join(dir, "nope") + `"`
	cfgPath := filepath.Join(dir, "minitarp.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(doc), 0o644))

	_, err := Load(cfgPath)
	assert.Error(t, err)
}

func TestAddressesRejectsMalformedHex(t *testing.T) {
	cfg := &Config{Breakpoints: []string{"not-hex"}}
	_, err := cfg.Addresses()
	assert.Error(t, err)
}
