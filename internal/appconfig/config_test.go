package appconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleTOML = `
[engine]
log_level = "debug"
metrics_addr = ":9090"
health_addr = ":8080"

[database]
postgres_dsn = "postgres://localhost/indexer"

[fanout]
url = "nats://localhost:4222"
stream_name = "evmweave"

[[chains]]
id = 137
name = "polygon"
endpoints = ["https://polygon-rpc.example/1", "https://polygon-rpc.example/2"]
ws_endpoint = "wss://polygon-rpc.example/ws"
poll_interval_ms = 1500
finality_depth = 128
cache_reads = true
cache_writes = true
`

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadParsesChainsAndOverrides(t *testing.T) {
	path := writeTemp(t, sampleTOML)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Chains, 1)

	chain := cfg.Chains[0].Chain
	require.EqualValues(t, 137, chain.ID)
	require.Equal(t, "polygon", chain.Name)
	require.Len(t, chain.Endpoints, 2)
	require.EqualValues(t, 128, chain.FinalityDepth)
	require.True(t, cfg.Database.UsesPostgres())
}

func TestLoadRejectsMissingDatabase(t *testing.T) {
	path := writeTemp(t, `
[[chains]]
id = 1
name = "ethereum"
endpoints = ["https://eth.example"]
finality_depth = 64
poll_interval_ms = 1000
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsDuplicateChainIDs(t *testing.T) {
	path := writeTemp(t, `
[database]
bolt_path = "/tmp/indexer.db"

[[chains]]
id = 1
name = "a"
endpoints = ["https://a.example"]
finality_depth = 10
poll_interval_ms = 1000

[[chains]]
id = 1
name = "b"
endpoints = ["https://b.example"]
finality_depth = 10
poll_interval_ms = 1000
`)
	_, err := Load(path)
	require.Error(t, err)
}
