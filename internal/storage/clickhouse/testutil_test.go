package clickhouse

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"solana-liquidity-sync/internal/storage/migrations"
)

// setupTestDB starts ClickHouse, creates the history database through
// OpenDatabase and the migrator, and returns a connection to it.
func setupTestDB(t *testing.T) *Conn {
	t.Helper()
	if testing.Short() {
		t.Skip("clickhouse integration test skipped in short mode")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "clickhouse/clickhouse-server:24.1-alpine",
			ExposedPorts: []string{"9000/tcp"},
			Env:          map[string]string{"CLICKHOUSE_USER": "default", "CLICKHOUSE_PASSWORD": ""},
			WaitingFor: wait.ForAll(
				wait.ForLog("Ready for connections").WithStartupTimeout(90*time.Second),
				wait.ForListeningPort("9000/tcp"),
			),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate clickhouse: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)

	// The database does not exist yet; OpenDatabase creates it.
	conn, err := OpenDatabase(ctx, fmt.Sprintf("clickhouse://default:@%s:%s/liquidity", host, port.Port()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	applied, err := migrations.RunClickhouseMigrations(ctx, conn)
	require.NoError(t, err)
	require.NotEmpty(t, applied)

	applied, err = migrations.RunClickhouseMigrations(ctx, conn)
	require.NoError(t, err)
	require.Empty(t, applied, "second run must find every file recorded")
	return conn
}
