package store_test

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/codeready-toolchain/sumeval/pkg/store"
)

// Shared Postgres testcontainer for the whole package, mirroring
// test/util/database.go's containerOnce pattern in the teacher.
var (
	containerOnce sync.Once
	containerErr  error
	containerCfg  store.PostgresConfig
)

func newPostgresStore(t *testing.T) store.Store {
	ctx := context.Background()
	containerOnce.Do(func() {
		pgContainer, err := postgres.Run(ctx,
			"postgres:17-alpine",
			postgres.WithDatabase("sumeval"),
			postgres.WithUsername("sumeval"),
			postgres.WithPassword("sumeval"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		if err != nil {
			containerErr = fmt.Errorf("start postgres container: %w", err)
			return
		}
		host, err := pgContainer.Host(ctx)
		if err != nil {
			containerErr = err
			return
		}
		port, err := pgContainer.MappedPort(ctx, "5432/tcp")
		if err != nil {
			containerErr = err
			return
		}
		containerCfg = store.PostgresConfig{
			Host: host, Port: port.Int(), User: "sumeval", Password: "sumeval",
			Database: "sumeval", SSLMode: "disable", MaxOpenConns: 5,
		}
	})
	require.NoError(t, containerErr, "postgres testcontainer setup")

	s, err := store.NewPostgresStore(ctx, containerCfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newSQLiteStore(t *testing.T) store.Store {
	path := t.TempDir() + "/" + randomName() + ".db"
	s, err := store.NewSQLiteStore(context.Background(), path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func randomName() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
