package bootstrap_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/silentline/sentinel/internal/broker/bootstrap"
	"github.com/silentline/sentinel/internal/broker/db"
	"github.com/silentline/sentinel/internal/broker/model"
	"github.com/silentline/sentinel/internal/broker/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	sqlDB, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.Migrate(sqlDB))
	return store.New(sqlDB)
}

func TestRun_NoSeedPathIsNoOp(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, bootstrap.Run(context.Background(), st, ""))
}

func TestRun_SeedsEmptyDatabaseFromJSON(t *testing.T) {
	st := newTestStore(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "seed.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"sites":[{"id":"site-1","name":"HQ"}]}`), 0o644))

	require.NoError(t, bootstrap.Run(context.Background(), st, path))

	site, err := st.GetSite(context.Background(), "site-1")
	require.NoError(t, err)
	require.Equal(t, "HQ", site.Name)
}

func TestRun_SeedsFromYAMLByExtension(t *testing.T) {
	st := newTestStore(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sites:\n  - id: site-1\n    name: HQ\n"), 0o644))

	require.NoError(t, bootstrap.Run(context.Background(), st, path))

	site, err := st.GetSite(context.Background(), "site-1")
	require.NoError(t, err)
	require.Equal(t, "HQ", site.Name)
}

func TestRun_SkipsWhenAlarmsAlreadyExist(t *testing.T) {
	st := newTestStore(t)
	a := model.Alarm{
		ID: uuid.New(), Status: model.StatusTriggered, Source: "test", Event: "panic_button",
		CreatedAt: time.Now(), Severity: model.SeverityP0, AckToken: uuid.NewString(),
	}
	_, err := st.CreateAlarm(context.Background(), a)
	require.NoError(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "seed.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"sites":[{"id":"site-1","name":"HQ"}]}`), 0o644))

	require.NoError(t, bootstrap.Run(context.Background(), st, path))

	_, err = st.GetSite(context.Background(), "site-1")
	require.Error(t, err, "a live deployment must not be re-seeded")
}

func TestRun_MissingSeedFileReturnsError(t *testing.T) {
	st := newTestStore(t)
	err := bootstrap.Run(context.Background(), st, "/no/such/file.json")
	require.Error(t, err)
}
