package dbcontext

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = "dbcontext_it"

// itWidget is the record stored in the integration schema.
type itWidget struct {
	ID    int64 `db:"id,pk,writeback"`
	Name  string
	Price decimal.Decimal
}

func (itWidget) TableName() string { return "widget" }

// itNullable lets tests send NULL to the NOT NULL name column.
type itNullable struct {
	Name  *string
	Price decimal.Decimal
}

var testMigrations = []Migration{
	{
		ID:          "001",
		Description: "create widget",
		SQL: `CREATE TABLE widget (
			id    bigint GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			name  text NOT NULL UNIQUE,
			price numeric(10,2) NOT NULL DEFAULT 0 CHECK (price >= 0)
		)`,
	},
	{
		ID:          "002",
		Description: "widget routines",
		SQL: `CREATE PROCEDURE restock(p_name text, p_price numeric)
			LANGUAGE sql AS $$ INSERT INTO ` + testSchema + `.widget (name, price) VALUES (p_name, p_price) $$;
		CREATE FUNCTION widgets_below(p_limit numeric)
			RETURNS SETOF widget
			LANGUAGE sql AS $$ SELECT * FROM ` + testSchema + `.widget WHERE price < p_limit ORDER BY id $$`,
	},
}

// getTestContext connects to TEST_DATABASE_URL and recreates the test
// schema through Migrate. Tests are skipped when the variable is not set.
func getTestContext(t *testing.T, driver Driver) *AutonomousContext {
	t.Helper()

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	cfg := DefaultConfig(dbURL, testSchema).WithDriver(driver)
	cfg.MaxOpenConns = 5
	cfg.ConnMaxLifetime = time.Minute
	cfg.Logger = slog.Default()
	cfg.LogSlowQueries = time.Second

	ac, err := New(cfg)
	require.NoError(t, err, "failed to connect to test database")
	t.Cleanup(func() { _ = ac.Close() })

	ctx := context.Background()
	_, err = ac.ExecuteStatement(ctx, "DROP SCHEMA IF EXISTS "+testSchema+" CASCADE")
	require.NoError(t, err)

	result, err := ac.Migrate(ctx, testMigrations)
	require.NoError(t, err)
	require.Len(t, result.Applied, len(testMigrations))
	return ac
}

func TestIntegration_CRUD(t *testing.T) {
	for _, driver := range []Driver{DriverPG, DriverPGX} {
		t.Run(string(driver), func(t *testing.T) {
			ac := getTestContext(t, driver)
			ctx := context.Background()

			empty, err := SelectAll[itWidget](ctx, ac)
			require.NoError(t, err)
			assert.Empty(t, empty)

			w := &itWidget{Name: "bolt", Price: decimal.RequireFromString("2.50")}
			require.NoError(t, Insert(ctx, ac, w))
			assert.Equal(t, int64(1), w.ID)

			w.Price = decimal.RequireFromString("3.10")
			require.NoError(t, Update(ctx, ac, w))

			all, err := SelectAll[itWidget](ctx, ac)
			require.NoError(t, err)
			require.Len(t, all, 1)
			assert.Equal(t, "bolt", all[0].Name)
			assert.True(t, decimal.RequireFromString("3.1").Equal(all[0].Price))

			require.NoError(t, Delete(ctx, ac, w))
			all, err = SelectAll[itWidget](ctx, ac)
			require.NoError(t, err)
			assert.Empty(t, all)
		})
	}
}

func TestIntegration_ProcedureAndFunction(t *testing.T) {
	ac := getTestContext(t, DriverPG)
	ctx := context.Background()

	n, err := ac.ExecuteProcedure(ctx, "restock", "washer", decimal.RequireFromString("0.05"))
	require.NoError(t, err)
	assert.Zero(t, n, "CALL reports no affected rows")
	_, err = ac.ExecuteProcedure(ctx, "restock", "gear", decimal.RequireFromString("40"))
	require.NoError(t, err)

	cheap, err := ExecuteAndRetrieveAs[itWidget](ctx, ac, "widgets_below", 10)
	require.NoError(t, err)
	require.Len(t, cheap, 1)
	assert.Equal(t, "washer", cheap[0].Name)

	count, err := ac.ExecuteScalar(ctx, `SELECT count(*) FROM `+testSchema+`.widget`)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	named, err := SelectAndRetrieveAs[itWidget](ctx, ac, `SELECT * FROM `+testSchema+`.widget WHERE name = ?`, "gear")
	require.NoError(t, err)
	require.Len(t, named, 1)
	assert.Equal(t, "gear", named[0].Name)
}

func TestIntegration_ConstraintViolations(t *testing.T) {
	ac := getTestContext(t, DriverPG)
	ctx := context.Background()

	require.NoError(t, Insert(ctx, ac, &itWidget{Name: "bolt"}))

	err := Insert(ctx, ac, &itWidget{Name: "bolt"})
	var uniq *UniqueConstraintError
	require.ErrorAs(t, err, &uniq)
	assert.Equal(t, "widget_name_key", uniq.ConstraintName)
	assert.Equal(t, "widget", uniq.Table)
	assert.Equal(t, "bolt", uniq.DuplicatedValue)

	err = Insert(ctx, ac, &itWidget{Name: "nut", Price: decimal.RequireFromString("-1")})
	var check *CheckConstraintError
	require.ErrorAs(t, err, &check)
	assert.Equal(t, "widget_price_check", check.ConstraintName)
	assert.Equal(t, "widget", check.Table)
	assert.Equal(t, "price", check.Field)

	err = Insert(ctx, ac, &itNullable{}, Table("widget"))
	var null *NullValueError
	require.ErrorAs(t, err, &null)
	assert.Equal(t, "name", null.Field)
}

func TestIntegration_RollbackDiscardsInserts(t *testing.T) {
	ac := getTestContext(t, DriverPG)
	ctx := context.Background()

	tc := ac.AsTransactional()
	defer tc.Close()

	require.NoError(t, tc.BeginTransaction(ctx))

	a := &itWidget{Name: "a"}
	require.NoError(t, Insert(ctx, tc, a))
	assert.Equal(t, int64(1), a.ID)
	require.NoError(t, Insert(ctx, tc, &itWidget{Name: "b"}))

	require.NoError(t, tc.RollBackTransaction(ctx))

	all, err := SelectAll[itWidget](ctx, ac)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestIntegration_NestedCommitPersists(t *testing.T) {
	ac := getTestContext(t, DriverPG)
	ctx := context.Background()

	outer := ac.AsTransactional()
	defer outer.Close()
	require.NoError(t, outer.BeginTransaction(ctx))
	require.NoError(t, Insert(ctx, outer, &itWidget{Name: "a"}))

	func() {
		inner := outer.AsTransactional()
		defer inner.Close()

		require.NoError(t, inner.BeginTransaction(ctx))
		require.NoError(t, Insert(ctx, inner, &itWidget{Name: "b"}))
		require.NoError(t, inner.CommitTransaction(ctx))
	}()

	// Not visible outside the transaction yet
	all, err := SelectAll[itWidget](ctx, ac)
	require.NoError(t, err)
	assert.Empty(t, all)

	require.NoError(t, outer.CommitTransaction(ctx))

	all, err = SelectAll[itWidget](ctx, ac)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestIntegration_CloseWithoutCommitRollsBack(t *testing.T) {
	ac := getTestContext(t, DriverPG)
	ctx := context.Background()

	tc := ac.AsTransactional()
	require.NoError(t, tc.BeginTransaction(ctx))
	require.NoError(t, Insert(ctx, tc, &itWidget{Name: "orphan"}))
	require.NoError(t, tc.Close())
	require.NoError(t, tc.Close())

	all, err := SelectAll[itWidget](ctx, ac)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestIntegration_Health(t *testing.T) {
	ac := getTestContext(t, DriverPG)
	ctx := context.Background()

	status := ac.Health(ctx)
	assert.True(t, status.Healthy)
	assert.Equal(t, testSchema, status.Schema)
	assert.Positive(t, status.Latency)
	assert.Equal(t, 5, status.PoolStats.MaxOpenConnections)
	assert.True(t, ac.IsHealthy(ctx))

	tc := ac.AsTransactional()
	require.NoError(t, tc.BeginTransaction(ctx))
	assert.GreaterOrEqual(t, ac.Health(ctx).PoolStats.InUse, 1)
	require.NoError(t, tc.Close())
}

func TestIntegration_MigrateIsIdempotent(t *testing.T) {
	ac := getTestContext(t, DriverPG)
	ctx := context.Background()

	result, err := ac.Migrate(ctx, testMigrations)
	require.NoError(t, err)
	assert.Empty(t, result.Applied)
	assert.Equal(t, []string{"001", "002"}, result.Skipped)

	applied, err := ac.AppliedMigrations(ctx)
	require.NoError(t, err)
	require.Len(t, applied, 2)
	assert.Equal(t, "001", applied[0].ID)
	assert.False(t, applied[0].AppliedAt.IsZero())

	changed := []Migration{{ID: "001", SQL: "CREATE TABLE widget (id int)"}}
	_, err = ac.Migrate(ctx, changed)
	assert.ErrorIs(t, err, ErrMigrationChanged)

	status, err := ac.MigrationStatus(ctx, changed)
	require.NoError(t, err)
	require.Len(t, status, 1)
	assert.True(t, status[0].Applied)
	assert.False(t, status[0].ChecksumMatch)
}
