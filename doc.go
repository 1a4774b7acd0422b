/*
Package dbcontext maps typed records to PostgreSQL tables and runs CRUD
statements through autonomous or transactional execution contexts.

An execution context is either autonomous, taking a pooled connection for
each call, or transactional, holding one connection and at most one
transaction across calls. Engine errors are classified into typed errors
carrying the table, field, constraint and duplicated value reported by the
server.

# Basic Usage

	cfg := dbcontext.DefaultConfig(os.Getenv("DATABASE_URL"), "inventory")
	cfg.Logger = slog.Default()
	cfg.LogSlowQueries = 100 * time.Millisecond

	ac, err := dbcontext.New(cfg)
	if err != nil {
	    log.Fatal(err)
	}
	defer ac.Close()

Connection strings can also be resolved by name from a YAML file:

	settings, err := dbcontext.LoadSettingsFile("database.yaml")
	cfg, err := settings.Default()

# Records

Records are structs. Columns default to the snake_case field name and the
table to the snake_case type name; the db tag overrides both:

	type Product struct {
	    ID    int64  `db:"id,pk,writeback"` // identity, filled in by Insert
	    Name  string `db:"name"`
	    Price decimal.Decimal
	    Notes string `db:"-"`               // not mapped
	}

Tag options are pk, identity and writeback (identity plus write-back of
the generated value). A TableName method overrides the table name.

# CRUD

	products, err := dbcontext.SelectAll[Product](ctx, ac)
	err = dbcontext.Insert(ctx, ac, &p)
	err = dbcontext.Update(ctx, ac, &p)
	err = dbcontext.Delete(ctx, ac, &p)

	rows, err := dbcontext.ExecuteAndRetrieveAs[Product](ctx, ac, "products_below", 10)
	n, err := ac.ExecuteProcedure(ctx, "archive_products", cutoff)

# Transactions

	tc := ac.AsTransactional()
	defer tc.Close() // rolls back unless committed

	if err := tc.BeginTransaction(ctx); err != nil {
	    return err
	}
	if err := dbcontext.Insert(ctx, tc, &p); err != nil {
	    return err
	}
	return tc.CommitTransaction(ctx)

Calling AsTransactional on a transactional context returns the same context
with one more nesting layer. Inner scopes call Close to remove their layer;
their CommitTransaction is a no-op and their RollBackTransaction marks the
transaction rollback-only. Only the outermost scope commits.

# Error Handling

	if err := dbcontext.Insert(ctx, ac, &p); err != nil {
	    var uniq *dbcontext.UniqueConstraintError
	    if errors.As(err, &uniq) {
	        fmt.Println(uniq.ConstraintName)  // product_name_key
	        fmt.Println(uniq.DuplicatedValue) // widget
	    }
	}
*/
package dbcontext
