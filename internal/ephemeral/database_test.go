package ephemeral

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/fdwregress/internal/command"
	"github.com/leapstack-labs/fdwregress/internal/testutil"
)

type fakeConn struct {
	execs  []string
	fail   map[string]error
	closed bool
}

func (c *fakeConn) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	c.execs = append(c.execs, sql)
	return pgconn.NewCommandTag("CREATE EXTENSION"), c.fail[sql]
}

func (c *fakeConn) Close(context.Context) error {
	c.closed = true
	return nil
}

var testAdmin = AdminConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "secret"}

func TestGenerateName(t *testing.T) {
	pattern := regexp.MustCompile(`^tbfdw_regress_[0-9]+$`)

	seen := make(map[string]bool)
	for range 20 {
		name := GenerateName("")
		assert.Regexp(t, pattern, name)
		seen[name] = true
	}
	assert.Greater(t, len(seen), 1)

	assert.Regexp(t, `^custom_[0-9]+$`, GenerateName("custom_"))
}

func TestDatabase_Create(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		runner := command.NewFake()
		db := New("tbfdw_regress_42", testAdmin, runner, WithLogger(testutil.NewTestLogger(t)))

		require.NoError(t, db.Create(context.Background()))
		assert.True(t, db.Created())

		calls := runner.CallsTo("createdb")
		require.Len(t, calls, 1)
		assert.Equal(t, []string{
			"--host", "localhost", "--port", "5432", "--username", "postgres", "--no-password", "tbfdw_regress_42",
		}, calls[0].Args)
		assert.Equal(t, []string{"PGPASSWORD=secret"}, calls[0].Env)
	})

	t.Run("failure leaves database uncreated", func(t *testing.T) {
		runner := command.NewFake()
		runner.Results["createdb"] = &command.ExitError{Name: "createdb", Code: 1, Output: "permission denied"}
		db := New("tbfdw_regress_1", testAdmin, runner)

		err := db.Create(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrProvisioningFailed)
		assert.Contains(t, err.Error(), "permission denied")
		assert.False(t, db.Created())

		require.NoError(t, db.Drop(context.Background()))
		assert.Empty(t, runner.CallsTo("dropdb"))
	})
}

func TestDatabase_Drop(t *testing.T) {
	t.Run("never created is a no-op", func(t *testing.T) {
		runner := command.NewFake()
		db := New("tbfdw_regress_1", testAdmin, runner)
		require.NoError(t, db.Drop(context.Background()))
		assert.Empty(t, runner.Calls)
	})

	t.Run("drops the created name once", func(t *testing.T) {
		runner := command.NewFake()
		db := New("tbfdw_regress_7", testAdmin, runner)
		require.NoError(t, db.Create(context.Background()))

		require.NoError(t, db.Drop(context.Background()))
		require.NoError(t, db.Drop(context.Background()))

		drops := runner.CallsTo("dropdb")
		require.Len(t, drops, 1)
		assert.Equal(t, "--if-exists", drops[0].Args[0])
		assert.Equal(t, "tbfdw_regress_7", drops[0].Args[len(drops[0].Args)-1])
		assert.False(t, db.Created())
	})

	t.Run("failed drop can be retried", func(t *testing.T) {
		runner := command.NewFake()
		db := Existing("tbfdw_regress_9", testAdmin, runner)
		runner.Results["dropdb"] = errors.New("in use")

		require.Error(t, db.Drop(context.Background()))
		assert.True(t, db.Created())

		delete(runner.Results, "dropdb")
		require.NoError(t, db.Drop(context.Background()))
		assert.Len(t, runner.CallsTo("dropdb"), 2)
	})

	t.Run("custom programs and maintenance database", func(t *testing.T) {
		runner := command.NewFake()
		cfg := AdminConfig{
			MaintenanceDB: "template1",
			CreateCommand: "/opt/pg/bin/createdb",
			DropCommand:   "/opt/pg/bin/dropdb",
		}
		db := New("tbfdw_regress_3", cfg, runner)
		require.NoError(t, db.Create(context.Background()))
		require.NoError(t, db.Drop(context.Background()))

		assert.Equal(t, []string{"/opt/pg/bin/createdb", "/opt/pg/bin/dropdb"}, runner.Names())
		assert.Equal(t,
			[]string{"--if-exists", "--maintenance-db", "template1", "--no-password", "tbfdw_regress_3"},
			runner.Calls[1].Args)
		assert.Empty(t, runner.Calls[1].Env)
	})
}

func TestDatabase_Bootstrap(t *testing.T) {
	t.Run("installs extensions", func(t *testing.T) {
		conn := &fakeConn{}
		var dialed string
		db := Existing("tbfdw_regress_3", testAdmin, command.NewFake(),
			WithDialer(func(_ context.Context, cs string) (Conn, error) {
				dialed = cs
				return conn, nil
			}))

		require.NoError(t, db.Bootstrap(context.Background(), []string{"pgtap", "tibero_fdw"}))
		assert.Equal(t, []string{
			`CREATE EXTENSION IF NOT EXISTS "pgtap"`,
			`CREATE EXTENSION IF NOT EXISTS "tibero_fdw"`,
		}, conn.execs)
		assert.True(t, conn.closed)
		assert.Contains(t, dialed, "dbname=tbfdw_regress_3")
	})

	t.Run("no extensions does not connect", func(t *testing.T) {
		db := Existing("tbfdw_regress_3", testAdmin, command.NewFake(),
			WithDialer(func(context.Context, string) (Conn, error) {
				t.Fatal("unexpected dial")
				return nil, nil
			}))
		assert.NoError(t, db.Bootstrap(context.Background(), nil))
	})

	t.Run("not created", func(t *testing.T) {
		db := New("tbfdw_regress_3", testAdmin, command.NewFake())
		assert.ErrorIs(t, db.Bootstrap(context.Background(), []string{"pgtap"}), ErrProvisioningFailed)
	})

	t.Run("extension failure", func(t *testing.T) {
		conn := &fakeConn{fail: map[string]error{
			`CREATE EXTENSION IF NOT EXISTS "pgtap"`: errors.New("extension not available"),
		}}
		db := Existing("tbfdw_regress_3", testAdmin, command.NewFake(),
			WithDialer(func(context.Context, string) (Conn, error) { return conn, nil }))

		err := db.Bootstrap(context.Background(), []string{"pgtap"})
		assert.ErrorIs(t, err, ErrProvisioningFailed)
		assert.True(t, conn.closed)
	})

	t.Run("dial failure", func(t *testing.T) {
		db := Existing("tbfdw_regress_3", testAdmin, command.NewFake(),
			WithDialer(func(context.Context, string) (Conn, error) { return nil, errors.New("refused") }))
		assert.ErrorIs(t, db.Bootstrap(context.Background(), []string{"pgtap"}), ErrProvisioningFailed)
	})
}

func TestDatabase_ConnString(t *testing.T) {
	tests := []struct {
		name string
		cfg  AdminConfig
		want string
	}{
		{
			name: "defaults",
			cfg:  AdminConfig{},
			want: "host=localhost port=5432 dbname=db sslmode=disable",
		},
		{
			name: "full",
			cfg:  AdminConfig{Host: "pg", Port: 6543, User: "u", Password: "p"},
			want: "host=pg port=6543 dbname=db sslmode=disable user=u password=p",
		},
		{
			name: "user and host quoted",
			cfg:  AdminConfig{Host: "/var/run/postgresql dir", User: "pg admin"},
			want: `host='/var/run/postgresql dir' port=5432 dbname=db sslmode=disable user='pg admin'`,
		},
		{
			name: "password quoted",
			cfg:  AdminConfig{Password: "it's secret"},
			want: `host=localhost port=5432 dbname=db sslmode=disable password='it\'s secret'`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, New("db", tt.cfg, command.NewFake()).ConnString())
		})
	}
}
