package handler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFactory() *Factory {
	return NewFactory(5 * time.Second)
}

func TestSupportedKinds(t *testing.T) {
	kinds := testFactory().SupportedKinds()
	assert.Equal(t, []Kind{
		KindExternalAPI,
		KindKOSISAPI,
		KindMongoDB,
		KindMySQL,
		KindPostgreSQL,
		KindSQLite,
	}, kinds)
}

func TestInstalled(t *testing.T) {
	f := testFactory()
	assert.True(t, f.Installed(KindSQLite))
	assert.True(t, f.Installed(KindKOSISAPI))
	assert.False(t, f.Installed(KindRedis))
	assert.False(t, f.Installed(KindOracle))
	assert.False(t, f.Installed(Kind("cassandra")))
}

func TestDescribe(t *testing.T) {
	f := testFactory()

	fields, err := f.Describe(KindMySQL)
	require.NoError(t, err)
	names := fieldNames(fields)
	assert.Contains(t, names, "host")
	assert.Contains(t, names, "port")
	assert.Contains(t, names, "database")
	assert.Contains(t, names, "username")

	// Described even though Make cannot construct it.
	fields, err = f.Describe(KindRedis)
	require.NoError(t, err)
	assert.NotEmpty(t, fields)

	_, err = f.Describe(Kind("cassandra"))
	assert.ErrorIs(t, err, ErrUnsupportedKind)
}

func TestValidateMissingFields(t *testing.T) {
	f := testFactory()

	err := f.Validate(Config{
		ID:   "c1",
		Kind: KindMySQL,
		Options: map[string]any{
			"host": "db.example.com",
		},
	})
	require.Error(t, err)

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.ErrorIs(t, err, ErrConfigInvalid)
	assert.Contains(t, cfgErr.Fields, "database")
	assert.Contains(t, cfgErr.Fields, "username")
	// port has a default, so it is never reported missing.
	assert.NotContains(t, cfgErr.Fields, "port")
}

func TestValidateSelectOption(t *testing.T) {
	f := testFactory()

	err := f.Validate(Config{
		Kind: KindSQLite,
		Options: map[string]any{
			"filePath": "/tmp/data.db",
			"mode":     "append",
		},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigInvalid)

	err = f.Validate(Config{
		Kind: KindSQLite,
		Options: map[string]any{
			"filePath": "/tmp/data.db",
			"mode":     "readonly",
		},
	})
	assert.NoError(t, err)
}

func TestMake(t *testing.T) {
	f := testFactory()

	t.Run("sqlite", func(t *testing.T) {
		h, err := f.Make(Config{
			ID:   "local",
			Kind: KindSQLite,
			Options: map[string]any{
				"filePath": "/tmp/data.db",
			},
		})
		require.NoError(t, err)
		assert.Equal(t, KindSQLite, h.Kind())
		assert.Contains(t, h.SupportedOperations(), "query")
	})

	t.Run("described but not installed", func(t *testing.T) {
		for _, kind := range []Kind{KindRedis, KindOracle, KindMSSQL} {
			_, err := f.Make(Config{
				Kind: kind,
				Options: map[string]any{
					"host": "h", "database": "d", "username": "u", "service_name": "s",
				},
			})
			assert.ErrorIs(t, err, ErrUnsupportedKind, "kind %s", kind)
		}
	})

	t.Run("unknown kind", func(t *testing.T) {
		_, err := f.Make(Config{Kind: Kind("cassandra")})
		assert.ErrorIs(t, err, ErrUnsupportedKind)
	})

	t.Run("invalid config never constructs", func(t *testing.T) {
		_, err := f.Make(Config{Kind: KindSQLite})
		assert.ErrorIs(t, err, ErrConfigInvalid)
	})
}

func TestSensitiveFields(t *testing.T) {
	sensitive := SensitiveFields()
	assert.Contains(t, sensitive, "password")
	assert.Contains(t, sensitive, "api_key")
	assert.Contains(t, sensitive, "connectionString")
}

func fieldNames(fields []FieldSpec) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}
