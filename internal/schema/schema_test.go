package schema

import (
	"errors"
	"testing"

	"github.com/erauner12/garagesync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_LookupUnknown(t *testing.T) {
	reg := DefaultRegistry()

	_, err := reg.Lookup("spaceships")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCollectionNotFound))

	var cnf *CollectionNotFoundError
	require.ErrorAs(t, err, &cnf)
	assert.Equal(t, "spaceships", cnf.Name)
}

func TestRegistry_DefaultAPIPath(t *testing.T) {
	reg := DefaultRegistry()

	c, err := reg.Lookup("clients")
	require.NoError(t, err)
	assert.Equal(t, "/api/clients", c.APIPath)

	st, err := reg.Lookup("service_types")
	require.NoError(t, err)
	assert.Equal(t, "/api/service-types", st.APIPath)
}

func TestRegistry_ReferencesTo(t *testing.T) {
	reg := DefaultRegistry()

	refs := reg.ReferencesTo("clients")
	assert.Equal(t, []Reference{
		{Collection: "budgets", Field: "client_id"},
		{Collection: "services", Field: "client_id"},
		{Collection: "vehicles", Field: "client_id"},
	}, refs)

	assert.Empty(t, reg.ReferencesTo("budgets"))
}

func TestCollection_Validate(t *testing.T) {
	reg := DefaultRegistry()
	vehicles, err := reg.Lookup("vehicles")
	require.NoError(t, err)

	tests := []struct {
		name    string
		rec     models.Record
		wantErr string
	}{
		{"valid local row", models.Record{"id": int64(-3), "client_id": int64(-1), "plate": "ABC1D23"}, ""},
		{"valid decoded json", models.Record{"id": float64(8), "client_id": float64(2), "plate": "X", "year": float64(2020)}, ""},
		{"zero id", models.Record{"id": int64(0), "client_id": int64(1), "plate": "X"}, "vehicles.id"},
		{"missing required", models.Record{"id": int64(1), "client_id": int64(1)}, "vehicles.plate: is required"},
		{"wrong kind", models.Record{"id": int64(1), "client_id": "one", "plate": "X"}, "vehicles.client_id"},
		{"fractional year", models.Record{"id": int64(1), "client_id": int64(1), "plate": "X", "year": 2020.5}, "vehicles.year"},
		{"extra fields pass", models.Record{"id": int64(1), "client_id": int64(1), "plate": "X", "color": "red"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := vehicles.Validate(tt.rec)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCollection_ValidatePatch(t *testing.T) {
	reg := DefaultRegistry()
	services, err := reg.Lookup("services")
	require.NoError(t, err)

	assert.NoError(t, services.ValidatePatch(models.Record{"status": "done"}))
	assert.NoError(t, services.ValidatePatch(models.Record{"date": "2025-11-03T10:00:00Z"}))
	assert.Error(t, services.ValidatePatch(models.Record{"date": "yesterday"}))
	assert.Error(t, services.ValidatePatch(models.Record{"price": "cheap"}))
}
