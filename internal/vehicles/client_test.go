package vehicles

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/motorshield/warranty-api/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(Config{Endpoint: srv.URL + "/", APIKey: "k-123", HTTPClient: srv.Client()})
	require.NoError(t, err)
	return client
}

func TestLookupFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/vehicles/AB12CDE", r.URL.Path)
		assert.Equal(t, "k-123", r.Header.Get(apiKeyHeader))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"found":true,"registration":"ab12 cde","make":"Nissan","model":"Leaf","year":2021,"fuelType":"Electric","vehicleClass":"car"}`))
	})

	result, err := client.Lookup(context.Background(), "ab12 cde", 32000)
	require.NoError(t, err)
	require.True(t, result.Found)
	assert.Equal(t, domain.VehicleProfile{
		RegNumber: "AB12CDE",
		Mileage:   32000,
		Make:      "Nissan",
		Model:     "Leaf",
		Year:      2021,
		FuelType:  "Electric",
		Class:     domain.VehicleClassCar,
	}, result.Vehicle)
	assert.Equal(t, domain.FuelCategoryElectric, result.Vehicle.FuelCategory())
}

func TestLookupMotorbikeFromBodyType(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"found":true,"make":"Honda","year":2019,"bodyType":"Motorcycle"}`))
	})

	result, err := client.Lookup(context.Background(), "MC19ABC", 9000)
	require.NoError(t, err)
	assert.Equal(t, domain.VehicleClassMotorbike, result.Vehicle.Class)
	assert.Equal(t, "MC19ABC", result.Vehicle.RegNumber)
}

func TestLookupIneligible(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"found":false,"error":{"code":"VEHICLE_TOO_OLD","message":"Vehicles over 15 years old cannot be covered"}}`))
	})

	result, err := client.Lookup(context.Background(), "OLD1", 90000)
	require.NoError(t, err)
	assert.False(t, result.Found)
	assert.True(t, result.Ineligible())
	assert.Equal(t, reasonTooOld, result.Reason)
	assert.Equal(t, "Vehicles over 15 years old cannot be covered", result.Message)
}

func TestLookupNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	result, err := client.Lookup(context.Background(), "NOPE1", 1)
	require.NoError(t, err)
	assert.False(t, result.Found)
	assert.False(t, result.Ineligible())
}

func TestLookupUnavailable(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.Lookup(context.Background(), "AB12CDE", 1)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestLookupMalformedBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	})

	_, err := client.Lookup(context.Background(), "AB12CDE", 1)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestLookupRejectsEmptyRegistration(t *testing.T) {
	client := newTestClient(t, func(http.ResponseWriter, *http.Request) {
		t.Fatal("no request expected")
	})
	_, err := client.Lookup(context.Background(), "  ", 1)
	assert.ErrorIs(t, err, ErrInvalidRegistration)
}

func TestNewClientRequiresEndpoint(t *testing.T) {
	_, err := NewClient(Config{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}
