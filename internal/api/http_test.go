package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mpoliveira/medtrack/internal/common"
	"github.com/mpoliveira/medtrack/internal/models"
)

type staticTokens string

func (s staticTokens) Token(ctx context.Context) (string, error) { return string(s), nil }

func TestHTTPClient_Login(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/login", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "ana@example.com", body["email"])
		require.Equal(t, "secret", body["senha"])

		json.NewEncoder(w).Encode(Session{AccessToken: "at", RefreshToken: "rt", UserID: 7, Role: "farmaceutico"})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, nil)
	s, err := c.Login(context.Background(), "ana@example.com", "secret")
	require.NoError(t, err)
	require.Equal(t, "at", s.AccessToken)
	require.Equal(t, int64(7), s.UserID)
}

func TestHTTPClient_BearerHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer tok123", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode([]models.RemoteMedication{})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, staticTokens("tok123"))
	_, err := c.ListMedications(context.Background())
	require.NoError(t, err)
}

func TestHTTPClient_CreateMedication(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/medicamentos", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "Dipirona 500mg", body["nome"])

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(models.RemoteMedication{ID: 42, Name: "Dipirona 500mg", CreatedAt: now, UpdatedAt: now})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, staticTokens("tok"))
	out, err := c.CreateMedication(context.Background(), models.MedicationRequest{Name: "Dipirona 500mg"})
	require.NoError(t, err)
	require.Equal(t, int64(42), out.ID)
}

func TestHTTPClient_InteractionCompositeRoutes(t *testing.T) {
	var gotPath, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, staticTokens("tok"))

	// The pair is normalized into the path regardless of argument order.
	key := models.InteractionKey{MedAID: 9, MedBID: 3}
	require.NoError(t, c.DeleteInteraction(context.Background(), key))
	require.Equal(t, http.MethodDelete, gotMethod)
	require.Equal(t, "/interacoes/3/9", gotPath)

	require.NoError(t, c.UpdateInteraction(context.Background(), key, models.InteractionRequest{}))
	require.Equal(t, http.MethodPut, gotMethod)
	require.Equal(t, "/interacoes/3/9", gotPath)
}

func TestHTTPClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, common.ErrUnauthorized},
		{"forbidden", http.StatusForbidden, common.ErrUnauthorized},
		{"not found", http.StatusNotFound, common.ErrNotFound},
		{"bad request", http.StatusBadRequest, common.ErrValidationRejected},
		{"unprocessable", http.StatusUnprocessableEntity, common.ErrValidationRejected},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			c := NewHTTPClient(srv.URL, staticTokens("tok"))
			err := c.DeleteMedication(context.Background(), 1)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestHTTPClient_ServerErrorRetriesThenFails(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, staticTokens("tok"))
	err := c.Ping(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, common.ErrNetworkUnavailable)
	require.Equal(t, 3, calls)
}

func TestHTTPClient_ServerErrorRecovers(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, staticTokens("tok"))
	require.NoError(t, c.Ping(context.Background()))
	require.Equal(t, 2, calls)
}

func TestHTTPClient_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listening anymore

	c := NewHTTPClient(srv.URL, nil)
	err := c.Ping(context.Background())
	require.ErrorIs(t, err, common.ErrNetworkUnavailable)
}

func TestHTTPClient_PingIsUnauthenticated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Empty(t, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	// No token source wired at all; ping must still work.
	c := NewHTTPClient(srv.URL, nil)
	require.NoError(t, c.Ping(context.Background()))
}
