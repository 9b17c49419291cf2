package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ashureev/learnflow/internal/coderun"
	"github.com/ashureev/learnflow/internal/config"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetConfig(t *testing.T) {
	r := chi.NewRouter()
	NewConfigHandler(&config.Config{RunTimeout: 7, Greeting: "Hello", DefaultLearnerID: "3"}).RegisterRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/config", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "python", got["language"])
	assert.Equal(t, float64(7), got["timeout_seconds"])
	assert.Equal(t, "Hello", got["greeting"])
	assert.Equal(t, coderun.StarterCode, got["starter_code"])
	assert.Equal(t, "3", got["learner_id"])
}
