package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/relaydesk/internal/core"
	"github.com/relaydesk/relaydesk/internal/models"
)

type agentStore struct {
	core.Store
	agents map[string]*models.Agent
}

func newAgentStore() *agentStore {
	return &agentStore{agents: map[string]*models.Agent{}}
}

func (s *agentStore) CreateAgent(_ context.Context, a *models.Agent) error {
	if _, ok := s.agents[a.Email]; ok {
		return errors.New("duplicate email")
	}
	cp := *a
	s.agents[a.Email] = &cp
	return nil
}

func (s *agentStore) GetAgentByEmail(_ context.Context, email string) (*models.Agent, error) {
	a, ok := s.agents[email]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func postJSON(t *testing.T, h http.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestSignupAndLogin(t *testing.T) {
	store := newAgentStore()
	h := NewAuthHandler(store, "secret")

	rec := postJSON(t, h.Signup, `{"name":"Sam","email":"sam@example.com","password":"hunter22"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var signup map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&signup))
	assert.NotEmpty(t, signup["token"])

	agent := store.agents["sam@example.com"]
	require.NotNil(t, agent)
	assert.NotEqual(t, "hunter22", agent.PasswordHash, "password must be stored hashed")

	rec = postJSON(t, h.Login, `{"email":"sam@example.com","password":"hunter22"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var login map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&login))
	assert.NotEmpty(t, login["token"])
}

func TestSignupMissingFields(t *testing.T) {
	h := NewAuthHandler(newAgentStore(), "secret")

	rec := postJSON(t, h.Signup, `{"email":"","password":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSignupDuplicateEmail(t *testing.T) {
	store := newAgentStore()
	h := NewAuthHandler(store, "secret")

	rec := postJSON(t, h.Signup, `{"email":"sam@example.com","password":"hunter22"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = postJSON(t, h.Signup, `{"email":"sam@example.com","password":"hunter22"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestLoginWrongPassword(t *testing.T) {
	store := newAgentStore()
	h := NewAuthHandler(store, "secret")

	postJSON(t, h.Signup, `{"email":"sam@example.com","password":"hunter22"}`)

	rec := postJSON(t, h.Login, `{"email":"sam@example.com","password":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginUnknownEmail(t *testing.T) {
	h := NewAuthHandler(newAgentStore(), "secret")

	rec := postJSON(t, h.Login, `{"email":"nobody@example.com","password":"x"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
