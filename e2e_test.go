package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/FACorreiaa/go-credentials-api/config"
	"github.com/FACorreiaa/go-credentials-api/internal/container"
	"github.com/FACorreiaa/go-credentials-api/internal/types"
)

// E2ETestSuite drives the full HTTP stack over the in-memory credential store.
type E2ETestSuite struct {
	suite.Suite
	server    *httptest.Server
	container *container.Container
	client    *http.Client
}

func testConfig() *config.Config {
	cfg := &config.Config{Mode: config.ModeDevelopment}
	cfg.Repositories.Driver = config.DriverMemory
	cfg.JWT = config.JWTConfig{SecretKey: "e2e-secret", Issuer: "e2e", AccessTokenTTL: time.Hour}
	cfg.Security.BcryptCost = 4
	cfg.Security.RequireToken = true
	cfg.Server.Timeout = 10 * time.Second
	return cfg
}

func (s *E2ETestSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := testConfig()

	c, err := container.NewContainer(context.Background(), cfg, logger, nil)
	s.Require().NoError(err)
	s.container = c
	s.server = httptest.NewServer(newHandler(cfg, c, logger))
	s.client = &http.Client{Timeout: 10 * time.Second}
}

func (s *E2ETestSuite) TearDownTest() {
	s.server.Close()
	s.container.Close()
}

func (s *E2ETestSuite) request(method, path, token string, body any) (*http.Response, []byte) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, s.server.URL+path, reader)
	s.Require().NoError(err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.client.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)
	return resp, raw
}

func (s *E2ETestSuite) register(username, email, password string) int64 {
	resp, raw := s.request(http.MethodPost, "/api/register", "", map[string]string{
		"username": username, "email": email, "password": password,
	})
	s.Require().Equal(http.StatusCreated, resp.StatusCode, string(raw))

	var body types.RegisterResponse
	s.Require().NoError(json.Unmarshal(raw, &body))
	s.Require().Positive(body.UserID)
	return body.UserID
}

func (s *E2ETestSuite) login(email, password string) string {
	resp, raw := s.request(http.MethodPost, "/api/login", "", map[string]string{"email": email, "password": password})
	s.Require().Equal(http.StatusOK, resp.StatusCode, string(raw))

	var body types.LoginResult
	s.Require().NoError(json.Unmarshal(raw, &body))
	s.Require().NotEmpty(body.Token)
	return body.Token
}

func (s *E2ETestSuite) listUsers(token, search string) []types.AccountView {
	path := "/api/users"
	if search != "" {
		path += "?search=" + url.QueryEscape(search)
	}
	resp, raw := s.request(http.MethodGet, path, token, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode, string(raw))

	var views []types.AccountView
	s.Require().NoError(json.Unmarshal(raw, &views))
	return views
}

func (s *E2ETestSuite) errorMessage(raw []byte) string {
	var body map[string]string
	s.Require().NoError(json.Unmarshal(raw, &body))
	s.Require().Len(body, 1)
	return body["error"]
}

// TestAccountLifecycle walks register, login, search, update and delete end to end.
func (s *E2ETestSuite) TestAccountLifecycle() {
	id := s.register("u1", "u1@x.com", "pw123")

	resp, raw := s.request(http.MethodPost, "/api/login", "", map[string]string{"email": "u1@x.com", "password": "pw123"})
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var loginBody struct {
		Token string            `json:"token"`
		User  types.AccountView `json:"user"`
	}
	s.Require().NoError(json.Unmarshal(raw, &loginBody))
	s.NotEmpty(loginBody.Token)
	s.Equal("u1", loginBody.User.Username)
	s.NotContains(string(raw), "password")
	token := loginBody.Token

	resp, raw = s.request(http.MethodPost, "/api/login", "", map[string]string{"email": "u1@x.com", "password": "wrong"})
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
	s.Equal("Invalid credentials", s.errorMessage(raw))

	found := s.listUsers(token, "u1")
	s.Equal([]types.AccountView{{ID: id, Username: "u1", Email: "u1@x.com"}}, found)

	resp, raw = s.request(http.MethodPut, fmt.Sprintf("/api/users/%d", id), token, map[string]string{
		"username": "u1b", "email": "u1b@x.com",
	})
	s.Require().Equal(http.StatusOK, resp.StatusCode, string(raw))
	s.Equal([]types.AccountView{{ID: id, Username: "u1b", Email: "u1b@x.com"}}, s.listUsers(token, ""))

	resp, _ = s.request(http.MethodDelete, fmt.Sprintf("/api/users/%d", id), token, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	s.Empty(s.listUsers(token, ""))

	resp, raw = s.request(http.MethodDelete, fmt.Sprintf("/api/users/%d", id), token, nil)
	s.Equal(http.StatusNotFound, resp.StatusCode)
	s.Equal("User not found", s.errorMessage(raw))
}

func (s *E2ETestSuite) TestRegisterErrors() {
	s.register("u1", "u1@x.com", "pw123")

	resp, raw := s.request(http.MethodPost, "/api/register", "", map[string]string{
		"username": "other", "email": "u1@x.com", "password": "different",
	})
	s.Equal(http.StatusBadRequest, resp.StatusCode)
	s.Equal("User exists", s.errorMessage(raw))

	resp, raw = s.request(http.MethodPost, "/api/register", "", map[string]string{"username": "u2", "email": "u2@x.com"})
	s.Equal(http.StatusBadRequest, resp.StatusCode)
	s.Equal("Missing fields", s.errorMessage(raw))
	s.NotEmpty(resp.Header.Get("X-Request-Id"))
}

func (s *E2ETestSuite) TestLoginDoesNotRevealAccounts() {
	s.register("u1", "u1@x.com", "pw123")

	wrongResp, wrongRaw := s.request(http.MethodPost, "/api/login", "", map[string]string{"email": "u1@x.com", "password": "nope"})
	unknownResp, unknownRaw := s.request(http.MethodPost, "/api/login", "", map[string]string{"email": "ghost@x.com", "password": "nope"})

	s.Equal(wrongResp.StatusCode, unknownResp.StatusCode)
	s.JSONEq(string(wrongRaw), string(unknownRaw))
}

func (s *E2ETestSuite) TestUpdateToTakenEmailKeepsBothAccounts() {
	first := s.register("u1", "u1@x.com", "pw1")
	second := s.register("u2", "u2@x.com", "pw2")
	token := s.login("u1@x.com", "pw1")

	resp, raw := s.request(http.MethodPut, fmt.Sprintf("/api/users/%d", second), token, map[string]string{
		"username": "u2", "email": "u1@x.com",
	})
	s.Equal(http.StatusBadRequest, resp.StatusCode)
	s.Equal("Email already exists", s.errorMessage(raw))

	s.Equal([]types.AccountView{
		{ID: second, Username: "u2", Email: "u2@x.com"},
		{ID: first, Username: "u1", Email: "u1@x.com"},
	}, s.listUsers(token, ""))
}

func (s *E2ETestSuite) TestMe() {
	id := s.register("u1", "u1@x.com", "pw123")
	token := s.login("u1@x.com", "pw123")

	resp, raw := s.request(http.MethodGet, "/api/me", token, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var me types.AccountView
	s.Require().NoError(json.Unmarshal(raw, &me))
	s.Equal(types.AccountView{ID: id, Username: "u1", Email: "u1@x.com"}, me)

	resp, _ = s.request(http.MethodGet, "/api/users", "", nil)
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
	resp, _ = s.request(http.MethodGet, "/api/users", token+"x", nil)
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
}

func (s *E2ETestSuite) TestConcurrentRegistrationSameEmail() {
	const attempts = 10
	var wg sync.WaitGroup
	statuses := make(chan int, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload, _ := json.Marshal(map[string]string{
				"username": fmt.Sprintf("racer%d", i), "email": "race@x.com", "password": "pw123",
			})
			resp, err := s.client.Post(s.server.URL+"/api/register", "application/json", bytes.NewReader(payload))
			if err != nil {
				statuses <- 0
				return
			}
			_ = resp.Body.Close()
			statuses <- resp.StatusCode
		}(i)
	}
	wg.Wait()
	close(statuses)

	created := 0
	for code := range statuses {
		if code == http.StatusCreated {
			created++
		} else {
			s.Equal(http.StatusBadRequest, code)
		}
	}
	s.Equal(1, created)
}

func TestE2ETestSuite(t *testing.T) {
	suite.Run(t, new(E2ETestSuite))
}

func TestNewServerOutlastsHandlerTimeout(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := testConfig()
	cfg.Server.Timeout = 45 * time.Second
	srv := newServer(":0", cfg, http.NotFoundHandler(), logger)
	assert.Greater(t, srv.WriteTimeout, cfg.Server.Timeout)

	cfg.Server.Timeout = 0
	srv = newServer(":0", cfg, http.NotFoundHandler(), logger)
	assert.Greater(t, srv.WriteTimeout, defaultHandlerTimeout)
}
