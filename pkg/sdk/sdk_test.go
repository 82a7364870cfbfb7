package sdk

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateProject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, projectsEndpoint, r.URL.Path)

		var p Project
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		assert.Equal(t, "variance-study", p.Name)
		assert.Equal(t, 3, p.ParticipantCount)

		p.ID = "proj-1"
		p.Status = "Created"
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(CreateProjectResponse{
			Project: p,
			Tokens: []Token{
				{Value: "tok-1", ProjectID: "proj-1"},
				{Value: "tok-2", ProjectID: "proj-1"},
				{Value: "tok-3", ProjectID: "proj-1"},
			},
		})
	}))
	defer srv.Close()

	s := NewSDK(Config{ServerURL: srv.URL})
	res, err := s.CreateProject(Project{
		Name:             "variance-study",
		Algorithm:        "stats",
		ParticipantCount: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, "proj-1", res.Project.ID)
	assert.Len(t, res.Tokens, 3)
}

func TestGetProject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, projectsEndpoint+"/proj-1", r.URL.Path)

		_ = json.NewEncoder(w).Encode(Project{ID: "proj-1", Name: "demo", Status: "Done"})
	}))
	defer srv.Close()

	s := NewSDK(Config{ServerURL: srv.URL})
	p, err := s.GetProject("proj-1")
	require.NoError(t, err)
	assert.Equal(t, "demo", p.Name)
	assert.Equal(t, "Done", p.Status)
}

func TestListProjects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("offset"))
		assert.Equal(t, "10", r.URL.Query().Get("limit"))

		_ = json.NewEncoder(w).Encode(ProjectPage{
			Offset:   5,
			Limit:    10,
			Total:    42,
			Projects: []Project{{ID: "proj-1"}},
		})
	}))
	defer srv.Close()

	s := NewSDK(Config{ServerURL: srv.URL})
	page, err := s.ListProjects(5, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), page.Total)
	require.Len(t, page.Projects, 1)
}

func TestAbortProject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, projectsEndpoint+"/proj-1/abort", r.URL.Path)
	}))
	defer srv.Close()

	s := NewSDK(Config{ServerURL: srv.URL})
	assert.NoError(t, s.AbortProject("proj-1"))
}

func TestDeleteProject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewSDK(Config{ServerURL: srv.URL})
	assert.NoError(t, s.DeleteProject("proj-1"))
}

func TestUnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	s := NewSDK(Config{ServerURL: srv.URL})
	_, err := s.GetProject("proj-1")
	assert.Error(t, err)
	assert.ErrorContains(t, err, "409")
}
