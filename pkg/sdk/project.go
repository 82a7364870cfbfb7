package sdk

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const projectsEndpoint = "/projects"

type Project struct {
	ID               string         `json:"id,omitempty"`
	Name             string         `json:"name"`
	Description      string         `json:"description,omitempty"`
	Algorithm        string         `json:"algorithm"`
	Creator          string         `json:"creator,omitempty"`
	Status           string         `json:"status,omitempty"`
	Step             string         `json:"step,omitempty"`
	CommRound        int            `json:"comm_round,omitempty"`
	ParticipantCount int            `json:"participant_count"`
	ResultDir        string         `json:"result_dir,omitempty"`
	Config           map[string]any `json:"config,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

type Token struct {
	Value     string    `json:"value"`
	ProjectID string    `json:"project_id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
	ClaimedAt time.Time `json:"claimed_at,omitempty"`
}

type CreateProjectResponse struct {
	Project Project `json:"project"`
	Tokens  []Token `json:"tokens"`
}

type ProjectPage struct {
	Offset   uint64    `json:"offset"`
	Limit    uint64    `json:"limit"`
	Total    uint64    `json:"total"`
	Projects []Project `json:"projects"`
}

func (sdk *hyfedSDK) CreateProject(project Project) (CreateProjectResponse, error) {
	data, err := json.Marshal(project)
	if err != nil {
		return CreateProjectResponse{}, err
	}

	url := sdk.serverURL + projectsEndpoint

	body, err := sdk.processRequest(http.MethodPost, url, data, http.StatusCreated)
	if err != nil {
		return CreateProjectResponse{}, err
	}

	var res CreateProjectResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return CreateProjectResponse{}, err
	}

	return res, nil
}

func (sdk *hyfedSDK) GetProject(id string) (Project, error) {
	url := sdk.serverURL + projectsEndpoint + "/" + id

	body, err := sdk.processRequest(http.MethodGet, url, nil, http.StatusOK)
	if err != nil {
		return Project{}, err
	}

	var p Project
	if err := json.Unmarshal(body, &p); err != nil {
		return Project{}, err
	}

	return p, nil
}

func (sdk *hyfedSDK) ListProjects(offset, limit uint64) (ProjectPage, error) {
	queries := make([]string, 0)
	if offset > 0 {
		queries = append(queries, fmt.Sprintf("offset=%d", offset))
	}
	if limit > 0 {
		queries = append(queries, fmt.Sprintf("limit=%d", limit))
	}

	url := sdk.serverURL + projectsEndpoint
	if len(queries) > 0 {
		url += "?" + strings.Join(queries, "&")
	}

	body, err := sdk.processRequest(http.MethodGet, url, nil, http.StatusOK)
	if err != nil {
		return ProjectPage{}, err
	}

	var page ProjectPage
	if err := json.Unmarshal(body, &page); err != nil {
		return ProjectPage{}, err
	}

	return page, nil
}

func (sdk *hyfedSDK) AbortProject(id string) error {
	url := sdk.serverURL + projectsEndpoint + "/" + id + "/abort"

	if _, err := sdk.processRequest(http.MethodPost, url, nil, http.StatusOK); err != nil {
		return err
	}

	return nil
}

func (sdk *hyfedSDK) DeleteProject(id string) error {
	url := sdk.serverURL + projectsEndpoint + "/" + id

	if _, err := sdk.processRequest(http.MethodDelete, url, nil, http.StatusNoContent); err != nil {
		return err
	}

	return nil
}
