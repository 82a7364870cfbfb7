// Package sdk is the admin client for the coordinator's JSON surface:
// creating projects, issuing tokens, and managing a project's lifecycle.
package sdk

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
)

const CTJSON string = "application/json"

type SDK interface {
	// CreateProject registers a new project and returns it together with
	// the participant tokens to distribute.
	//
	// example:
	//  project := sdk.Project{
	//    Name:             "variance-study",
	//    Algorithm:        "stats",
	//    ParticipantCount: 3,
	//  }
	//  res, _ := sdk.CreateProject(project)
	//  fmt.Println(res.Tokens)
	CreateProject(project Project) (CreateProjectResponse, error)

	// GetProject gets a project by id.
	//
	// example:
	//  project, _ := sdk.GetProject("b1d10738-c5d7-4ff1-8f4d-b9328ce6f040")
	//  fmt.Println(project)
	GetProject(id string) (Project, error)

	// ListProjects lists projects.
	//
	// example:
	//  page, _ := sdk.ListProjects(0, 10)
	//  fmt.Println(page)
	ListProjects(offset, limit uint64) (ProjectPage, error)

	// AbortProject aborts a running project; every party learns the outcome
	// on its next poll.
	//
	// example:
	//  _ = sdk.AbortProject("b1d10738-c5d7-4ff1-8f4d-b9328ce6f040")
	AbortProject(id string) error

	// DeleteProject removes a project that never started or already ended.
	//
	// example:
	//  _ = sdk.DeleteProject("b1d10738-c5d7-4ff1-8f4d-b9328ce6f040")
	DeleteProject(id string) error
}

type hyfedSDK struct {
	serverURL string
	client    *http.Client
}

type Config struct {
	ServerURL       string
	TLSVerification bool
}

func NewSDK(cfg Config) SDK {
	return &hyfedSDK{
		serverURL: cfg.ServerURL,
		client: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: !cfg.TLSVerification,
				},
			},
		},
	}
}

func (sdk *hyfedSDK) processRequest(method, reqURL string, data []byte, expectedRespCode int) ([]byte, error) {
	req, err := http.NewRequest(method, reqURL, bytes.NewReader(data))
	if err != nil {
		return []byte{}, err
	}

	req.Header.Add("Content-Type", CTJSON)

	resp, err := sdk.client.Do(req)
	if err != nil {
		return []byte{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return []byte{}, err
	}

	if resp.StatusCode != expectedRespCode {
		return []byte{}, fmt.Errorf("unexpected response code: %d", resp.StatusCode)
	}

	return body, nil
}
