package api

import (
	"net/http"

	"github.com/TUM-AIMED/hyfed/pkg/protocol"
	"github.com/TUM-AIMED/hyfed/pkg/storage"
	"github.com/TUM-AIMED/hyfed/server"
	"github.com/absmach/supermq"
)

var (
	_ supermq.Response = (*createProjectRes)(nil)
	_ supermq.Response = (*projectRes)(nil)
	_ supermq.Response = (*listProjectsRes)(nil)
	_ supermq.Response = (*joinRes)(nil)
	_ supermq.Response = (*infoRes)(nil)
	_ supermq.Response = (*startedRes)(nil)
	_ supermq.Response = (*uploadRes)(nil)
	_ supermq.Response = (*syncRes)(nil)
	_ supermq.Response = (*compAuthRes)(nil)
)

type createProjectRes struct {
	Project storage.ProjectRecord `json:"project"`
	Tokens  []storage.Token       `json:"tokens"`
}

func (r createProjectRes) Code() int {
	return http.StatusCreated
}

func (r createProjectRes) Headers() map[string]string {
	return map[string]string{
		"Location": "/projects/" + r.Project.ID,
	}
}

func (r createProjectRes) Empty() bool {
	return false
}

type projectRes struct {
	storage.ProjectRecord
	deleted bool
	aborted bool
}

func (r projectRes) Code() int {
	if r.deleted {
		return http.StatusNoContent
	}

	return http.StatusOK
}

func (r projectRes) Headers() map[string]string {
	return map[string]string{}
}

func (r projectRes) Empty() bool {
	return r.deleted || r.aborted
}

type listProjectsRes struct {
	server.ProjectPage
}

func (r listProjectsRes) Code() int {
	return http.StatusOK
}

func (r listProjectsRes) Headers() map[string]string {
	return map[string]string{}
}

func (r listProjectsRes) Empty() bool {
	return false
}

type joinRes struct {
	protocol.JoinResponse
}

func (r joinRes) Code() int {
	return http.StatusOK
}

func (r joinRes) Headers() map[string]string {
	return map[string]string{}
}

func (r joinRes) Empty() bool {
	return false
}

type infoRes struct {
	protocol.ProjectInfoResponse
}

func (r infoRes) Code() int {
	return http.StatusOK
}

func (r infoRes) Headers() map[string]string {
	return map[string]string{}
}

func (r infoRes) Empty() bool {
	return false
}

type startedRes struct {
	protocol.StartedResponse
}

func (r startedRes) Code() int {
	return http.StatusOK
}

func (r startedRes) Headers() map[string]string {
	return map[string]string{}
}

func (r startedRes) Empty() bool {
	return false
}

type uploadRes struct{}

func (r uploadRes) Code() int {
	return http.StatusOK
}

func (r uploadRes) Headers() map[string]string {
	return map[string]string{}
}

func (r uploadRes) Empty() bool {
	return true
}

type syncRes struct {
	protocol.GlobalParameters
}

func (r syncRes) Code() int {
	return http.StatusOK
}

func (r syncRes) Headers() map[string]string {
	return map[string]string{}
}

func (r syncRes) Empty() bool {
	return false
}

type resultRes struct {
	archive []byte
}

type compAuthRes struct {
	protocol.CompensatorAuthResponse
}

func (r compAuthRes) Code() int {
	return http.StatusOK
}

func (r compAuthRes) Headers() map[string]string {
	return map[string]string{}
}

func (r compAuthRes) Empty() bool {
	return false
}
