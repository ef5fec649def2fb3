package handler

import (
	"github.com/haatos/conveyor/internal/material"
	"github.com/haatos/conveyor/internal/service"
)

type TokenParams struct {
	UUID string `json:"uuid" query:"uuid"`
}

type RegistrationParams struct {
	UUID            string `json:"uuid"`
	Hostname        string `json:"hostname"`
	SandboxPath     string `json:"sandbox_path"`
	UsableSpace     int64  `json:"usable_space"`
	OperatingSystem string `json:"operating_system"`
	Resources       string `json:"resources"`
	Environments    string `json:"environments"`
	AutoRegisterKey string `json:"auto_register_key"`
	ElasticAgentID  string `json:"elastic_agent_id"`
	ElasticPluginID string `json:"elastic_plugin_id"`
	Token           string `json:"token"`
}

type AgentTagsParams struct {
	UUID         string `param:"uuid"`
	Resources    string `json:"resources"`
	Environments string `json:"environments"`
}

type MaterialParams struct {
	Type           string            `json:"type"`
	URL            string            `json:"url"`
	Branch         string            `json:"branch"`
	Username       string            `json:"username"`
	Password       string            `json:"password"`
	CheckExternals bool              `json:"check_externals"`
	Port           string            `json:"port"`
	View           string            `json:"view"`
	UseTickets     bool              `json:"use_tickets"`
	Pipeline       string            `json:"pipeline"`
	Stage          string            `json:"stage"`
	PluginID       string            `json:"plugin_id"`
	SCMID          string            `json:"scm_id"`
	RepositoryID   string            `json:"repository_id"`
	PackageID      string            `json:"package_id"`
	Configuration  map[string]string `json:"configuration"`
}

// Material builds the typed material the poll request describes.
func (mp *MaterialParams) Material() (material.Material, error) {
	switch material.Type(mp.Type) {
	case material.TypeGit:
		if mp.URL == "" {
			return nil, service.NewValidationError("git material requires a url")
		}
		return material.Git{
			URL:      mp.URL,
			Branch:   mp.Branch,
			Username: mp.Username,
			Password: mp.Password,
		}, nil
	case material.TypeMercurial:
		if mp.URL == "" {
			return nil, service.NewValidationError("mercurial material requires a url")
		}
		return material.Mercurial{URL: mp.URL, Branch: mp.Branch}, nil
	case material.TypeSubversion:
		if mp.URL == "" {
			return nil, service.NewValidationError("subversion material requires a url")
		}
		return material.Subversion{
			URL:            mp.URL,
			Username:       mp.Username,
			Password:       mp.Password,
			CheckExternals: mp.CheckExternals,
		}, nil
	case material.TypePerforce:
		if mp.Port == "" || mp.View == "" {
			return nil, service.NewValidationError("perforce material requires a port and a view")
		}
		return material.Perforce{
			Port:       mp.Port,
			View:       mp.View,
			Username:   mp.Username,
			Password:   mp.Password,
			UseTickets: mp.UseTickets,
		}, nil
	case material.TypeDependency:
		if mp.Pipeline == "" || mp.Stage == "" {
			return nil, service.NewValidationError("dependency material requires a pipeline and a stage")
		}
		return material.Dependency{Pipeline: mp.Pipeline, Stage: mp.Stage}, nil
	case material.TypePackage:
		return material.Package{
			PluginID:     mp.PluginID,
			RepositoryID: mp.RepositoryID,
			PackageID:    mp.PackageID,
		}, nil
	case material.TypePluggableSCM:
		return material.PluggableSCM{
			PluginID:      mp.PluginID,
			SCMID:         mp.SCMID,
			Configuration: mp.Configuration,
		}, nil
	default:
		return nil, service.NewValidationError("unknown material type " + mp.Type)
	}
}
