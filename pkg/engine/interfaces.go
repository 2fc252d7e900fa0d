package engine

import (
	"context"

	"github.com/stagehand/stagehand/pkg/clients/forge"
	"github.com/stagehand/stagehand/pkg/clients/platform"
)

// ForgeAPI is the subset of the source-hosting platform client the engine
// uses. It is an interface so tests can observe and count remote calls.
type ForgeAPI interface {
	GenerateFromTemplate(ctx context.Context, templateOwner, templateRepo string, req forge.GenerateRequest) (*forge.Repository, error)
	GetRepository(ctx context.Context, owner, repo string) (*forge.Repository, error)
	DeleteRepository(ctx context.Context, owner, repo string) error
	GetContents(ctx context.Context, owner, repo, path string) (*forge.FileContent, error)
	PutContents(ctx context.Context, owner, repo, path, message string, content []byte, sha string) error
	DeleteContents(ctx context.Context, owner, repo, path, message, sha string) error
	GetPublicKey(ctx context.Context, owner, repo string) (*forge.PublicKey, error)
	PutSecret(ctx context.Context, owner, repo, name, encryptedValue, keyID string) error
	IsCollaborator(ctx context.Context, owner, repo, username string) (bool, error)
	InviteCollaborator(ctx context.Context, owner, repo, username, permission string) error
}

// PlatformAPI is the subset of the deployment platform client the engine
// uses.
type PlatformAPI interface {
	ListServices(ctx context.Context, orgID, kind string) ([]platform.Service, error)
	CreateService(ctx context.Context, orgID string, req platform.ServiceCreate) (*platform.Service, error)
	UpdateService(ctx context.Context, orgID, serviceID string, req platform.ServiceUpdate) (*platform.Service, error)
	DeleteService(ctx context.Context, orgID, serviceID string) error
	ListEnvironments(ctx context.Context, orgID string) ([]platform.Environment, error)
	GetEnvironment(ctx context.Context, orgID, envID string) (*platform.Environment, error)
	CreateEnvironment(ctx context.Context, orgID string, req platform.EnvironmentCreate) (*platform.Environment, error)
	UpdateEnvironment(ctx context.Context, orgID string, env *platform.Environment) (*platform.Environment, error)
	DeleteEnvironment(ctx context.Context, orgID, envID string) error
	ListFlags(ctx context.Context, orgID string) ([]platform.Flag, error)
	CreateFlag(ctx context.Context, orgID string, req platform.FlagCreate) (*platform.Flag, error)
	ConfigureFlag(ctx context.Context, orgID, flagID string, cfg platform.FlagConfig) error
	GetSDKKey(ctx context.Context, orgID, envID string) (*platform.SDKKey, error)
	GetApplicationSDKKey(ctx context.Context, orgID, appID, envID string) (*platform.SDKKey, error)
}
