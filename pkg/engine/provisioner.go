package engine

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/nacl/box"

	"github.com/stagehand/stagehand/pkg/clients/forge"
	"github.com/stagehand/stagehand/pkg/scenario"
	"github.com/stagehand/stagehand/pkg/telemetry"
)

// Provisioner creates version-control repositories from templates and applies
// the content changes a scenario describes. It writes no local state; the
// caller records the result.
type Provisioner struct {
	forge  ForgeAPI
	logger *telemetry.Logger

	// Collaborator, when set, is invited to every created repository.
	Collaborator string

	// SettleDelay is the fixed wait after repository generation before the
	// new repository's contents are touched.
	SettleDelay time.Duration

	// Retry configures transient-failure retries on remote calls.
	Retry RetryOptions
}

// NewProvisioner creates a repository provisioner.
func NewProvisioner(forgeClient ForgeAPI, logger *telemetry.Logger) *Provisioner {
	return &Provisioner{
		forge:       forgeClient,
		logger:      logger.WithField("component", "provisioner"),
		SettleDelay: 3 * time.Second,
		Retry:       DefaultRetryOptions(),
	}
}

// Provision creates one repository from its resolved config. An existing
// repository with the target name is reused without modification. params
// holds the resolved parameter values that gate conditional file operations.
func (p *Provisioner) Provision(ctx context.Context, cfg scenario.RepositoryConfig, defaultOrg string, params map[string]string) (*RepositoryResult, error) {
	org := cfg.Organization
	if org == "" {
		org = defaultOrg
	}

	templateOwner, templateRepo, err := splitFullName(cfg.Template)
	if err != nil {
		return nil, NewPermanentError("invalid template reference", err).WithResource(cfg.Template)
	}

	log := p.logger.WithResource("repository", org+"/"+cfg.Name)

	existing, err := p.forge.GetRepository(ctx, org, cfg.Name)
	if err == nil {
		log.Info("repository already exists, reusing")
		return &RepositoryResult{
			FullName: existing.FullName,
			HTMLURL:  existing.HTMLURL,
			Created:  false,
		}, nil
	}
	if !isNotFound(err) {
		return nil, Classify(err).WithOperation("get repository").WithResource(cfg.Name)
	}

	repo, err := p.forge.GenerateFromTemplate(ctx, templateOwner, templateRepo, forge.GenerateRequest{
		Owner:       org,
		Name:        cfg.Name,
		Description: fmt.Sprintf("Generated from %s", cfg.Template),
		Private:     true,
	})
	if err != nil {
		return nil, Classify(err).WithOperation("generate repository").WithResource(cfg.Name)
	}
	log.Info("repository generated")

	// The contents API returns 404 for a short window after generation.
	if err := sleep(ctx, p.SettleDelay); err != nil {
		return nil, err
	}

	if err := p.applyReplacements(ctx, org, cfg.Name, cfg.Replacements); err != nil {
		return nil, err
	}
	if err := p.applyFileOps(ctx, org, cfg.Name, cfg.FileOps, params); err != nil {
		return nil, err
	}
	if err := p.uploadSecrets(ctx, org, cfg.Name, cfg.Secrets); err != nil {
		return nil, err
	}
	if err := p.ensureCollaborator(ctx, org, cfg.Name); err != nil {
		return nil, err
	}

	return &RepositoryResult{
		FullName: repo.FullName,
		HTMLURL:  repo.HTMLURL,
		Created:  true,
	}, nil
}

// applyReplacements rewrites each listed file with its literal text
// replacements applied.
func (p *Provisioner) applyReplacements(ctx context.Context, org, repo string, replacements map[string]map[string]string) error {
	for path, subs := range replacements {
		if len(subs) == 0 {
			continue
		}

		var file *forge.FileContent
		err := WithRetry(ctx, "get contents", p.Retry, func(ctx context.Context) error {
			var err error
			file, err = p.forge.GetContents(ctx, org, repo, path)
			return err
		})
		if err != nil {
			return Classify(err).WithOperation("get contents").WithResource(path)
		}

		raw, err := file.Decode()
		if err != nil {
			return NewPermanentError("failed to decode file content", err).WithResource(path)
		}

		content := string(raw)
		for find, replace := range subs {
			content = strings.ReplaceAll(content, find, replace)
		}
		if content == string(raw) {
			continue
		}

		err = WithRetry(ctx, "put contents", p.Retry, func(ctx context.Context) error {
			return p.forge.PutContents(ctx, org, repo, path, "Apply scenario replacements", []byte(content), file.SHA)
		})
		if err != nil {
			return Classify(err).WithOperation("put contents").WithResource(path)
		}
		p.logger.WithResource("file", path).Debug("replacements applied")
	}
	return nil
}

// applyFileOps runs the conditional move/copy/delete operations whose gating
// parameter matches.
func (p *Provisioner) applyFileOps(ctx context.Context, org, repo string, ops []scenario.FileOp, params map[string]string) error {
	for _, op := range ops {
		if op.Parameter != "" {
			active := params[op.Parameter] == "true"
			if active != op.When {
				continue
			}
		}

		var file *forge.FileContent
		err := WithRetry(ctx, "get contents", p.Retry, func(ctx context.Context) error {
			var err error
			file, err = p.forge.GetContents(ctx, org, repo, op.From)
			return err
		})
		if err != nil {
			return Classify(err).WithOperation("file op "+op.Action).WithResource(op.From)
		}

		switch op.Action {
		case "copy", "move":
			raw, err := file.Decode()
			if err != nil {
				return NewPermanentError("failed to decode file content", err).WithResource(op.From)
			}
			verb := "Copy"
			if op.Action == "move" {
				verb = "Move"
			}
			message := fmt.Sprintf("%s %s to %s", verb, op.From, op.To)
			if err := p.forge.PutContents(ctx, org, repo, op.To, message, raw, ""); err != nil {
				return Classify(err).WithOperation("file op "+op.Action).WithResource(op.To)
			}
			if op.Action == "copy" {
				break
			}
			fallthrough
		case "delete":
			message := fmt.Sprintf("Delete %s", op.From)
			if err := p.forge.DeleteContents(ctx, org, repo, op.From, message, file.SHA); err != nil {
				return Classify(err).WithOperation("file op delete").WithResource(op.From)
			}
		default:
			return NewPermanentError("unknown file operation", nil).WithResource(op.Action)
		}
	}
	return nil
}

// uploadSecrets encrypts each secret value with the repository's public key
// using an anonymous sealed box and uploads it.
func (p *Provisioner) uploadSecrets(ctx context.Context, org, repo string, secrets map[string]string) error {
	if len(secrets) == 0 {
		return nil
	}

	var key *forge.PublicKey
	err := WithRetry(ctx, "get public key", p.Retry, func(ctx context.Context) error {
		var err error
		key, err = p.forge.GetPublicKey(ctx, org, repo)
		return err
	})
	if err != nil {
		return Classify(err).WithOperation("get public key").WithResource(repo)
	}

	rawKey, err := base64.StdEncoding.DecodeString(key.Key)
	if err != nil || len(rawKey) != 32 {
		return NewPermanentError("invalid repository public key", err).WithResource(repo)
	}
	var pubKey [32]byte
	copy(pubKey[:], rawKey)

	for name, value := range secrets {
		sealed, err := box.SealAnonymous(nil, []byte(value), &pubKey, rand.Reader)
		if err != nil {
			return NewPermanentError("failed to seal secret", err).WithResource(name)
		}
		encoded := base64.StdEncoding.EncodeToString(sealed)

		err = WithRetry(ctx, "put secret", p.Retry, func(ctx context.Context) error {
			return p.forge.PutSecret(ctx, org, repo, name, encoded, key.KeyID)
		})
		if err != nil {
			return Classify(err).WithOperation("put secret").WithResource(name)
		}
		p.logger.WithResource("secret", name).Debug("secret uploaded")
	}
	return nil
}

// ensureCollaborator invites the configured collaborator if they do not
// already have access.
func (p *Provisioner) ensureCollaborator(ctx context.Context, org, repo string) error {
	if p.Collaborator == "" {
		return nil
	}

	isCollab, err := p.forge.IsCollaborator(ctx, org, repo, p.Collaborator)
	if err != nil {
		return Classify(err).WithOperation("check collaborator").WithResource(p.Collaborator)
	}
	if isCollab {
		return nil
	}

	if err := p.forge.InviteCollaborator(ctx, org, repo, p.Collaborator, "push"); err != nil {
		return Classify(err).WithOperation("invite collaborator").WithResource(p.Collaborator)
	}
	p.logger.WithField("collaborator", p.Collaborator).Info("collaborator invited")
	return nil
}

func splitFullName(fullName string) (string, string, error) {
	owner, repo, ok := strings.Cut(fullName, "/")
	if !ok || owner == "" || repo == "" {
		return "", "", fmt.Errorf("expected owner/repo, got %q", fullName)
	}
	return owner, repo, nil
}

func isNotFound(err error) bool {
	var forgeErr *forge.APIError
	if errors.As(err, &forgeErr) {
		return forgeErr.IsNotFound()
	}
	return false
}
