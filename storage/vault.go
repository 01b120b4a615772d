package storage

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/vault/api"

	"github.com/ruteri/artifact-resolver/catalog"
	"github.com/ruteri/artifact-resolver/interfaces"
)

// VaultAlias is the default alias of the Vault resolver.
const VaultAlias = "vault"

// VaultConfig configures a VaultResolver.
type VaultConfig struct {
	// Address is the Vault server URL, e.g. https://vault.example.com:8200.
	Address string
	// MountPath is the KV v2 mount, e.g. "secret".
	MountPath string
	// DataPath is the path within the mount holding artifacts.
	DataPath string
	// Token authenticates requests. Empty falls back to VAULT_TOKEN.
	Token string
	// ClientCert enables TLS client certificate authentication.
	ClientCert *tls.Certificate
	Timeout    time.Duration
}

// VaultResolver keeps small, sensitive artifacts (signing keys, credentials
// bundles) in a Vault KV v2 engine. Each artifact is one secret at
// <mount>/data/<path>/<storage>/<repository>/<artifact path> holding the
// base64 content. Reads load the whole secret. Deletes destroy every version
// of the secret; there is no trash.
type VaultResolver struct {
	alias     string
	client    *api.Client
	mountPath string
	dataPath  string
	catalog   interfaces.StorageCatalog
	log       *slog.Logger

	initOnce sync.Once
	initErr  error
}

// NewVaultResolver creates a Vault resolver.
func NewVaultResolver(alias string, cfg VaultConfig, c interfaces.StorageCatalog, log *slog.Logger) (*VaultResolver, error) {
	config := api.DefaultConfig()
	config.Address = cfg.Address
	if cfg.Timeout > 0 {
		config.Timeout = cfg.Timeout
	}
	if cfg.ClientCert != nil {
		config.HttpClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{Certificates: []tls.Certificate{*cfg.ClientCert}},
			},
			Timeout: config.Timeout,
		}
	}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}

	return &VaultResolver{
		alias:     alias,
		client:    client,
		mountPath: strings.Trim(cfg.MountPath, "/"),
		dataPath:  strings.Trim(cfg.DataPath, "/"),
		catalog:   c,
		log:       log,
	}, nil
}

// Alias returns the resolver alias.
func (r *VaultResolver) Alias() string {
	return r.alias
}

// secretPath returns the artifact's path relative to the mount.
func (r *VaultResolver) secretPath(t *target) string {
	return path.Join(r.dataPath, strings.Trim(storageDir(t.storage), "/"), t.repository.ID, t.path)
}

func (r *VaultResolver) dataURL(secretPath string) string {
	return path.Join(r.mountPath, "data", secretPath)
}

func (r *VaultResolver) metadataURL(secretPath string) string {
	return path.Join(r.mountPath, "metadata", secretPath)
}

// GetInputStream reads the secret and decodes its content.
func (r *VaultResolver) GetInputStream(ctx context.Context, repositoryID, p string) (io.ReadCloser, error) {
	t, err := resolveTarget(r.catalog, repositoryID, p)
	if err != nil {
		return nil, err
	}

	data, err := r.read(ctx, r.secretPath(t))
	if err != nil {
		return nil, interfaces.NewIOError("read", repositoryID, p, err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (r *VaultResolver) read(ctx context.Context, secretPath string) ([]byte, error) {
	secret, err := r.client.Logical().ReadWithContext(ctx, r.dataURL(secretPath))
	if err != nil {
		r.log.Error("Failed to read from Vault", slog.String("path", secretPath), "err", err)
		return nil, err
	}
	if secret == nil || secret.Data == nil {
		return nil, interfaces.ErrArtifactNotFound
	}

	// Destroyed or deleted versions come back with null data.
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, interfaces.ErrArtifactNotFound
	}
	content, ok := data["content"].(string)
	if !ok {
		return nil, fmt.Errorf("content key not found in Vault secret %s", secretPath)
	}

	decoded, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return nil, fmt.Errorf("failed to decode Vault secret %s: %w", secretPath, err)
	}
	return decoded, nil
}

// GetOutputStream buffers the artifact and writes the secret on Commit.
func (r *VaultResolver) GetOutputStream(ctx context.Context, repositoryID, p string) (interfaces.ArtifactWriter, error) {
	t, err := resolveTarget(r.catalog, repositoryID, p)
	if err != nil {
		return nil, err
	}

	secretPath := r.secretPath(t)
	return &bufferWriter{commit: func(data []byte) error {
		_, err := r.client.Logical().WriteWithContext(ctx, r.dataURL(secretPath), map[string]interface{}{
			"data": map[string]interface{}{
				"content": base64.StdEncoding.EncodeToString(data),
			},
		})
		if err != nil {
			r.log.Error("Failed to write to Vault", slog.String("path", secretPath), "err", err)
			return interfaces.NewIOError("commit", repositoryID, p, err)
		}
		r.log.Debug("Stored artifact in Vault",
			slog.String("path", secretPath),
			slog.Int("size", len(data)))
		return nil
	}}, nil
}

// Delete destroys the secret, or every secret below a directory path.
func (r *VaultResolver) Delete(ctx context.Context, repositoryID, p string, force bool) error {
	t, err := resolveTarget(r.catalog, repositoryID, p)
	if err != nil {
		return err
	}

	secretPath := r.secretPath(t)
	paths, err := r.matchingSecrets(ctx, secretPath)
	if err != nil {
		return interfaces.NewIOError("delete", repositoryID, p, err)
	}
	if len(paths) == 0 {
		if force {
			return nil
		}
		return interfaces.ErrArtifactNotFound
	}

	for _, sp := range paths {
		if _, err := r.client.Logical().DeleteWithContext(ctx, r.metadataURL(sp)); err != nil {
			return interfaces.NewIOError("delete", repositoryID, p, err)
		}
	}

	r.log.Debug("Deleted artifacts from Vault",
		slog.String("path", secretPath),
		slog.Int("count", len(paths)))
	return nil
}

// matchingSecrets returns secretPath itself if it holds content, otherwise
// every secret below it.
func (r *VaultResolver) matchingSecrets(ctx context.Context, secretPath string) ([]string, error) {
	_, err := r.read(ctx, secretPath)
	if err == nil {
		return []string{secretPath}, nil
	}
	if !errors.Is(err, interfaces.ErrArtifactNotFound) {
		return nil, err
	}
	return r.list(ctx, secretPath)
}

// list walks the metadata tree below dir.
func (r *VaultResolver) list(ctx context.Context, dir string) ([]string, error) {
	secret, err := r.client.Logical().ListWithContext(ctx, r.metadataURL(dir))
	if err != nil {
		return nil, err
	}
	if secret == nil || secret.Data == nil {
		return nil, nil
	}

	keys, _ := secret.Data["keys"].([]interface{})
	var out []string
	for _, k := range keys {
		name, ok := k.(string)
		if !ok {
			continue
		}
		if strings.HasSuffix(name, "/") {
			children, err := r.list(ctx, path.Join(dir, name))
			if err != nil {
				return nil, err
			}
			out = append(out, children...)
			continue
		}
		out = append(out, path.Join(dir, name))
	}
	return out, nil
}

// DeleteTrash is a no-op; deletes are immediate.
func (r *VaultResolver) DeleteTrash(ctx context.Context, repositoryID string) error {
	_, _, err := catalog.Locate(r.catalog, repositoryID)
	return err
}

// DeleteAllTrash is a no-op.
func (r *VaultResolver) DeleteAllTrash(ctx context.Context) error {
	return nil
}

// Initialize checks that Vault is initialized and unsealed.
func (r *VaultResolver) Initialize(ctx context.Context) error {
	r.initOnce.Do(func() {
		health, err := r.client.Sys().HealthWithContext(ctx)
		if err != nil {
			r.initErr = fmt.Errorf("Vault health check failed: %w", err)
			return
		}
		if !health.Initialized || health.Sealed {
			r.initErr = fmt.Errorf("Vault is not available (initialized=%t, sealed=%t)", health.Initialized, health.Sealed)
			return
		}
		r.log.Info("initialized Vault resolver",
			slog.String("alias", r.alias),
			slog.String("address", r.client.Address()),
			slog.String("mount", r.mountPath))
	})
	return r.initErr
}
