package storage

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ruteri/artifact-resolver/catalog"
	"github.com/ruteri/artifact-resolver/interfaces"
)

// TrackerFactory returns the resource state tracker of the resolver with the
// given alias.
type TrackerFactory func(ctx context.Context, alias string) (interfaces.ResourceStateTracker, error)

// ResolverFactory creates location resolvers from location URIs.
type ResolverFactory struct {
	log        *slog.Logger
	catalog    interfaces.StorageCatalog
	trackerFor TrackerFactory
	clientCert *tls.Certificate

	built map[string]interfaces.LocationResolver
}

// NewResolverFactory creates a factory building resolvers over the catalog.
// trackerFor supplies bookkeeping to the resolvers that need it.
func NewResolverFactory(log *slog.Logger, c interfaces.StorageCatalog, trackerFor TrackerFactory) *ResolverFactory {
	return &ResolverFactory{
		log:        log,
		catalog:    c,
		trackerFor: trackerFor,
		built:      make(map[string]interfaces.LocationResolver),
	}
}

// WithTLSAuth sets the client certificate presented to Vault.
func (f *ResolverFactory) WithTLSAuth(cert tls.Certificate) *ResolverFactory {
	f.clientCert = &cert
	return f
}

// ResolverFor creates a resolver from a location URI.
// The URI format is [scheme]://[auth@]host[:port][/path][?params]
//
// Supported schemes:
//   - memory://?size=10000 - non-durable resolver synthesizing content
//   - file:///var/lib/artifacts - local file system
//   - proxy:///var/cache/artifacts?retries=2&timeout=30s - remote proxy with file cache
//   - s3://[KEY:SECRET@]bucket/prefix?region=us-east-1&endpoint=http://minio:9000&pathStyle=true
//   - ipfs://localhost:5001/?timeout=30s - IPFS node API
//   - vault://[TOKEN@]vault:8200/secret/artifacts?tls=true - Vault KV v2
//   - mirror://?members=a,b - fan-out over previously built resolvers
func (f *ResolverFactory) ResolverFor(ctx context.Context, alias, locationURI string) (interfaces.LocationResolver, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidLocationURI, err)
	}

	var resolver interfaces.LocationResolver
	switch strings.ToLower(u.Scheme) {
	case "memory":
		resolver, err = f.createMemoryResolver(ctx, alias, u)
	case "file":
		resolver, err = f.createFileResolver(alias, u)
	case "proxy":
		resolver, err = f.createProxyResolver(alias, u)
	case "s3":
		resolver, err = f.createS3Resolver(alias, u)
	case "ipfs":
		resolver, err = f.createIPFSResolver(ctx, alias, u)
	case "vault":
		resolver, err = f.createVaultResolver(alias, u)
	case "mirror":
		resolver, err = f.createMirrorResolver(alias, u)
	default:
		return nil, fmt.Errorf("%w: unsupported resolver scheme %q", interfaces.ErrInvalidLocationURI, u.Scheme)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create resolver %s: %w", alias, err)
	}

	f.built[alias] = resolver
	return resolver, nil
}

// RegisterAll builds every configured resolver and registers it. Mirrors are
// built after the resolvers they may refer to.
func (f *ResolverFactory) RegisterAll(ctx context.Context, registry *Registry, configs []catalog.ResolverConfig) error {
	ordered := make([]catalog.ResolverConfig, len(configs))
	copy(ordered, configs)
	sort.SliceStable(ordered, func(i, j int) bool {
		return !isMirror(ordered[i].Location) && isMirror(ordered[j].Location)
	})

	for _, rc := range ordered {
		resolver, err := f.ResolverFor(ctx, rc.Alias, rc.Location)
		if err != nil {
			return err
		}
		if err := registry.Register(resolver); err != nil {
			return err
		}
		f.log.Info("configured resolver",
			slog.String("alias", rc.Alias),
			slog.String("location", redactLocation(rc.Location)))
	}
	return nil
}

func isMirror(location string) bool {
	return strings.HasPrefix(strings.ToLower(location), "mirror:")
}

// redactLocation hides credentials embedded in a location URI.
func redactLocation(location string) string {
	u, err := url.Parse(location)
	if err != nil || u.User == nil {
		return location
	}
	return u.Redacted()
}

func (f *ResolverFactory) tracker(ctx context.Context, alias string) (interfaces.ResourceStateTracker, error) {
	if f.trackerFor == nil {
		return nil, fmt.Errorf("resolver %s needs a resource tracker but none is configured", alias)
	}
	return f.trackerFor(ctx, alias)
}

// createMemoryResolver creates the non-durable resolver.
// URI format: memory://?size=10000
// size is recorded for artifacts committed without content.
func (f *ResolverFactory) createMemoryResolver(ctx context.Context, alias string, u *url.URL) (interfaces.LocationResolver, error) {
	f.log.Debug("Creating in-memory resolver", slog.String("alias", alias))

	size := int64(DefaultPlaceholderSize)
	if v := u.Query().Get("size"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("%w: invalid size %q", interfaces.ErrInvalidLocationURI, v)
		}
		size = parsed
	}

	tracker, err := f.tracker(ctx, alias)
	if err != nil {
		return nil, err
	}
	return NewMemoryResolver(alias, f.catalog, tracker, size, f.log), nil
}

// createFileResolver creates a file system resolver.
// URI format: file:///absolute/path/ or file://./relative/path/
func (f *ResolverFactory) createFileResolver(alias string, u *url.URL) (interfaces.LocationResolver, error) {
	f.log.Debug("Creating file system resolver", slog.String("uri", u.String()))

	dir, err := localPath(u)
	if err != nil {
		return nil, err
	}
	return NewFileResolver(alias, dir, f.catalog, f.log), nil
}

// createProxyResolver creates a remote proxy resolver caching on disk.
// URI format: proxy:///cache/dir?retries=2&timeout=30s
// Upstream URLs come from each repository's remoteUrl.
func (f *ResolverFactory) createProxyResolver(alias string, u *url.URL) (interfaces.LocationResolver, error) {
	f.log.Debug("Creating proxy resolver", slog.String("uri", u.String()))

	dir, err := localPath(u)
	if err != nil {
		return nil, err
	}

	query := u.Query()
	retries := 2
	if v := query.Get("retries"); v != "" {
		retries, err = strconv.Atoi(v)
		if err != nil || retries < 0 {
			return nil, fmt.Errorf("%w: invalid retries %q", interfaces.ErrInvalidLocationURI, v)
		}
	}
	timeout, err := durationParam(query, "timeout", 30*time.Second)
	if err != nil {
		return nil, err
	}

	return NewProxyResolver(alias, dir, f.catalog, retries, timeout, f.log), nil
}

// createS3Resolver creates an S3 or S3-compatible resolver.
// URI format: s3://[ACCESS_KEY:SECRET_KEY@]bucket-name/prefix/?region=us-west-2&endpoint=https://custom.s3.com
func (f *ResolverFactory) createS3Resolver(alias string, u *url.URL) (interfaces.LocationResolver, error) {
	f.log.Debug("Creating S3 resolver", slog.String("uri", u.Redacted()))

	query := u.Query()
	cfg := S3Config{
		Bucket:    u.Host,
		Prefix:    strings.TrimPrefix(u.Path, "/"),
		Region:    query.Get("region"),
		Endpoint:  query.Get("endpoint"),
		PathStyle: query.Get("pathStyle") == "true",
		SpoolDir:  query.Get("spool"),
	}
	if u.User != nil {
		cfg.AccessKey = u.User.Username()
		cfg.SecretKey, _ = u.User.Password()
	}

	return NewS3Resolver(alias, cfg, f.catalog, f.log)
}

// createIPFSResolver creates an IPFS resolver.
// URI format: ipfs://host:port/?timeout=30s
func (f *ResolverFactory) createIPFSResolver(ctx context.Context, alias string, u *url.URL) (interfaces.LocationResolver, error) {
	f.log.Debug("Creating IPFS resolver", slog.String("uri", u.String()))

	host := u.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := u.Port()
	if port == "" {
		port = "5001"
	}

	timeout, err := durationParam(u.Query(), "timeout", 30*time.Second)
	if err != nil {
		return nil, err
	}

	tracker, err := f.tracker(ctx, alias)
	if err != nil {
		return nil, err
	}

	sh := NewIPFSShell(host+":"+port, timeout)
	return NewIPFSResolver(alias, sh, f.catalog, tracker, f.log), nil
}

// createVaultResolver creates a Vault KV v2 resolver.
// URI format: vault://[TOKEN@]host:port/mount/path?tls=false&timeout=30s
func (f *ResolverFactory) createVaultResolver(alias string, u *url.URL) (interfaces.LocationResolver, error) {
	f.log.Debug("Creating Vault resolver", slog.String("uri", u.Redacted()))

	parts := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
	if parts[0] == "" {
		return nil, fmt.Errorf("%w: vault location needs a mount path", interfaces.ErrInvalidLocationURI)
	}

	query := u.Query()
	scheme := "https"
	if query.Get("tls") == "false" {
		scheme = "http"
	}
	timeout, err := durationParam(query, "timeout", 30*time.Second)
	if err != nil {
		return nil, err
	}

	cfg := VaultConfig{
		Address:    scheme + "://" + u.Host,
		MountPath:  parts[0],
		ClientCert: f.clientCert,
		Timeout:    timeout,
	}
	if len(parts) > 1 {
		cfg.DataPath = parts[1]
	}
	if u.User != nil {
		cfg.Token = u.User.Username()
	}

	return NewVaultResolver(alias, cfg, f.catalog, f.log)
}

// createMirrorResolver creates a mirror over resolvers built earlier.
// URI format: mirror://?members=file-system,s3
func (f *ResolverFactory) createMirrorResolver(alias string, u *url.URL) (interfaces.LocationResolver, error) {
	f.log.Debug("Creating mirror resolver", slog.String("uri", u.String()))

	names := strings.Split(u.Query().Get("members"), ",")
	members := make([]interfaces.LocationResolver, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if name == alias {
			return nil, fmt.Errorf("%w: mirror %s lists itself", interfaces.ErrInvalidLocationURI, alias)
		}
		member, ok := f.built[name]
		if !ok {
			return nil, fmt.Errorf("%w: mirror member %s", interfaces.ErrUnknownResolver, name)
		}
		members = append(members, member)
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("%w: mirror %s has no members", interfaces.ErrInvalidLocationURI, alias)
	}

	return NewMirrorResolver(alias, members, f.catalog, f.log), nil
}

// localPath extracts a directory from file:// style URIs, accepting both
// file:///abs/path and file://./relative/path.
func localPath(u *url.URL) (string, error) {
	p := u.Path
	if u.Host != "" {
		p = u.Host + "/" + strings.TrimPrefix(p, "/")
	}
	if p == "" {
		return "", fmt.Errorf("%w: empty path in %s", interfaces.ErrInvalidLocationURI, u.String())
	}
	return filepath.Clean(filepath.FromSlash(p)), nil
}

func durationParam(query url.Values, name string, def time.Duration) (time.Duration, error) {
	v := query.Get(name)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s %q", interfaces.ErrInvalidLocationURI, name, v)
	}
	return d, nil
}
