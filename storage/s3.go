package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"github.com/ruteri/artifact-resolver/catalog"
	"github.com/ruteri/artifact-resolver/interfaces"
)

// S3Alias is the default alias of the S3 resolver.
const S3Alias = "s3"

// maxDeleteBatch is the S3 limit of keys per DeleteObjects call.
const maxDeleteBatch = 1000

// S3Config configures an S3Resolver.
type S3Config struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string

	// PathStyle addresses the bucket in the path, as MinIO and most
	// S3-compatible servers expect.
	PathStyle bool

	// SpoolDir holds uploads until they are committed. Empty uses os.TempDir.
	SpoolDir string
}

// S3Resolver stores artifacts as objects keyed
// <prefix>/<storage base location>/<repository>/<path>. Trash is a
// .trash/ key prefix inside each repository.
type S3Resolver struct {
	alias    string
	client   s3iface.S3API
	bucket   string
	prefix   string
	spoolDir string
	catalog  interfaces.StorageCatalog
	log      *slog.Logger

	initOnce sync.Once
	initErr  error
}

// NewS3Resolver creates an S3 resolver. Without credentials the default AWS
// credential chain applies.
func NewS3Resolver(alias string, cfg S3Config, c interfaces.StorageCatalog, log *slog.Logger) (*S3Resolver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: missing S3 bucket", interfaces.ErrInvalidLocationURI)
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	awsCfg := aws.NewConfig().
		WithRegion(cfg.Region).
		WithS3ForcePathStyle(cfg.PathStyle)
	if cfg.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint)
	}
	if cfg.AccessKey != "" {
		awsCfg = awsCfg.WithCredentials(credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, ""))
	} else {
		log.Debug("no S3 credentials in location, using the default credential chain")
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return NewS3ResolverWithClient(alias, s3.New(sess), cfg, c, log), nil
}

// NewS3ResolverWithClient creates an S3 resolver over an existing client.
func NewS3ResolverWithClient(alias string, client s3iface.S3API, cfg S3Config, c interfaces.StorageCatalog, log *slog.Logger) *S3Resolver {
	return &S3Resolver{
		alias:    alias,
		client:   client,
		bucket:   cfg.Bucket,
		prefix:   strings.Trim(cfg.Prefix, "/"),
		spoolDir: cfg.SpoolDir,
		catalog:  c,
		log:      log,
	}
}

// Alias returns the resolver alias.
func (r *S3Resolver) Alias() string {
	return r.alias
}

func (r *S3Resolver) repositoryKey(s *interfaces.Storage, repo *interfaces.Repository) string {
	return path.Join(r.prefix, strings.Trim(storageDir(s), "/"), repo.ID)
}

func (r *S3Resolver) resolve(repositoryID, p string) (*target, string, error) {
	t, err := resolveTarget(r.catalog, repositoryID, p)
	if err != nil {
		return nil, "", err
	}
	return t, r.repositoryKey(t.storage, t.repository), nil
}

// GetInputStream streams the object body.
func (r *S3Resolver) GetInputStream(ctx context.Context, repositoryID, p string) (io.ReadCloser, error) {
	t, repoKey, err := r.resolve(repositoryID, p)
	if err != nil {
		return nil, err
	}

	key := path.Join(repoKey, t.path)
	start := time.Now()
	out, err := r.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if isS3NotFound(err) {
		return nil, interfaces.ErrArtifactNotFound
	}
	if err != nil {
		r.log.Error("Failed to get object from S3",
			slog.String("bucket", r.bucket),
			slog.String("key", key),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return nil, interfaces.NewIOError("read", repositoryID, p, err)
	}

	r.log.Debug("Fetched object from S3",
		slog.String("bucket", r.bucket),
		slog.String("key", key),
		slog.Duration("duration", time.Since(start)))
	return out.Body, nil
}

// GetOutputStream spools the upload to disk and puts the object on Commit.
func (r *S3Resolver) GetOutputStream(ctx context.Context, repositoryID, p string) (interfaces.ArtifactWriter, error) {
	t, repoKey, err := r.resolve(repositoryID, p)
	if err != nil {
		return nil, err
	}

	key := path.Join(repoKey, t.path)
	w, err := newSpoolWriter(r.spoolDir, "s3-upload-*", func(f *os.File, size int64) error {
		_, err := r.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(r.bucket),
			Key:           aws.String(key),
			Body:          f,
			ContentLength: aws.Int64(size),
		})
		if err != nil {
			return interfaces.NewIOError("commit", repositoryID, p, err)
		}
		r.log.Debug("Stored object in S3",
			slog.String("bucket", r.bucket),
			slog.String("key", key),
			slog.Int64("size", size))
		return nil
	})
	if err != nil {
		return nil, interfaces.NewIOError("write", repositoryID, p, err)
	}
	return w, nil
}

// Delete removes the object, or every object under a directory path.
func (r *S3Resolver) Delete(ctx context.Context, repositoryID, p string, force bool) error {
	t, repoKey, err := r.resolve(repositoryID, p)
	if err != nil {
		return err
	}

	key := path.Join(repoKey, t.path)
	keys, err := r.matchingKeys(ctx, key)
	if err != nil {
		return interfaces.NewIOError("delete", repositoryID, p, err)
	}
	if len(keys) == 0 {
		if force {
			return nil
		}
		return interfaces.ErrArtifactNotFound
	}

	for _, k := range keys {
		if t.repository.TrashEnabled {
			trashKey := path.Join(repoKey, trashDirName, strings.TrimPrefix(k, repoKey+"/"))
			if _, err := r.client.CopyObjectWithContext(ctx, &s3.CopyObjectInput{
				Bucket:     aws.String(r.bucket),
				CopySource: aws.String((&url.URL{Path: r.bucket + "/" + k}).EscapedPath()),
				Key:        aws.String(trashKey),
			}); err != nil {
				return interfaces.NewIOError("delete", repositoryID, p, fmt.Errorf("failed to move %s to trash: %w", k, err))
			}
		}
		if _, err := r.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(r.bucket),
			Key:    aws.String(k),
		}); err != nil {
			return interfaces.NewIOError("delete", repositoryID, p, err)
		}
	}

	r.log.Debug("Deleted objects from S3",
		slog.String("bucket", r.bucket),
		slog.String("key", key),
		slog.Int("count", len(keys)),
		slog.Bool("trash", t.repository.TrashEnabled))
	return nil
}

// matchingKeys returns key itself when the object exists, otherwise every
// key below key/.
func (r *S3Resolver) matchingKeys(ctx context.Context, key string) ([]string, error) {
	_, err := r.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return []string{key}, nil
	}
	if !isS3NotFound(err) {
		return nil, err
	}
	return r.listKeys(ctx, key+"/")
}

func (r *S3Resolver) listKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := r.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(r.bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			keys = append(keys, aws.StringValue(obj.Key))
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
	}
	return keys, nil
}

// DeleteTrash removes every object under the repository's trash prefix.
func (r *S3Resolver) DeleteTrash(ctx context.Context, repositoryID string) error {
	storage, repo, err := catalog.Locate(r.catalog, repositoryID)
	if err != nil {
		return err
	}

	trashPrefix := path.Join(r.repositoryKey(storage, repo), trashDirName) + "/"
	keys, err := r.listKeys(ctx, trashPrefix)
	if err != nil {
		return interfaces.NewIOError("delete-trash", repositoryID, trashDirName, err)
	}

	for start := 0; start < len(keys); start += maxDeleteBatch {
		end := min(start+maxDeleteBatch, len(keys))
		objects := make([]*s3.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			objects = append(objects, &s3.ObjectIdentifier{Key: aws.String(k)})
		}
		out, err := r.client.DeleteObjectsWithContext(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(r.bucket),
			Delete: &s3.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return interfaces.NewIOError("delete-trash", repositoryID, trashDirName, err)
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return interfaces.NewIOError("delete-trash", repositoryID, trashDirName,
				fmt.Errorf("%d objects not deleted, first %s: %s", len(out.Errors), aws.StringValue(first.Key), aws.StringValue(first.Message)))
		}
	}

	r.log.Debug("Emptied S3 trash",
		slog.String("repository", repositoryID),
		slog.Int("count", len(keys)))
	return nil
}

// DeleteAllTrash empties the trash of every bound repository.
func (r *S3Resolver) DeleteAllTrash(ctx context.Context) error {
	var errs []error
	for _, repo := range boundRepositories(r.catalog, r.alias) {
		if err := r.DeleteTrash(ctx, repo.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Initialize checks that the bucket is reachable.
func (r *S3Resolver) Initialize(ctx context.Context) error {
	r.initOnce.Do(func() {
		if _, err := r.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{Bucket: aws.String(r.bucket)}); err != nil {
			r.initErr = fmt.Errorf("S3 bucket %s unavailable: %w", r.bucket, err)
			return
		}
		r.log.Info("initialized S3 resolver",
			slog.String("alias", r.alias),
			slog.String("bucket", r.bucket),
			slog.String("prefix", r.prefix))
	})
	return r.initErr
}

func isS3NotFound(err error) bool {
	var aerr awserr.Error
	if !errors.As(err, &aerr) {
		return false
	}
	switch aerr.Code() {
	case s3.ErrCodeNoSuchKey, "NotFound":
		return true
	}
	var reqErr awserr.RequestFailure
	return errors.As(err, &reqErr) && reqErr.StatusCode() == 404
}
