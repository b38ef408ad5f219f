// Package store adapts catalog runs onto an S3-compatible object store. Every
// run lives under {prefix}/{timestamp}/ inside one shared bucket, where
// prefix identifies a cataloged table/dataset grouping and timestamp is a
// lexicographically sortable UTC identifier assigned at run start.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/brojonat/cataloger/internal/catalogerr"
)

const (
	catalogFile       = "catalog.html"
	recentSummaryFile = "recent_summary.html"
	catalogScriptFile = "catalog_script.py"
	summaryScriptFile = "summary_script.py"
	commentsDir       = "comments"
)

// ScriptKind selects which phase's replay script a Write/ReadScript call
// targets: the cataloging agent's session or the summary agent's session.
type ScriptKind string

const (
	CatalogScript ScriptKind = "catalog"
	SummaryScript ScriptKind = "summary"
)

func (k ScriptKind) filename() string {
	if k == SummaryScript {
		return summaryScriptFile
	}
	return catalogScriptFile
}

// Config configures the S3-compatible backing bucket.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// s3API is the slice of the AWS SDK's S3 client this package drives. Naming
// it lets tests substitute an in-memory fake instead of talking to a real
// bucket or LocalStack.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// CatalogStore is the Object Store Adapter: it knows the catalog run's
// directory layout but not the HTML/agent semantics above it.
type CatalogStore struct {
	client s3API
	bucket string
}

// New constructs a CatalogStore backed by an S3-compatible bucket.
func New(ctx context.Context, cfg Config) (*CatalogStore, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, catalogerr.New(catalogerr.ConfigMissing, "store.new", "bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	loadOptions := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOptions = append(loadOptions, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, catalogerr.Wrap(catalogerr.TransportError, "store.new", err)
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		if cfg.UsePathStyle {
			o.UsePathStyle = true
		}
	})

	return &CatalogStore{client: client, bucket: bucket}, nil
}

// newWithClient builds a CatalogStore over an arbitrary s3API, for tests.
func newWithClient(client s3API, bucket string) *CatalogStore {
	return &CatalogStore{client: client, bucket: bucket}
}

// GenerateTimestamp returns a fixed-width, lexicographically sortable UTC
// run identifier. Callers pass `now` rather than calling time.Now()
// themselves so a single workflow run is consistent end to end.
func GenerateTimestamp(now time.Time) string {
	return now.UTC().Format("2006-01-02T15:04:05Z")
}

func runKey(prefix, timestamp, name string) string {
	return strings.Trim(prefix, "/") + "/" + strings.Trim(timestamp, "/") + "/" + name
}

func (s *CatalogStore) putText(ctx context.Context, key, body string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        strings.NewReader(body),
		ContentType: aws.String("text/html; charset=utf-8"),
	})
	if err != nil {
		return catalogerr.Wrap(catalogerr.TransportError, "store.put", err)
	}
	return nil
}

// getText reads one object. Absence is reported via ok=false, not an error:
// a missing prior run is the expected steady state for a brand-new prefix.
func (s *CatalogStore) getText(ctx context.Context, key string) (body string, ok bool, err error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return "", false, nil
		}
		return "", false, catalogerr.Wrap(catalogerr.TransportError, "store.get", err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return "", false, catalogerr.Wrap(catalogerr.TransportError, "store.get", err)
	}
	return string(data), true, nil
}

func isNotFound(err error) bool {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && strings.EqualFold(apiErr.ErrorCode(), "NotFound")
}

// WriteHTML persists an arbitrary named HTML artifact for one run. The two
// fixed names the workflow writes are catalog.html and recent_summary.html;
// WriteCatalog/WriteSummary below are the convenience wrappers the workflow
// actually calls.
func (s *CatalogStore) WriteHTML(ctx context.Context, prefix, timestamp, filename, html string) error {
	return s.putText(ctx, runKey(prefix, timestamp, filename), html)
}

// ReadHTML reads one named HTML artifact for one run. Absence is reported
// via ok=false.
func (s *CatalogStore) ReadHTML(ctx context.Context, prefix, timestamp, filename string) (string, bool, error) {
	return s.getText(ctx, runKey(prefix, timestamp, filename))
}

// WriteCatalog persists the generated HTML catalog for one run.
func (s *CatalogStore) WriteCatalog(ctx context.Context, prefix, timestamp, html string) error {
	return s.WriteHTML(ctx, prefix, timestamp, catalogFile, html)
}

// ReadCatalog reads a run's catalog HTML.
func (s *CatalogStore) ReadCatalog(ctx context.Context, prefix, timestamp string) (string, bool, error) {
	return s.ReadHTML(ctx, prefix, timestamp, catalogFile)
}

// WriteSummary persists the generated trend-summary HTML for one run at
// recent_summary.html, the publication barrier: a reader that observes this
// key may assume catalog.html and both replay scripts already exist.
func (s *CatalogStore) WriteSummary(ctx context.Context, prefix, timestamp, html string) error {
	return s.WriteHTML(ctx, prefix, timestamp, recentSummaryFile, html)
}

// ReadSummary reads a run's trend-summary HTML.
func (s *CatalogStore) ReadSummary(ctx context.Context, prefix, timestamp string) (string, bool, error) {
	return s.ReadHTML(ctx, prefix, timestamp, recentSummaryFile)
}

// WriteScript persists the replay script assembled from a run's executed
// code history for the given phase.
func (s *CatalogStore) WriteScript(ctx context.Context, prefix, timestamp string, kind ScriptKind, script string) error {
	return s.putText(ctx, runKey(prefix, timestamp, kind.filename()), script)
}

// ReadScript reads a run's replay script for the given phase. Absence is not
// an error: the very first run under a prefix has no prior script to read.
func (s *CatalogStore) ReadScript(ctx context.Context, prefix, timestamp string, kind ScriptKind) (string, bool, error) {
	return s.getText(ctx, runKey(prefix, timestamp, kind.filename()))
}

func commentKey(prefix, timestamp, user, commentTimestamp string) string {
	return runKey(prefix, timestamp, commentsDir) + "/" + user + "-" + commentTimestamp + ".txt"
}

// WriteComment records one piece of human feedback as its own append-only
// file, comments/{user}-{now}.txt, so distinct comments from the same user
// on the same day never collide on second-granularity timestamps sharing a
// minute: now is formatted to the second, same as a run timestamp.
func (s *CatalogStore) WriteComment(ctx context.Context, prefix, timestamp, user, text string) (string, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		user = "anonymous"
	}
	commentTS := GenerateTimestamp(time.Now())
	key := commentKey(prefix, timestamp, user, commentTS)
	if err := s.putText(ctx, key, text); err != nil {
		return "", err
	}
	return key, nil
}

// ListComments returns the filenames of every comment recorded for one run,
// in no particular order (callers that need chronological order should sort
// the {user}-{timestamp}.txt names, which are themselves lexicographic).
func (s *CatalogStore) ListComments(ctx context.Context, prefix, timestamp string) ([]string, error) {
	base := runKey(prefix, timestamp, commentsDir) + "/"
	var out []string
	var token *string
	for {
		resp, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(base),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, catalogerr.Wrap(catalogerr.TransportError, "store.list", err)
		}
		for _, obj := range resp.Contents {
			if obj.Key == nil {
				continue
			}
			out = append(out, strings.TrimPrefix(*obj.Key, base))
		}
		if resp.IsTruncated == nil || !*resp.IsTruncated {
			break
		}
		token = resp.NextContinuationToken
	}
	sort.Strings(out)
	return out, nil
}

// ReadComment reads one comment file by its filename (as returned from
// ListComments).
func (s *CatalogStore) ReadComment(ctx context.Context, prefix, timestamp, filename string) (string, bool, error) {
	return s.getText(ctx, runKey(prefix, timestamp, commentsDir)+"/"+filename)
}

// ReadComments returns every comment recorded for one run, formatted as
// "user (date): text" in filename order, for the Context Assembler. A run
// with no comments yet returns an empty, non-nil slice rather than an error:
// no feedback is the expected steady state for most runs.
func (s *CatalogStore) ReadComments(ctx context.Context, prefix, timestamp string) ([]string, error) {
	names, err := s.ListComments(ctx, prefix, timestamp)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(names))
	for _, name := range names {
		text, ok, err := s.ReadComment(ctx, prefix, timestamp, name)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		user, date := splitCommentName(name)
		out = append(out, fmt.Sprintf("%s (%s): %s", user, date, text))
	}
	return out, nil
}

// splitCommentName recovers the user and the comment timestamp from a
// "{user}-{timestamp}.txt" filename. The timestamp itself contains hyphens
// and colons, so the split is on the last "-" that precedes a 4-digit year.
func splitCommentName(name string) (user, date string) {
	name = strings.TrimSuffix(name, ".txt")
	idx := strings.Index(name, "-20")
	if idx < 0 {
		return name, ""
	}
	return name[:idx], name[idx+1:]
}

// ListTimestamps returns the run timestamps recorded under prefix,
// newest-first, which is the order timestamp strings naturally take when
// string-sorted in reverse (fixed-width, zero-padded, UTC). limit caps the
// number of entries returned; zero or negative means unlimited.
func (s *CatalogStore) ListTimestamps(ctx context.Context, prefix string, limit int) ([]string, error) {
	children, err := s.listCommonPrefixes(ctx, strings.Trim(prefix, "/")+"/")
	if err != nil {
		return nil, err
	}
	sort.Sort(sort.Reverse(sort.StringSlice(children)))
	if limit > 0 && len(children) > limit {
		children = children[:limit]
	}
	return children, nil
}

// ListPrefixes returns the known "customer/database" prefixes, walking two
// path segments deep per the bucket's layout convention: callers that pass
// prefixes shaped some other way simply get no results back, since this is a
// naming convention rather than an invariant the adapter enforces. limit
// caps the number of prefixes returned; zero or negative means unlimited.
func (s *CatalogStore) ListPrefixes(ctx context.Context, limit int) ([]string, error) {
	customers, err := s.listCommonPrefixes(ctx, "")
	if err != nil {
		return nil, err
	}
	var out []string
	for _, customer := range customers {
		databases, err := s.listCommonPrefixes(ctx, customer+"/")
		if err != nil {
			return nil, err
		}
		for _, db := range databases {
			out = append(out, customer+"/"+db)
			if limit > 0 && len(out) >= limit {
				sort.Strings(out)
				return out, nil
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// listCommonPrefixes lists the immediate child "directories" under base
// using S3's delimiter-based listing, which avoids paging through every
// object just to enumerate run timestamps.
func (s *CatalogStore) listCommonPrefixes(ctx context.Context, base string) ([]string, error) {
	var out []string
	var token *string
	for {
		resp, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(base),
			Delimiter:         aws.String("/"),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, catalogerr.Wrap(catalogerr.TransportError, "store.list", err)
		}
		for _, cp := range resp.CommonPrefixes {
			if cp.Prefix == nil {
				continue
			}
			name := strings.TrimPrefix(*cp.Prefix, base)
			name = strings.TrimSuffix(name, "/")
			if name != "" {
				out = append(out, name)
			}
		}
		if resp.IsTruncated == nil || !*resp.IsTruncated {
			break
		}
		token = resp.NextContinuationToken
	}
	return out, nil
}

// ListCatalogs returns every ".html" entry recorded directly under one run
// (normally catalog.html and recent_summary.html, but any other HTML a
// caller wrote by hand is picked up too).
func (s *CatalogStore) ListCatalogs(ctx context.Context, prefix, timestamp string) ([]string, error) {
	all, err := s.ListAllFiles(ctx, prefix, timestamp)
	if err != nil {
		return nil, err
	}
	return all.HTML, nil
}

// GetLatestScript returns the most recent replay script recorded under
// prefix, and the timestamp it belongs to. ok is false when no prior run
// under prefix has ever written a script.
func (s *CatalogStore) GetLatestScript(ctx context.Context, prefix string, kind ScriptKind) (script, timestamp string, ok bool, err error) {
	timestamps, err := s.ListTimestamps(ctx, prefix, 0)
	if err != nil {
		return "", "", false, err
	}
	for _, ts := range timestamps {
		body, found, err := s.ReadScript(ctx, prefix, ts, kind)
		if err != nil {
			return "", "", false, err
		}
		if found {
			return body, ts, true, nil
		}
	}
	return "", "", false, nil
}

// FileListing categorizes every object recorded for one run by kind.
type FileListing struct {
	HTML     []string
	Scripts  []string
	Comments []string
	Other    []string
}

// ListAllFiles returns every object key recorded for one run, categorized
// into HTML artifacts, replay scripts, comments, and anything else.
func (s *CatalogStore) ListAllFiles(ctx context.Context, prefix, timestamp string) (FileListing, error) {
	base := strings.Trim(prefix, "/") + "/" + strings.Trim(timestamp, "/") + "/"
	var listing FileListing
	var token *string
	for {
		resp, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(base),
			ContinuationToken: token,
		})
		if err != nil {
			return FileListing{}, catalogerr.Wrap(catalogerr.TransportError, "store.list", err)
		}
		for _, obj := range resp.Contents {
			if obj.Key == nil {
				continue
			}
			name := strings.TrimPrefix(*obj.Key, base)
			switch {
			case strings.HasPrefix(name, commentsDir+"/"):
				listing.Comments = append(listing.Comments, name)
			case strings.HasSuffix(name, ".html"):
				listing.HTML = append(listing.HTML, name)
			case strings.HasSuffix(name, ".py"):
				listing.Scripts = append(listing.Scripts, name)
			default:
				listing.Other = append(listing.Other, name)
			}
		}
		if resp.IsTruncated == nil || !*resp.IsTruncated {
			break
		}
		token = resp.NextContinuationToken
	}
	return listing, nil
}
