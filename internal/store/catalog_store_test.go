package store

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

func TestGenerateTimestampIsLexicographicallySortable(t *testing.T) {
	earlier := GenerateTimestamp(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	later := GenerateTimestamp(time.Date(2026, 1, 2, 3, 4, 6, 0, time.UTC))

	if earlier != "2026-01-02T03:04:05Z" {
		t.Fatalf("unexpected format: %q", earlier)
	}
	if !(earlier < later) {
		t.Fatalf("expected %q < %q", earlier, later)
	}
}

func TestRunKeyTrimsSlashes(t *testing.T) {
	got := runKey("/orders/", "/2026-01-02T03:04:05Z/", "catalog.html")
	want := "orders/2026-01-02T03:04:05Z/catalog.html"
	if got != want {
		t.Fatalf("runKey = %q, want %q", got, want)
	}
}

func TestScriptKindFilename(t *testing.T) {
	if got := CatalogScript.filename(); got != catalogScriptFile {
		t.Fatalf("CatalogScript.filename() = %q, want %q", got, catalogScriptFile)
	}
	if got := SummaryScript.filename(); got != summaryScriptFile {
		t.Fatalf("SummaryScript.filename() = %q, want %q", got, summaryScriptFile)
	}
	// An empty/unknown ScriptKind is treated as the catalog phase.
	if got := ScriptKind("").filename(); got != catalogScriptFile {
		t.Fatalf("unknown ScriptKind.filename() = %q, want %q", got, catalogScriptFile)
	}
}

// fakeS3 is an in-memory stand-in for the handful of S3 operations the
// adapter drives, keyed the same way a real bucket would be.
type fakeS3 struct {
	objects map[string][]byte
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = body
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	prefix := aws.ToString(in.Prefix)
	delim := aws.ToString(in.Delimiter)

	var contents []types.Object
	seen := make(map[string]bool)
	var commonPrefixes []types.CommonPrefix

	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := strings.TrimPrefix(key, prefix)
		if delim != "" {
			if idx := strings.Index(rest, delim); idx >= 0 {
				cp := prefix + rest[:idx+len(delim)]
				if !seen[cp] {
					seen[cp] = true
					commonPrefixes = append(commonPrefixes, types.CommonPrefix{Prefix: aws.String(cp)})
				}
				continue
			}
		}
		contents = append(contents, types.Object{Key: aws.String(key)})
	}

	return &s3.ListObjectsV2Output{
		Contents:       contents,
		CommonPrefixes: commonPrefixes,
		IsTruncated:    aws.Bool(false),
	}, nil
}

func newTestStore() (*CatalogStore, *fakeS3) {
	f := newFakeS3()
	return newWithClient(f, "test-bucket"), f
}

func TestWriteThenReadHTMLRoundTrips(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	if err := s.WriteCatalog(ctx, "cust/db", "2026-01-01T00:00:00Z", "<p>hello</p>"); err != nil {
		t.Fatalf("WriteCatalog: %v", err)
	}
	got, ok, err := s.ReadCatalog(ctx, "cust/db", "2026-01-01T00:00:00Z")
	if err != nil || !ok {
		t.Fatalf("ReadCatalog: ok=%v err=%v", ok, err)
	}
	if got != "<p>hello</p>" {
		t.Fatalf("ReadCatalog = %q", got)
	}
}

func TestWriteThenReadSummaryUsesRecentSummaryFilename(t *testing.T) {
	s, f := newTestStore()
	ctx := context.Background()

	if err := s.WriteSummary(ctx, "cust/db", "2026-01-01T00:00:00Z", "<p>trend</p>"); err != nil {
		t.Fatalf("WriteSummary: %v", err)
	}
	if _, ok := f.objects["cust/db/2026-01-01T00:00:00Z/recent_summary.html"]; !ok {
		t.Fatalf("expected object at recent_summary.html, got keys: %v", f.objects)
	}
	got, ok, err := s.ReadSummary(ctx, "cust/db", "2026-01-01T00:00:00Z")
	if err != nil || !ok || got != "<p>trend</p>" {
		t.Fatalf("ReadSummary = %q, ok=%v, err=%v", got, ok, err)
	}
}

func TestReadScriptAbsentIsNotAnError(t *testing.T) {
	s, _ := newTestStore()
	_, ok, err := s.ReadScript(context.Background(), "cust/db", "2026-01-01T00:00:00Z", CatalogScript)
	if err != nil {
		t.Fatalf("ReadScript: %v", err)
	}
	if ok {
		t.Fatalf("expected absent script to report ok=false")
	}
}

func TestListTimestampsOrdersNewestFirst(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	for _, ts := range []string{"2026-01-01T00:00:00Z", "2026-01-03T00:00:00Z", "2026-01-02T00:00:00Z"} {
		if err := s.WriteCatalog(ctx, "cust/db", ts, "<p>x</p>"); err != nil {
			t.Fatalf("WriteCatalog(%s): %v", ts, err)
		}
	}

	got, err := s.ListTimestamps(ctx, "cust/db", 0)
	if err != nil {
		t.Fatalf("ListTimestamps: %v", err)
	}
	want := []string{"2026-01-03T00:00:00Z", "2026-01-02T00:00:00Z", "2026-01-01T00:00:00Z"}
	if len(got) != len(want) {
		t.Fatalf("ListTimestamps = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ListTimestamps[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestListTimestampsRespectsLimit(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	for _, ts := range []string{"2026-01-01T00:00:00Z", "2026-01-02T00:00:00Z", "2026-01-03T00:00:00Z"} {
		_ = s.WriteCatalog(ctx, "cust/db", ts, "<p>x</p>")
	}
	got, err := s.ListTimestamps(ctx, "cust/db", 2)
	if err != nil {
		t.Fatalf("ListTimestamps: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 timestamps, got %d: %v", len(got), got)
	}
}

func TestListPrefixesWalksTwoLevels(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	_ = s.WriteCatalog(ctx, "acme/orders", "2026-01-01T00:00:00Z", "<p>x</p>")
	_ = s.WriteCatalog(ctx, "acme/users", "2026-01-01T00:00:00Z", "<p>x</p>")
	_ = s.WriteCatalog(ctx, "globex/orders", "2026-01-01T00:00:00Z", "<p>x</p>")

	got, err := s.ListPrefixes(ctx, 0)
	if err != nil {
		t.Fatalf("ListPrefixes: %v", err)
	}
	want := []string{"acme/orders", "acme/users", "globex/orders"}
	if len(got) != len(want) {
		t.Fatalf("ListPrefixes = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ListPrefixes[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestWriteCommentCreatesOnePerUserPerComment(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	key1, err := s.WriteComment(ctx, "cust/db", "2026-01-01T00:00:00Z", "alice", "looks good")
	if err != nil {
		t.Fatalf("WriteComment: %v", err)
	}
	if !strings.Contains(key1, "comments/alice-") {
		t.Fatalf("expected comment key under comments/alice-..., got %q", key1)
	}

	names, err := s.ListComments(ctx, "cust/db", "2026-01-01T00:00:00Z")
	if err != nil {
		t.Fatalf("ListComments: %v", err)
	}
	if len(names) != 1 {
		t.Fatalf("expected 1 comment, got %v", names)
	}

	text, ok, err := s.ReadComment(ctx, "cust/db", "2026-01-01T00:00:00Z", names[0])
	if err != nil || !ok || text != "looks good" {
		t.Fatalf("ReadComment = %q, ok=%v, err=%v", text, ok, err)
	}
}

func TestReadCommentsFormatsUserAndDate(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	if _, err := s.WriteComment(ctx, "cust/db", "2026-01-01T00:00:00Z", "bob", "needs a retitle"); err != nil {
		t.Fatalf("WriteComment: %v", err)
	}
	comments, err := s.ReadComments(ctx, "cust/db", "2026-01-01T00:00:00Z")
	if err != nil {
		t.Fatalf("ReadComments: %v", err)
	}
	if len(comments) != 1 {
		t.Fatalf("expected 1 comment, got %v", comments)
	}
	if !strings.HasPrefix(comments[0], "bob (") || !strings.HasSuffix(comments[0], "): needs a retitle") {
		t.Fatalf("unexpected comment format: %q", comments[0])
	}
}

func TestReadCommentsEmptyForRunWithNoFeedback(t *testing.T) {
	s, _ := newTestStore()
	comments, err := s.ReadComments(context.Background(), "cust/db", "2026-01-01T00:00:00Z")
	if err != nil {
		t.Fatalf("ReadComments: %v", err)
	}
	if len(comments) != 0 {
		t.Fatalf("expected no comments, got %v", comments)
	}
}

func TestListAllFilesCategorizesByKind(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	_ = s.WriteCatalog(ctx, "cust/db", "2026-01-01T00:00:00Z", "<p>x</p>")
	_ = s.WriteSummary(ctx, "cust/db", "2026-01-01T00:00:00Z", "<p>y</p>")
	_ = s.WriteScript(ctx, "cust/db", "2026-01-01T00:00:00Z", CatalogScript, "# x = 1")
	if _, err := s.WriteComment(ctx, "cust/db", "2026-01-01T00:00:00Z", "alice", "nice"); err != nil {
		t.Fatalf("WriteComment: %v", err)
	}

	listing, err := s.ListAllFiles(ctx, "cust/db", "2026-01-01T00:00:00Z")
	if err != nil {
		t.Fatalf("ListAllFiles: %v", err)
	}
	if len(listing.HTML) != 2 {
		t.Fatalf("expected 2 html files, got %v", listing.HTML)
	}
	if len(listing.Scripts) != 1 {
		t.Fatalf("expected 1 script, got %v", listing.Scripts)
	}
	if len(listing.Comments) != 1 {
		t.Fatalf("expected 1 comment, got %v", listing.Comments)
	}
}

func TestGetLatestScriptWalksNewestFirst(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	_ = s.WriteScript(ctx, "cust/db", "2026-01-01T00:00:00Z", CatalogScript, "# old")
	_ = s.WriteScript(ctx, "cust/db", "2026-01-02T00:00:00Z", CatalogScript, "# new")
	// A run with only a catalog (no script) is skipped in favor of the next
	// one back that does have a script.
	_ = s.WriteCatalog(ctx, "cust/db", "2026-01-03T00:00:00Z", "<p>x</p>")

	script, ts, ok, err := s.GetLatestScript(ctx, "cust/db", CatalogScript)
	if err != nil {
		t.Fatalf("GetLatestScript: %v", err)
	}
	if !ok {
		t.Fatalf("expected a script to be found")
	}
	if script != "# new" || ts != "2026-01-02T00:00:00Z" {
		t.Fatalf("GetLatestScript = (%q, %q), want (%q, %q)", script, ts, "# new", "2026-01-02T00:00:00Z")
	}
}
