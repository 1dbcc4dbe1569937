package gem

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/lgc202/gemkit/httpx"
)

// File is an uploaded file kept by the API.
type File struct {
	Name           string    `json:"name" yaml:"name"`
	DisplayName    string    `json:"displayName,omitempty" yaml:"displayName,omitempty"`
	MIMEType       string    `json:"mimeType,omitempty" yaml:"mimeType,omitempty"`
	SizeBytes      int64     `json:"sizeBytes,string,omitempty" yaml:"sizeBytes,omitempty"`
	CreateTime     time.Time `json:"createTime,omitzero" yaml:"createTime,omitempty"`
	UpdateTime     time.Time `json:"updateTime,omitzero" yaml:"updateTime,omitempty"`
	ExpirationTime time.Time `json:"expirationTime,omitzero" yaml:"expirationTime,omitempty"`
	SHA256Hash     string    `json:"sha256Hash,omitempty" yaml:"sha256Hash,omitempty"`
	URI            string    `json:"uri,omitempty" yaml:"uri,omitempty"`
	State          string    `json:"state,omitempty" yaml:"state,omitempty"`
}

type listFilesResponse struct {
	Files         []File `json:"files"`
	NextPageToken string `json:"nextPageToken"`
}

// FileManager lists and deletes the files of the API key's project.
type FileManager struct {
	s *Session

	pageSize    int
	concurrency int
}

// Files returns a FileManager sharing the session's transport.
func (s *Session) Files() *FileManager {
	return &FileManager{s: s, pageSize: 100, concurrency: 4}
}

// List returns every file, following page tokens.
func (m *FileManager) List(ctx context.Context) ([]File, error) {
	ctx, span := m.s.tracer.Start(ctx, "gem.FileManager.List")
	defer span.End()

	var files []File
	token := ""
	for {
		opts := []httpx.RequestOption{httpx.WithQueryParam("pageSize", strconv.Itoa(m.pageSize))}
		if token != "" {
			opts = append(opts, httpx.WithQueryParam("pageToken", token))
		}
		var page listFilesResponse
		if err := m.do(ctx, "files.list", http.MethodGet, "/v1beta/files", &page, opts...); err != nil {
			endSpan(span, err)
			return nil, err
		}
		files = append(files, page.Files...)
		if page.NextPageToken == "" || page.NextPageToken == token {
			break
		}
		token = page.NextPageToken
	}
	span.SetAttributes(attribute.Int("gem.files", len(files)))
	return files, nil
}

// Get fetches one file. name may omit the "files/" prefix.
func (m *FileManager) Get(ctx context.Context, name string) (*File, error) {
	ctx, span := m.s.tracer.Start(ctx, "gem.FileManager.Get", trace.WithAttributes(attribute.String("gem.file", name)))
	defer span.End()

	var f File
	if err := m.do(ctx, "files.get", http.MethodGet, "/v1beta/"+fileName(name), &f); err != nil {
		endSpan(span, err)
		return nil, err
	}
	return &f, nil
}

func (m *FileManager) Delete(ctx context.Context, name string) error {
	ctx, span := m.s.tracer.Start(ctx, "gem.FileManager.Delete", trace.WithAttributes(attribute.String("gem.file", name)))
	defer span.End()

	if err := m.do(ctx, "files.delete", http.MethodDelete, "/v1beta/"+fileName(name), nil); err != nil {
		endSpan(span, err)
		return err
	}
	return nil
}

// Clear deletes every listed file, a few at a time. It keeps going past
// failures and reports how many files were deleted along with all errors.
func (m *FileManager) Clear(ctx context.Context) (int, error) {
	files, err := m.List(ctx)
	if err != nil {
		return 0, err
	}

	var (
		mu      sync.Mutex
		deleted int
		errs    []error
	)
	var g errgroup.Group
	g.SetLimit(m.concurrency)
	for _, f := range files {
		g.Go(func() error {
			err := m.Delete(ctx, f.Name)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return nil
			}
			deleted++
			return nil
		})
	}
	_ = g.Wait()
	m.s.logger.DebugContext(ctx, "gem files cleared", "deleted", deleted, "failed", len(errs))
	return deleted, errors.Join(errs...)
}

func (m *FileManager) do(ctx context.Context, op, method, path string, dst any, opts ...httpx.RequestOption) error {
	req, err := m.s.http.NewJSONRequest(ctx, method, path, nil, append(opts, m.s.unaryOptions()...)...)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	if dst == nil {
		resp, err := m.s.http.DoStatus(req)
		if err != nil {
			return m.s.mapError(op, req, err)
		}
		return resp.Body.Close()
	}
	if _, err := m.s.http.DoJSONInto(req, dst); err != nil {
		if _, ok := httpx.AsError(err); ok {
			return m.s.mapError(op, req, err)
		}
		return &DecodeError{Fragment: -1, Err: err}
	}
	return nil
}

func fileName(name string) string {
	name = strings.TrimSpace(name)
	if strings.HasPrefix(name, "files/") {
		return name
	}
	return "files/" + name
}

func endSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
