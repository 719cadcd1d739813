package plugin

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"

	"inventory-collector/pkg/config"
)

const (
	taskObjectKey = "object"
	maxLineSize   = 16 << 20
)

// ObjectStore is the slice of an S3 compatible store the collector needs.
type ObjectStore interface {
	List(ctx context.Context, prefix string) ([]string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

type minioStore struct {
	client *minio.Client
	bucket string
}

func NewMinioStore(client *minio.Client, cfg *config.Config) ObjectStore {
	return &minioStore{client: client, bucket: cfg.Minio.BucketName}
}

func (m *minioStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

func (m *minioStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
}

// ObjectStoreCollector reads JSON-lines envelopes dropped under
// <plugin_id>/<secret_id>/ by an out-of-process plugin runner.
type ObjectStoreCollector struct {
	store ObjectStore
}

func NewObjectStoreCollector(store ObjectStore) *ObjectStoreCollector {
	return &ObjectStoreCollector{store: store}
}

func prefixFor(pluginID, secretID string) string {
	return path.Join(pluginID, secretID) + "/"
}

func (c *ObjectStoreCollector) objects(ctx context.Context, pluginID, secretID string) ([]string, error) {
	keys, err := c.store.List(ctx, prefixFor(pluginID, secretID))
	if err != nil {
		return nil, err
	}
	out := keys[:0]
	for _, k := range keys {
		if !strings.HasSuffix(k, "/") {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

// GetTasks returns one task per object when a secret has several.
func (c *ObjectStoreCollector) GetTasks(ctx context.Context, req TaskRequest) ([]map[string]any, error) {
	keys, err := c.objects(ctx, req.Plugin.PluginID, req.SecretID)
	if err != nil {
		return nil, fmt.Errorf("list plugin objects: %w", err)
	}
	if len(keys) <= 1 {
		return nil, nil
	}
	tasks := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		tasks = append(tasks, map[string]any{taskObjectKey: k})
	}
	return tasks, nil
}

func (c *ObjectStoreCollector) Collect(ctx context.Context, req CollectRequest) (Stream, error) {
	if key, ok := req.TaskOptions[taskObjectKey].(string); ok && key != "" {
		return &objectStream{store: c.store, keys: []string{key}}, nil
	}
	keys, err := c.objects(ctx, req.Plugin.PluginID, req.SecretID)
	if err != nil {
		return nil, fmt.Errorf("list plugin objects: %w", err)
	}
	return &objectStream{store: c.store, keys: keys}, nil
}

// objectStream opens objects one at a time and decodes a line per Next.
type objectStream struct {
	store   ObjectStore
	keys    []string
	current io.ReadCloser
	scanner *bufio.Scanner
	key     string
	line    int
}

func (s *objectStream) Next(ctx context.Context) (*ResourceEnvelope, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.scanner == nil {
			if len(s.keys) == 0 {
				return nil, io.EOF
			}
			if err := s.open(ctx); err != nil {
				return nil, err
			}
		}

		if !s.scanner.Scan() {
			err := s.scanner.Err()
			s.closeCurrent()
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", s.key, err)
			}
			continue
		}
		s.line++

		raw := bytes.TrimSpace(s.scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var env ResourceEnvelope
		if err := jsoniter.Unmarshal(raw, &env); err != nil {
			zap.L().Warn("invalid envelope line", zap.String("object", s.key), zap.Int("line", s.line), zap.Error(err))
			return &ResourceEnvelope{
				State:   StateFailure,
				Message: fmt.Sprintf("decode %s line %d: %v", s.key, s.line, err),
			}, nil
		}
		if env.State == "" {
			env.State = StateOK
		}
		return &env, nil
	}
}

func (s *objectStream) open(ctx context.Context) error {
	s.key, s.keys = s.keys[0], s.keys[1:]
	rc, err := s.store.Open(ctx, s.key)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.key, err)
	}
	s.current = rc
	s.scanner = bufio.NewScanner(rc)
	s.scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	s.line = 0
	return nil
}

func (s *objectStream) closeCurrent() {
	if s.current != nil {
		_ = s.current.Close()
	}
	s.current = nil
	s.scanner = nil
}

func (s *objectStream) Close() error {
	s.closeCurrent()
	s.keys = nil
	return nil
}
