package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"

	domain "github.com/agentdag/agentdag/internal/domain/engine"
	"github.com/agentdag/agentdag/internal/manifest"
	"github.com/agentdag/agentdag/internal/ports"
	apperrors "github.com/agentdag/agentdag/pkg/errors"
)

// YAMLLoader implements ports.ManifestLoader by reading YAML files from disk.
type YAMLLoader struct {
	logger ports.Logger
}

func NewYAMLLoader(logger ports.Logger) *YAMLLoader {
	return &YAMLLoader{logger: logger}
}

func (l *YAMLLoader) Load(ctx context.Context, path string) (*manifest.Manifest, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, domain.New(domain.ErrValidation, "load cancelled", ctxErr, nil)
	}

	l.logDebug(ctx, "loading manifest", map[string]interface{}{"path": path})

	m, err := manifest.ParseFile(path)
	if err != nil {
		l.logError(ctx, "failed to parse manifest", err, map[string]interface{}{"path": path})
		return nil, convertError(err, path)
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, domain.New(domain.ErrValidation, "load cancelled", ctxErr, nil)
	}

	if _, err := m.Build(); err != nil {
		l.logError(ctx, "manifest failed graph validation", err, map[string]interface{}{"path": path})
		return nil, domain.New(domain.ErrValidation, "manifest graph is invalid", err, map[string]interface{}{"path": path})
	}

	l.logInfo(ctx, "manifest loaded", map[string]interface{}{"path": path, "nodes": len(m.Nodes)})
	return m, nil
}

func (l *YAMLLoader) Validate(ctx context.Context, path string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return domain.New(domain.ErrValidation, "operation cancelled", ctxErr, nil)
	}

	info, err := os.Stat(path)
	if err != nil {
		l.logError(ctx, "manifest path stat failed", err, map[string]interface{}{"path": path})
		return convertError(err, path)
	}
	if info.IsDir() {
		return domain.New(domain.ErrValidation, "manifest path is a directory", nil, map[string]interface{}{"path": path})
	}

	ext := filepath.Ext(path)
	switch ext {
	case ".yaml", ".yml":
		l.logDebug(ctx, "validating manifest", map[string]interface{}{"path": path})
		_, err = l.Load(ctx, path)
	default:
		err = domain.New(domain.ErrValidation, "unsupported manifest file extension", nil, map[string]interface{}{"path": path, "extension": ext})
	}

	return err
}

var _ ports.ManifestLoader = (*YAMLLoader)(nil)

func convertError(err error, path string) error {
	if err == nil {
		return nil
	}
	var parseErr *apperrors.ParseError
	if errors.As(err, &parseErr) {
		if errors.Is(parseErr.Err, os.ErrNotExist) {
			return domain.New(domain.ErrValidation, "manifest not found", parseErr.Err, map[string]interface{}{"path": path})
		}
		return domain.New(domain.ErrValidation, "invalid manifest syntax", err, map[string]interface{}{"path": parseErr.Path, "line": parseErr.Line})
	}
	var valErr *apperrors.ValidationError
	if errors.As(err, &valErr) {
		ctx := map[string]interface{}{"path": path}
		if valErr.Field != "" {
			ctx["field"] = valErr.Field
		}
		return domain.New(domain.ErrValidation, valErr.Message, valErr.Err, ctx)
	}
	if os.IsNotExist(err) {
		return domain.New(domain.ErrValidation, "manifest not found", err, map[string]interface{}{"path": path})
	}
	return domain.New(domain.ErrInternal, "manifest load failed", err, map[string]interface{}{"path": path})
}

func (l *YAMLLoader) logDebug(ctx context.Context, msg string, fields map[string]interface{}) {
	if l.logger == nil {
		return
	}
	l.logger.Debug(ctx, msg, flattenFields(fields)...)
}

func (l *YAMLLoader) logInfo(ctx context.Context, msg string, fields map[string]interface{}) {
	if l.logger == nil {
		return
	}
	l.logger.Info(ctx, msg, flattenFields(fields)...)
}

func (l *YAMLLoader) logError(ctx context.Context, msg string, err error, fields map[string]interface{}) {
	if l.logger == nil {
		return
	}
	payload := make(map[string]interface{}, len(fields)+2)
	for k, v := range fields {
		payload[k] = v
	}
	payload["error"] = err
	l.logger.Error(ctx, msg, flattenFields(payload)...)
}

func flattenFields(fields map[string]interface{}) []interface{} {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]interface{}, 0, len(fields)*2)
	for _, k := range keys {
		args = append(args, k, fields[k])
	}
	return args
}
