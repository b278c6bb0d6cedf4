package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/mesh-intelligence/studystore/internal/rdb"
	"github.com/mesh-intelligence/studystore/pkg/types"
)

// attach opens the configured store. The caller must Detach it.
func (a *app) attach(ctx context.Context) (*rdb.Backend, error) {
	cfg, err := a.storageConfig()
	if err != nil {
		return nil, err
	}
	backend := rdb.NewBackend(rdb.WithLogger(a.logger))
	if err := backend.Attach(ctx, cfg); err != nil {
		return nil, fmt.Errorf("attach backend: %w", err)
	}
	return backend, nil
}

// withSession attaches the store, runs fn on one session and tears both
// down again.
func (a *app) withSession(ctx context.Context, fn func(types.Session) error) (err error) {
	backend, err := a.attach(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, backend.Detach())
	}()

	session, err := backend.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, session.Release())
	}()
	return fn(session)
}

// resolveStudy accepts a numeric study id or a study UUID.
func resolveStudy(ctx context.Context, s types.Session, ref string) (int64, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		if _, err := s.GetStudyUUIDFromID(ctx, id); err != nil {
			return 0, err
		}
		return id, nil
	}
	return s.GetStudyIDFromUUID(ctx, ref)
}

// parseID parses a positive numeric id argument.
func parseID(kind, arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, usagef("invalid %s id %q", kind, arg)
	}
	return id, nil
}

// parseValue reads a command-line attribute value as JSON, falling back to
// the raw string.
func parseValue(arg string) any {
	var v any
	if err := json.Unmarshal([]byte(arg), &v); err != nil {
		return arg
	}
	return v
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
