package hamsh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ruapotato/hamnix/internal/oracle"
)

const envFileVar = oracle.EnvFileVar

// newHandoffFile creates an empty, uniquely named handoff file next to the
// configured template path and returns its name.
func newHandoffFile(template string) (string, error) {
	dir := filepath.Dir(template)
	base := strings.TrimSuffix(filepath.Base(template), filepath.Ext(template))
	f, err := os.CreateTemp(dir, base+"-*.json")
	if err != nil {
		return "", fmt.Errorf("failed to create environment handoff file: %w", err)
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return "", err
	}
	return name, nil
}

// readHandoff parses the environment a stage reported. A missing or empty
// file means the stage reported nothing.
func readHandoff(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid environment handoff: %w", err)
	}
	env := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			env[k] = val
		case nil:
			env[k] = ""
		default:
			env[k] = fmt.Sprint(val)
		}
	}
	return env, nil
}

// diffEnv returns the entries of after that are new or changed relative to
// before. The handoff variable itself is never reported.
func diffEnv(before, after map[string]string) map[string]string {
	delta := make(map[string]string)
	for k, v := range after {
		if k == envFileVar {
			continue
		}
		if old, ok := before[k]; !ok || old != v {
			delta[k] = v
		}
	}
	return delta
}

// syncEnv forwards a stage's environment changes to the kernel and adopts a
// reported working directory. A PWD that is not a directory is dropped.
func (e *Engine) syncEnv(ctx context.Context, before map[string]string, handoff string) error {
	after, err := readHandoff(handoff)
	if err != nil || after == nil {
		return err
	}

	delta := diffEnv(before, after)
	var dir string
	var dirErr error
	if pwd, ok := delta["PWD"]; ok {
		pwd = filepath.Clean(resolvePath(e.Dir(), pwd))
		if info, err := os.Stat(pwd); err != nil || !info.IsDir() {
			delete(delta, "PWD")
			dirErr = fmt.Errorf("reported working directory %s is not a directory", pwd)
		} else {
			delta["PWD"] = pwd
			dir = pwd
		}
	}

	if len(delta) > 0 {
		e.log.Debug("forwarding environment changes", zap.Strings("keys", sortedKeys(delta)))
		if err := e.kernel.UpdateEnv(ctx, delta); err != nil {
			return err
		}
	}
	if dir != "" && dir != e.Dir() {
		e.log.Debug("adopting working directory", zap.String("dir", dir))
		e.setDir(dir)
	}
	return dirErr
}

// environList renders env in os/exec form with a stable order.
func environList(env map[string]string) []string {
	keys := sortedKeys(env)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
