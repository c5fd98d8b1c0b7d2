package worker

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/fuxiaohei/lol-serverless/errors"
)

// loadEnvsJSON reads one <user>-<project>.envs.json file (spec.md §6's
// filesystem layout) and returns its variables with uppercased names. This
// runtime is not the owner of the encryption keys the control plane uses to
// produce that file (original_source/lib/common/src/crypt.rs's
// encode_map/decode pair is keyed by a per-tuple secret minted and stored
// elsewhere) — decrypting it is out of this component's scope, so the file
// is read as the plain JSON object {name: value} the control plane is
// expected to have already decrypted for this worker process. A missing
// file means "no env vars for this artifact", not an error.
func loadEnvsJSON(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Load("read env file "+path, err)
	}

	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.ParseFailed("env file "+path, err)
	}

	env := make(map[string]string, len(raw))
	for k, v := range raw {
		env[strings.ToUpper(k)] = v
	}
	return env, nil
}
