package credential

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// LoadManifest reads a rotation manifest from a YAML file. The file has a
// top-level "credentials" key listing key files in rotation order:
//
//	credentials:
//	  - file: keys/svc-a.json
//	  - file: keys/svc-b.json
//	    quota: 50
//
// Relative key paths resolve against the manifest's directory.
func LoadManifest(path string) ([]Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "credential: read manifest %s", path)
	}

	var wrapper struct {
		Credentials []Source `yaml:"credentials"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "credential: parse manifest")
	}
	if len(wrapper.Credentials) == 0 {
		return nil, eris.Errorf("credential: manifest %s lists no credentials", path)
	}

	base := filepath.Dir(path)
	for i, src := range wrapper.Credentials {
		if src.File == "" {
			return nil, eris.Errorf("credential: manifest entry %d has no file", i)
		}
		if !filepath.IsAbs(src.File) {
			wrapper.Credentials[i].File = filepath.Join(base, src.File)
		}
	}
	return wrapper.Credentials, nil
}
