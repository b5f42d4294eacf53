package credential

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/oauth2/google"
)

// ScopeIndexing is the OAuth scope the Indexing API requires.
const ScopeIndexing = "https://www.googleapis.com/auth/indexing"

// Source names one service-account key file and an optional quota override.
// Order in the slice is rotation order.
type Source struct {
	File  string `yaml:"file"`
	Quota int    `yaml:"quota,omitempty"`
}

// Load reads every key file, builds JWT token sources for the indexing
// scope, and returns a pool in source order. Any unreadable or malformed
// key fails the whole load; a run must never start with a partial pool.
func Load(ctx context.Context, sources []Source, defaultQuota int) (*Pool, error) {
	if len(sources) == 0 {
		return nil, eris.New("credential: no key files configured")
	}
	creds := make([]*Credential, 0, len(sources))
	for _, src := range sources {
		c, err := loadKey(ctx, src, defaultQuota)
		if err != nil {
			return nil, err
		}
		creds = append(creds, c)
	}
	return NewPool(creds)
}

func loadKey(ctx context.Context, src Source, defaultQuota int) (*Credential, error) {
	data, err := os.ReadFile(src.File)
	if err != nil {
		return nil, eris.Wrapf(err, "credential: read key %s", src.File)
	}
	jwtCfg, err := google.JWTConfigFromJSON(data, ScopeIndexing)
	if err != nil {
		return nil, eris.Wrapf(err, "credential: parse key %s", src.File)
	}
	id := jwtCfg.Email
	if id == "" {
		id = strings.TrimSuffix(filepath.Base(src.File), filepath.Ext(src.File))
	}
	quota := src.Quota
	if quota <= 0 {
		quota = defaultQuota
	}
	return NewCredential(id, src.File, quota, jwtCfg.TokenSource(ctx)), nil
}
