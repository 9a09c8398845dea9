package render

import (
	"context"

	"github.com/you/jobcore/internal/domain"
)

// Artifact is the binary output of a render plus what the uploader needs
// to store it.
type Artifact struct {
	Bytes []byte
	MIME  string
	Ext   string
}

// Renderer turns an export record and a subject snapshot into artifact
// bytes. Implementations must be deterministic for the same inputs so a
// retried attempt overwrites the previous artifact instead of forking it.
type Renderer interface {
	Kind() domain.ExportKind
	Render(ctx context.Context, rec *domain.ExportRecord, snap *domain.SubjectSnapshot) (*Artifact, error)
}

// Table builds the kind -> renderer lookup used by the export worker.
func Table(renderers ...Renderer) map[domain.ExportKind]Renderer {
	m := make(map[domain.ExportKind]Renderer, len(renderers))
	for _, r := range renderers {
		m[r.Kind()] = r
	}
	return m
}

// Default registers one renderer per export kind.
func Default() map[domain.ExportKind]Renderer {
	return Table(
		DocumentRenderer{},
		ImageRenderer{},
		Model3DRenderer{},
		ARRenderer{Platform: ARPlatformIOS},
		ARRenderer{Platform: ARPlatformAndroid},
	)
}

func intOption(opts map[string]any, key string, def int) int {
	if v, ok := opts[key]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		}
	}
	return def
}
