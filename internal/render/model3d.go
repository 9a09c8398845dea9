package render

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/you/jobcore/internal/domain"
)

// Model3DRenderer emits a glTF 2.0 document describing the configured
// model. Geometry generation is a collaborator concern; the core carries
// the configuration state in the scene extras.
type Model3DRenderer struct{}

func (Model3DRenderer) Kind() domain.ExportKind { return domain.ExportModel3D }

type gltfAsset struct {
	Version   string `json:"version"`
	Generator string `json:"generator"`
}

type gltfScene struct {
	Name   string         `json:"name"`
	Extras map[string]any `json:"extras,omitempty"`
}

type gltfDoc struct {
	Asset  gltfAsset   `json:"asset"`
	Scene  int         `json:"scene"`
	Scenes []gltfScene `json:"scenes"`
}

func gltfDocument(snap *domain.SubjectSnapshot) gltfDoc {
	selections := make(map[string]any, len(snap.Selected))
	for _, o := range snap.Selected {
		selections[o.ComponentID] = o.OptionID
	}
	return gltfDoc{
		Asset: gltfAsset{Version: "2.0", Generator: "jobcore"},
		Scene: 0,
		Scenes: []gltfScene{{
			Name: snap.Name,
			Extras: map[string]any{
				"subjectId":  snap.ID,
				"selections": selections,
				"totalPrice": snap.TotalPrice(),
				"currency":   snap.Currency,
			},
		}},
	}
}

func (Model3DRenderer) Render(_ context.Context, _ *domain.ExportRecord, snap *domain.SubjectSnapshot) (*Artifact, error) {
	body, err := json.Marshal(gltfDocument(snap))
	if err != nil {
		return nil, errors.Wrap(err, "encode gltf")
	}
	return &Artifact{Bytes: body, MIME: "model/gltf+json", Ext: ".gltf"}, nil
}
