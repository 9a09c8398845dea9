package render

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/you/jobcore/internal/domain"
)

type ARPlatform string

const (
	ARPlatformIOS     ARPlatform = "ios"
	ARPlatformAndroid ARPlatform = "android"
)

// ARRenderer packages the configured model for AR viewers: USDZ for iOS
// Quick Look, GLB for Android Scene Viewer.
type ARRenderer struct {
	Platform ARPlatform
}

func (r ARRenderer) Kind() domain.ExportKind {
	if r.Platform == ARPlatformAndroid {
		return domain.ExportARAndroid
	}
	return domain.ExportARIOS
}

func (r ARRenderer) Render(_ context.Context, _ *domain.ExportRecord, snap *domain.SubjectSnapshot) (*Artifact, error) {
	if r.Platform == ARPlatformAndroid {
		body, err := buildGLB(snap)
		if err != nil {
			return nil, err
		}
		return &Artifact{Bytes: body, MIME: "model/gltf-binary", Ext: ".glb"}, nil
	}
	body, err := buildUSDZ(snap)
	if err != nil {
		return nil, err
	}
	return &Artifact{Bytes: body, MIME: "model/vnd.usdz+zip", Ext: ".usdz"}, nil
}

// buildUSDZ wraps a USDA stage in an uncompressed zip container, as the
// usdz format requires. The archive timestamp is pinned so retries yield
// identical bytes.
func buildUSDZ(snap *domain.SubjectSnapshot) ([]byte, error) {
	var stage bytes.Buffer
	stage.WriteString("#usda 1.0\n(\n    defaultPrim = \"Configuration\"\n)\n\n")
	fmt.Fprintf(&stage, "def Xform \"Configuration\" (\n    doc = %q\n)\n{\n", snap.Name)
	for _, o := range snap.Selected {
		fmt.Fprintf(&stage, "    custom string selections:%s = %q\n", o.ComponentID, o.OptionID)
	}
	fmt.Fprintf(&stage, "    custom double totalPrice = %.2f\n}\n", snap.TotalPrice())

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	hdr := &zip.FileHeader{
		Name:     "configuration.usda",
		Method:   zip.Store,
		Modified: time.Unix(0, 0).UTC(),
	}
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return nil, errors.Wrap(err, "usdz entry")
	}
	if _, err := w.Write(stage.Bytes()); err != nil {
		return nil, errors.Wrap(err, "usdz write")
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, "usdz close")
	}
	return buf.Bytes(), nil
}

// buildGLB produces a binary glTF container holding the same document the
// MODEL_3D renderer emits as JSON.
func buildGLB(snap *domain.SubjectSnapshot) ([]byte, error) {
	body, err := json.Marshal(gltfDocument(snap))
	if err != nil {
		return nil, errors.Wrap(err, "encode gltf")
	}
	// JSON chunk must be padded to a 4-byte boundary with spaces.
	for len(body)%4 != 0 {
		body = append(body, ' ')
	}

	var buf bytes.Buffer
	total := uint32(12 + 8 + len(body))
	buf.WriteString("glTF")
	binary.Write(&buf, binary.LittleEndian, uint32(2))
	binary.Write(&buf, binary.LittleEndian, total)
	binary.Write(&buf, binary.LittleEndian, uint32(len(body)))
	buf.WriteString("JSON")
	buf.Write(body)
	return buf.Bytes(), nil
}
