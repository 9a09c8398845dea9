package domain

import "time"

// ExportKind selects the render strategy for an export.
type ExportKind string

const (
	ExportDocument  ExportKind = "DOCUMENT"
	ExportARIOS     ExportKind = "AUGMENTED_REALITY_IOS"
	ExportARAndroid ExportKind = "AUGMENTED_REALITY_ANDROID"
	ExportModel3D   ExportKind = "MODEL_3D"
	ExportImage     ExportKind = "IMAGE"
)

// ValidExportKind reports whether k is one of the known kinds.
func ValidExportKind(k ExportKind) bool {
	switch k {
	case ExportDocument, ExportARIOS, ExportARAndroid, ExportModel3D, ExportImage:
		return true
	}
	return false
}

// ExportStatus is the lifecycle state of an export record.
// PENDING -> PROCESSING -> {COMPLETED | FAILED}; the last two are terminal.
type ExportStatus string

const (
	ExportPending    ExportStatus = "PENDING"
	ExportProcessing ExportStatus = "PROCESSING"
	ExportCompleted  ExportStatus = "COMPLETED"
	ExportFailed     ExportStatus = "FAILED"
)

// ExportRecord is the durable record of one export request. The API layer
// creates it PENDING before enqueueing; only the export worker mutates it
// afterwards. Progress is monotonically non-decreasing while PROCESSING.
type ExportRecord struct {
	ID                string
	SubjectID         string
	RequesterID       string
	Kind              ExportKind
	Format            string
	Status            ExportStatus
	Progress          int
	Options           map[string]any
	ArtifactURL       string
	ArtifactName      string
	ArtifactSizeBytes int64
	ErrorMessage      string
	CreatedAt         time.Time
	CompletedAt       *time.Time
}

// SubjectSnapshot is the slice of a configuration the renderers need: the
// selected options resolved against the catalog and the computed price.
type SubjectSnapshot struct {
	ID        string
	Name      string
	Currency  string
	BasePrice float64
	Selected  []SelectedOption
}

type SelectedOption struct {
	ComponentID string
	OptionID    string
	Label       string
	PriceDelta  float64
}

// TotalPrice is the base price plus every selected option's delta.
func (s *SubjectSnapshot) TotalPrice() float64 {
	total := s.BasePrice
	for _, o := range s.Selected {
		total += o.PriceDelta
	}
	return total
}
