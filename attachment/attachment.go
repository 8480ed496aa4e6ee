package attachment

// Kind classifies an attached file for downstream handling.
type Kind string

const (
	KindImage    Kind = "image"
	KindDocument Kind = "document"
	KindOther    Kind = "other"
)

// Status tracks the encoding lifecycle of an attachment.
type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// SourceFile describes a user-selected file. Ref is an opaque handle that the
// FileReader capability understands (a path, an object URL, a picker token).
type SourceFile struct {
	Name     string
	MIMEType string
	Size     int64
	Ref      string
}

// AttachedFile is a validated, classified file waiting to be encoded.
// Preview is a data URL set asynchronously for images so the UI can render a
// thumbnail before send.
type AttachedFile struct {
	ID      string
	Source  SourceFile
	Kind    Kind
	Preview string
}

// EncodedAttachment is the transmittable payload derived from an AttachedFile.
// Read-only once produced.
type EncodedAttachment struct {
	Name            string
	MIMEType        string
	Base64Data      string
	ExtractedText   string
	Size            int64
	Status          Status
	ProcessingError string
}

// Fixed membership lists for MIME classification. Unmatched types default to
// KindOther.
var imageMIMETypes = map[string]struct{}{
	"image/png":     {},
	"image/jpeg":    {},
	"image/gif":     {},
	"image/webp":    {},
	"image/svg+xml": {},
	"image/bmp":     {},
}

var documentMIMETypes = map[string]struct{}{
	"application/pdf":    {},
	"application/msword": {},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {},
	"application/rtf":  {},
	"application/json": {},
	"text/plain":       {},
	"text/markdown":    {},
	"text/csv":         {},
	"text/html":        {},
}

// ClassifyMIME maps a MIME type to an attachment Kind.
func ClassifyMIME(mimeType string) Kind {
	if _, ok := imageMIMETypes[mimeType]; ok {
		return KindImage
	}
	if _, ok := documentMIMETypes[mimeType]; ok {
		return KindDocument
	}
	return KindOther
}
