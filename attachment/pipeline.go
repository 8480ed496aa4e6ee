package attachment

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"chatkit/core"
)

// FileReader is the host capability that reads a file's content. ReadBase64
// returns the binary payload base64-encoded; ReadText reads the same file as
// UTF-8 text for best-effort content extraction.
type FileReader interface {
	ReadBase64(ctx context.Context, f SourceFile) (string, error)
	ReadText(ctx context.Context, f SourceFile) (string, error)
}

var (
	ErrFileTooLarge  = errors.New("attachment: file exceeds the size limit")
	ErrForbiddenType = errors.New("attachment: file type is not allowed")
)

// RejectionError reports a per-file validation or read failure, carrying the
// file name for user-facing messages.
type RejectionError struct {
	Name string
	Err  error
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Name, e.Err)
}

func (e *RejectionError) Unwrap() error {
	return e.Err
}

// Config configures the ingestion pipeline.
type Config struct {
	// MaxFileSize is the inclusive size ceiling in bytes. Files strictly
	// larger are rejected.
	MaxFileSize int64
	// DeniedExtensions lists lowercase file extensions (with dot) that are
	// rejected regardless of size.
	DeniedExtensions []string
}

// DefaultConfig returns a Config with the standard 25 MB ceiling and the
// executable denylist.
func DefaultConfig() Config {
	return Config{
		MaxFileSize: 25 << 20,
		DeniedExtensions: []string{
			".exe", ".bat", ".cmd", ".com", ".msi", ".scr",
			".ps1", ".sh", ".dll", ".jar", ".apk", ".app",
		},
	}
}

// Pipeline validates and encodes user-selected files into transmittable
// payloads. Encoding is fully concurrent across files.
type Pipeline struct {
	reader    FileReader
	config    Config
	logger    *core.Logger
	onPreview func(attachmentID, dataURL string)
}

// NewPipeline creates a Pipeline. Use DefaultConfig() and override only what
// you need.
func NewPipeline(reader FileReader, config Config, logger *core.Logger) *Pipeline {
	if logger == nil {
		logger = core.GetLogger()
	}
	if config.MaxFileSize <= 0 {
		config.MaxFileSize = DefaultConfig().MaxFileSize
	}
	return &Pipeline{
		reader: reader,
		config: config,
		logger: logger.With(map[string]interface{}{"component": "attachment"}),
	}
}

// WithPreviewFunc registers a callback invoked with a data URL as soon as an
// image attachment's preview is available, independent of encoding.
// Returns the pipeline to allow chaining.
func (p *Pipeline) WithPreviewFunc(fn func(attachmentID, dataURL string)) *Pipeline {
	p.onPreview = fn
	return p
}

// Ingest validates and classifies the given files. Accepted files are
// returned as AttachedFiles; each rejected file contributes a RejectionError.
// A rejected file never aborts the rest of the batch.
func (p *Pipeline) Ingest(ctx context.Context, files []SourceFile) ([]AttachedFile, []error) {
	var accepted []AttachedFile
	var rejections []error

	for _, f := range files {
		if err := p.validate(f); err != nil {
			p.logger.With(map[string]interface{}{"file": f.Name, "error": err}).Warn("file rejected")
			rejections = append(rejections, &RejectionError{Name: f.Name, Err: err})
			continue
		}
		att := AttachedFile{
			ID:     uuid.New().String(),
			Source: f,
			Kind:   ClassifyMIME(f.MIMEType),
		}
		accepted = append(accepted, att)
		if att.Kind == KindImage && p.onPreview != nil {
			go p.loadPreview(ctx, att)
		}
	}
	return accepted, rejections
}

func (p *Pipeline) validate(f SourceFile) error {
	if f.Size > p.config.MaxFileSize {
		return fmt.Errorf("%w (%d bytes, limit %d)", ErrFileTooLarge, f.Size, p.config.MaxFileSize)
	}
	ext := strings.ToLower(filepath.Ext(f.Name))
	for _, denied := range p.config.DeniedExtensions {
		if ext == denied {
			return fmt.Errorf("%w (%s)", ErrForbiddenType, ext)
		}
	}
	return nil
}

func (p *Pipeline) loadPreview(ctx context.Context, att AttachedFile) {
	b64, err := p.reader.ReadBase64(ctx, att.Source)
	if err != nil {
		// Preview is cosmetic; encoding will surface a real read failure.
		p.logger.With(map[string]interface{}{"file": att.Source.Name, "error": err}).Debug("preview read failed")
		return
	}
	p.onPreview(att.ID, dataURL(att.Source.MIMEType, b64))
}

// Encode reads every attached file concurrently and produces one
// EncodedAttachment per input, in input order. A binary read failure for any
// file fails the whole encode with a RejectionError naming that file. The
// parallel text extraction for documents and text/* files is best-effort:
// its failure only leaves ExtractedText empty.
func (p *Pipeline) Encode(ctx context.Context, files []AttachedFile) ([]EncodedAttachment, error) {
	results := make([]EncodedAttachment, len(files))

	g, gctx := errgroup.WithContext(ctx)
	for i := range files {
		i, f := i, files[i]
		g.Go(func() error {
			enc := EncodedAttachment{
				Name:     f.Source.Name,
				MIMEType: f.Source.MIMEType,
				Size:     f.Source.Size,
				Status:   StatusPending,
			}

			var text string
			var textErr error
			textDone := make(chan struct{})
			if wantsTextExtraction(f) {
				go func() {
					text, textErr = p.reader.ReadText(gctx, f.Source)
					close(textDone)
				}()
			} else {
				close(textDone)
			}

			b64, err := p.reader.ReadBase64(gctx, f.Source)
			<-textDone

			if err != nil {
				enc.Status = StatusError
				enc.ProcessingError = err.Error()
				results[i] = enc
				return &RejectionError{Name: f.Source.Name, Err: fmt.Errorf("attachment: read failed: %w", err)}
			}
			if textErr != nil {
				p.logger.With(map[string]interface{}{"file": f.Source.Name, "error": textErr}).Debug("text extraction failed")
				text = ""
			}

			enc.Base64Data = b64
			enc.ExtractedText = text
			enc.Status = StatusDone
			results[i] = enc
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func wantsTextExtraction(f AttachedFile) bool {
	return f.Kind == KindDocument || strings.HasPrefix(f.Source.MIMEType, "text/")
}

func dataURL(mimeType, b64 string) string {
	return "data:" + mimeType + ";base64," + b64
}
