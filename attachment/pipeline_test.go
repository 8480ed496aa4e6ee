package attachment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	mu        sync.Mutex
	base64By  map[string]string
	textBy    map[string]string
	base64Err map[string]error
	textErr   map[string]error
	reads     []string
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		base64By:  make(map[string]string),
		textBy:    make(map[string]string),
		base64Err: make(map[string]error),
		textErr:   make(map[string]error),
	}
}

func (r *fakeReader) ReadBase64(_ context.Context, f SourceFile) (string, error) {
	r.mu.Lock()
	r.reads = append(r.reads, "b64:"+f.Name)
	r.mu.Unlock()
	if err := r.base64Err[f.Name]; err != nil {
		return "", err
	}
	return r.base64By[f.Name], nil
}

func (r *fakeReader) ReadText(_ context.Context, f SourceFile) (string, error) {
	r.mu.Lock()
	r.reads = append(r.reads, "text:"+f.Name)
	r.mu.Unlock()
	if err := r.textErr[f.Name]; err != nil {
		return "", err
	}
	return r.textBy[f.Name], nil
}

func TestIngestSizeBoundary(t *testing.T) {
	p := NewPipeline(newFakeReader(), DefaultConfig(), nil)

	atLimit := SourceFile{Name: "exact.pdf", MIMEType: "application/pdf", Size: 25 << 20}
	overLimit := SourceFile{Name: "big.pdf", MIMEType: "application/pdf", Size: 25<<20 + 1}

	accepted, rejections := p.Ingest(context.Background(), []SourceFile{atLimit, overLimit})

	require.Len(t, accepted, 1)
	assert.Equal(t, "exact.pdf", accepted[0].Source.Name)
	require.Len(t, rejections, 1)
	assert.ErrorIs(t, rejections[0], ErrFileTooLarge)

	var rej *RejectionError
	require.ErrorAs(t, rejections[0], &rej)
	assert.Equal(t, "big.pdf", rej.Name)
}

func TestIngestDeniesExecutables(t *testing.T) {
	p := NewPipeline(newFakeReader(), DefaultConfig(), nil)

	accepted, rejections := p.Ingest(context.Background(), []SourceFile{
		{Name: "setup.EXE", MIMEType: "application/octet-stream", Size: 10},
		{Name: "script.sh", MIMEType: "text/plain", Size: 10},
		{Name: "notes.txt", MIMEType: "text/plain", Size: 10},
	})

	require.Len(t, accepted, 1)
	assert.Equal(t, "notes.txt", accepted[0].Source.Name)
	require.Len(t, rejections, 2)
	for _, err := range rejections {
		assert.ErrorIs(t, err, ErrForbiddenType)
	}
}

func TestIngestRejectionDoesNotAbortBatch(t *testing.T) {
	p := NewPipeline(newFakeReader(), DefaultConfig(), nil)

	accepted, rejections := p.Ingest(context.Background(), []SourceFile{
		{Name: "a.png", MIMEType: "image/png", Size: 1},
		{Name: "huge.bin", MIMEType: "application/octet-stream", Size: 30 << 20},
		{Name: "b.pdf", MIMEType: "application/pdf", Size: 1},
	})

	assert.Len(t, accepted, 2)
	assert.Len(t, rejections, 1)
}

func TestClassifyMIME(t *testing.T) {
	tests := []struct {
		mime string
		want Kind
	}{
		{"image/png", KindImage},
		{"image/webp", KindImage},
		{"application/pdf", KindDocument},
		{"text/plain", KindDocument},
		{"application/zip", KindOther},
		{"audio/mpeg", KindOther},
		{"", KindOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyMIME(tt.mime), "mime %q", tt.mime)
	}
}

func TestEncodeConcurrent(t *testing.T) {
	reader := newFakeReader()
	reader.base64By["a.pdf"] = "YWFh"
	reader.textBy["a.pdf"] = "aaa"
	reader.base64By["b.png"] = "YmJi"
	reader.base64By["c.csv"] = "Y2Nj"
	reader.textBy["c.csv"] = "c,c,c"

	p := NewPipeline(reader, DefaultConfig(), nil)
	files, rejections := p.Ingest(context.Background(), []SourceFile{
		{Name: "a.pdf", MIMEType: "application/pdf", Size: 3},
		{Name: "b.png", MIMEType: "image/png", Size: 3},
		{Name: "c.csv", MIMEType: "text/csv", Size: 5},
	})
	require.Empty(t, rejections)

	encoded, err := p.Encode(context.Background(), files)
	require.NoError(t, err)
	require.Len(t, encoded, 3)

	// Results keep input order regardless of goroutine completion order.
	assert.Equal(t, "a.pdf", encoded[0].Name)
	assert.Equal(t, "YWFh", encoded[0].Base64Data)
	assert.Equal(t, "aaa", encoded[0].ExtractedText)
	assert.Equal(t, StatusDone, encoded[0].Status)

	// Images get no text extraction.
	assert.Equal(t, "YmJi", encoded[1].Base64Data)
	assert.Empty(t, encoded[1].ExtractedText)

	assert.Equal(t, "c,c,c", encoded[2].ExtractedText)
}

func TestEncodeTextExtractionFailureIsNonFatal(t *testing.T) {
	reader := newFakeReader()
	reader.base64By["doc.pdf"] = "ZGF0YQ=="
	reader.textErr["doc.pdf"] = errors.New("binary content")

	p := NewPipeline(reader, DefaultConfig(), nil)
	files, _ := p.Ingest(context.Background(), []SourceFile{
		{Name: "doc.pdf", MIMEType: "application/pdf", Size: 4},
	})

	encoded, err := p.Encode(context.Background(), files)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, encoded[0].Status)
	assert.Equal(t, "ZGF0YQ==", encoded[0].Base64Data)
	assert.Empty(t, encoded[0].ExtractedText)
}

func TestEncodeBinaryReadFailureNamesFile(t *testing.T) {
	reader := newFakeReader()
	reader.base64By["ok.txt"] = "b2s="
	reader.textBy["ok.txt"] = "ok"
	reader.base64Err["broken.txt"] = errors.New("io error")

	p := NewPipeline(reader, DefaultConfig(), nil)
	files, _ := p.Ingest(context.Background(), []SourceFile{
		{Name: "ok.txt", MIMEType: "text/plain", Size: 2},
		{Name: "broken.txt", MIMEType: "text/plain", Size: 2},
	})

	_, err := p.Encode(context.Background(), files)
	require.Error(t, err)

	var rej *RejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, "broken.txt", rej.Name)
}

func TestImagePreviewCallback(t *testing.T) {
	reader := newFakeReader()
	reader.base64By["pic.png"] = "aW1n"

	previews := make(chan string, 1)
	p := NewPipeline(reader, DefaultConfig(), nil).
		WithPreviewFunc(func(_, dataURL string) { previews <- dataURL })

	files, _ := p.Ingest(context.Background(), []SourceFile{
		{Name: "pic.png", MIMEType: "image/png", Size: 3},
	})
	require.Len(t, files, 1)

	select {
	case url := <-previews:
		assert.Equal(t, "data:image/png;base64,aW1n", url)
	case <-time.After(2 * time.Second):
		t.Fatal("preview callback never fired")
	}
}
