package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dunamismax/fitroom/internal/domain"
	"github.com/dunamismax/fitroom/internal/stylist"
	"github.com/dunamismax/fitroom/internal/tryon"
)

type cannedModel struct {
	text string
}

func (m cannedModel) Generate(context.Context, string, ...stylist.InlineImage) (string, error) {
	return m.text, nil
}

func newSynth(text string) *tryon.Synthesizer {
	if text == "" {
		return tryon.New(nil, nil)
	}
	return tryon.New(stylist.New(cannedModel{text: text}), nil)
}

func TestLocalProcessor_FileInCompositeFileOut(t *testing.T) {
	tmp := t.TempDir()
	personPath := filepath.Join(tmp, "person.png")
	dressPath := filepath.Join(tmp, "dress.png")
	outputDir := filepath.Join(tmp, "out")

	if err := os.WriteFile(personPath, buildTestPNG(t, 400, 600), 0o644); err != nil {
		t.Fatalf("write person image: %v", err)
	}
	if err := os.WriteFile(dressPath, buildTestPNG(t, 300, 450), 0o644); err != nil {
		t.Fatalf("write dress image: %v", err)
	}

	processor := NewProcessor(
		LocalFileFetcher{},
		newSynth("A slim figure in a vibrant short dress."),
		LocalFileEmitter{OutputDir: outputDir, Now: func() time.Time { return time.Unix(1700000000, 0) }},
	)

	result, err := processor.Process(context.Background(), Request{
		JobID:      "job-local-1",
		SourceType: SourceTypeLocalFile,
		PersonKey:  personPath,
		DressKey:   dressPath,
		Options:    domain.TryOnOptions{Quality: domain.QualityFast},
	})
	if err != nil {
		t.Fatalf("process request: %v", err)
	}

	wantPath := filepath.Join(outputDir, "job-local-1", "try_on_result_1700000000.png")
	if result.Path != wantPath {
		t.Fatalf("expected output path %s, got %s", wantPath, result.Path)
	}
	if result.Fallback {
		t.Fatal("expected composite, got fallback")
	}
	if result.Parameters.BodyType != "slim" || result.Parameters.DressStyle != "short" {
		t.Fatalf("unexpected parameters: %+v", result.Parameters)
	}
	verifyImageSize(t, result.Path, 512, 768)
}

func TestLocalProcessor_FallbackWithoutModel(t *testing.T) {
	tmp := t.TempDir()
	personPath := filepath.Join(tmp, "person.png")
	dressPath := filepath.Join(tmp, "dress.png")
	if err := os.WriteFile(personPath, buildTestPNG(t, 400, 600), 0o644); err != nil {
		t.Fatalf("write person image: %v", err)
	}
	if err := os.WriteFile(dressPath, buildTestPNG(t, 300, 450), 0o644); err != nil {
		t.Fatalf("write dress image: %v", err)
	}

	processor := NewLocalProcessor(filepath.Join(tmp, "out"), newSynth(""))
	result, err := processor.Process(context.Background(), Request{
		JobID:      "job-local-2",
		SourceType: SourceTypeLocalFile,
		PersonKey:  personPath,
		DressKey:   dressPath,
	})
	if err != nil {
		t.Fatalf("process request: %v", err)
	}
	if !result.Fallback {
		t.Fatal("expected fallback composite")
	}
	verifyImageSize(t, result.Path, 512+300+40, 768+100)
}

func TestLocalProcessor_UnsupportedSourceType(t *testing.T) {
	processor := NewLocalProcessor(t.TempDir(), newSynth(""))

	_, err := processor.Process(context.Background(), Request{
		JobID:      "job-unsupported",
		SourceType: SourceTypeObjectStore,
		PersonKey:  "uploads/job/person_image",
		DressKey:   "uploads/job/dress_image",
	})
	if !errors.Is(err, ErrUnsupportedSourceType) {
		t.Fatalf("expected unsupported source_type error, got %v", err)
	}
}

func TestProcessBytes_InvalidImage(t *testing.T) {
	processor := NewLocalProcessor(t.TempDir(), newSynth(""))

	_, err := processor.ProcessBytes(context.Background(), Request{JobID: "job"}, buildTestPNG(t, 10, 10), []byte("not an image"))
	var invalid *InvalidImageError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidImageError, got %v", err)
	}
	if invalid.Field != "dress_image" || !strings.HasPrefix(invalid.Reason, "Invalid image file") {
		t.Fatalf("unexpected error: %+v", invalid)
	}

	_, err = processor.ProcessBytes(context.Background(), Request{JobID: "job"}, nil, buildTestPNG(t, 10, 10))
	if !errors.As(err, &invalid) || invalid.Reason != "No image file provided" {
		t.Fatalf("expected missing person image error, got %v", err)
	}
}

func TestObjectStoreProcessor_ReadsUploadsWritesResult(t *testing.T) {
	store := newMemoryObjects()
	store.objects[UploadKey("job_42", "person_image")] = buildTestPNG(t, 300, 500)
	store.objects[UploadKey("job_42", "dress_image")] = buildTestPNG(t, 200, 300)

	processor := NewObjectStoreProcessor(store, "", newSynth("A long gown."))
	result, err := processor.Process(context.Background(), Request{
		JobID:      "job_42",
		SourceType: SourceTypeObjectStore,
		PersonKey:  UploadKey("job_42", "person_image"),
		DressKey:   UploadKey("job_42", "dress_image"),
	})
	if err != nil {
		t.Fatalf("process request: %v", err)
	}

	if result.Path != "results/job_42/result.png" {
		t.Fatalf("unexpected result key %s", result.Path)
	}
	if !bytes.Equal(store.objects[result.Path], result.Data) {
		t.Fatal("stored result does not match returned data")
	}
	if store.contentTypes[result.Path] != "image/png" {
		t.Fatalf("unexpected content type %s", store.contentTypes[result.Path])
	}
}

func TestResultKey(t *testing.T) {
	if got := ResultKey("", "res_1"); got != "results/res_1/result.png" {
		t.Fatalf("unexpected key %s", got)
	}
	if got := ResultKey("out", "../x"); got != "out/___x/result.png" {
		t.Fatalf("unexpected sanitized key %s", got)
	}
}

type memoryObjects struct {
	mu           sync.Mutex
	objects      map[string][]byte
	contentTypes map[string]string
}

func newMemoryObjects() *memoryObjects {
	return &memoryObjects{objects: map[string][]byte{}, contentTypes: map[string]string{}}
}

func (m *memoryObjects) ReadObject(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, errors.New("not found: " + key)
	}
	return data, nil
}

func (m *memoryObjects) WriteObject(_ context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	m.contentTypes[key] = contentType
	return nil
}

func buildTestPNG(t testing.TB, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: 140,
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode source png: %v", err)
	}
	return buf.Bytes()
}

func verifyImageSize(t *testing.T, path string, wantW, wantH int) {
	t.Helper()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open image %s: %v", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		t.Fatalf("decode image %s: %v", path, err)
	}

	if got := img.Bounds().Size(); got != image.Pt(wantW, wantH) {
		t.Fatalf("expected %dx%d, got %v", wantW, wantH, got)
	}
}
