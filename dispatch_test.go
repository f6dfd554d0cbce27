package lblcrop

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingProgress struct {
	n int
}

func (p *countingProgress) Add(num int) error {
	p.n += num
	return nil
}

// testJobs writes numImages images with three boxes each, the last of which lies outside.
func testJobs(t *testing.T, dir string, numImages int) []RetainedJob {
	t.Helper()
	jobs := make([]RetainedJob, numImages)
	for i := range jobs {
		ext := ".png"
		if i%2 == 1 {
			ext = ".jpg"
		}
		path := filepath.Join(dir, fmt.Sprintf("img%02d%s", i, ext))
		writeTestImage(t, path, 64, 48)

		jobs[i] = RetainedJob{
			ImagePath: path,
			Width:     64,
			Height:    48,
			Boxes: []RetainedBox{
				{Box: mustBox(t, "fish", i, 0, i+20, 10), Index: 0, AspectRatio: 2},
				{Box: mustBox(t, "coral", 0, i, 16, i+16), Index: 2, AspectRatio: 1},
				{Box: mustBox(t, "ray", 70, 0, 80, 10), Index: 3, AspectRatio: 1},
			},
		}
	}
	return jobs
}

// dirContents maps the names of the files in dir to their contents.
func dirContents(t *testing.T, dir string) map[string][]byte {
	t.Helper()
	files, err := FilesByExt(dir, "")
	require.NoError(t, err)

	contents := make(map[string][]byte, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f)
		require.NoError(t, err)
		rel, err := filepath.Rel(dir, f)
		require.NoError(t, err)
		contents[rel] = data
	}
	return contents
}

func TestDispatcherRun(t *testing.T) {
	dir := t.TempDir()
	jobs := testJobs(t, dir, 7)
	outDir := filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(outDir, 0755))

	cfg := Config{OutputDir: outDir, Workers: 3, JPEGQuality: 90}
	progress := &countingProgress{}
	d := NewDispatcher(cfg, NewCropper(cfg), progress)
	report := d.Run(jobs)

	assert.Equal(t, 7, report.Jobs)
	assert.Equal(t, 7, d.Completed())
	assert.Equal(t, 7, progress.n)

	require.Len(t, report.Rows, 14)
	require.Len(t, report.Failures, 7)
	assert.Equal(t, LabelSummary{"fish": 7, "coral": 7}, report.Labels)

	// Canonical order, regardless of completion order.
	for i, row := range report.Rows {
		assert.Equal(t, jobs[i/2].ImagePath, row.ImagePath)
		assert.Equal(t, []int{0, 2}[i%2], row.Index)
		assert.FileExists(t, row.OutputPath)
	}
	for i, o := range report.Failures {
		assert.Equal(t, jobs[i].ImagePath, o.ImagePath)
		assert.Equal(t, "ray", o.Box.Label)
		assert.ErrorIs(t, o.Err, ErrEmptyBox)
	}
}

func TestDispatcherWorkerCountIndependence(t *testing.T) {
	dir := t.TempDir()
	jobs := testJobs(t, filepath.Join(dir, "in"), 12)

	run := func(workers int) (*Report, map[string][]byte, []byte) {
		outDir := filepath.Join(dir, fmt.Sprintf("out-%d", workers))
		require.NoError(t, os.MkdirAll(outDir, 0755))
		cfg := Config{OutputDir: outDir, Workers: workers, JPEGQuality: 90, ResizeWidth: 20,
			ResizeHeight: 20}

		report := NewDispatcher(cfg, NewCropper(cfg), nil).Run(jobs)
		var csv bytes.Buffer
		require.NoError(t, report.WriteCSV(&csv))
		return report, dirContents(t, outDir), csv.Bytes()
	}

	report1, files1, csv1 := run(1)
	report8, files8, csv8 := run(8)

	assert.Len(t, files1, 24)
	assert.Equal(t, files1, files8, "same names and pixel content")
	assert.Equal(t, csv1, csv8)
	assert.Equal(t, report1.Labels, report8.Labels)
	assert.Equal(t, len(report1.Failures), len(report8.Failures))
}

func TestDispatcherCompletedPerRun(t *testing.T) {
	dir := t.TempDir()
	jobs := testJobs(t, dir, 3)
	cfg := Config{OutputDir: filepath.Join(dir, "out"), Workers: 2, JPEGQuality: 90}
	require.NoError(t, os.MkdirAll(cfg.OutputDir, 0755))

	d := NewDispatcher(cfg, NewCropper(cfg), nil)
	d.Run(jobs)
	assert.Equal(t, 3, d.Completed())

	report := d.Run(jobs[:2])
	assert.Equal(t, 2, report.Jobs)
	assert.Equal(t, 2, d.Completed(), "counts only the last run")
}

func TestDispatcherNoJobs(t *testing.T) {
	cfg := Config{OutputDir: t.TempDir(), Workers: 4}
	report := NewDispatcher(cfg, NewCropper(cfg), nil).Run(nil)
	assert.Equal(t, 0, report.Jobs)
	assert.Empty(t, report.Rows)
	assert.Empty(t, report.Failures)
	assert.Equal(t, 0, report.Labels.Total())
}

func TestDispatcherRecoversPanics(t *testing.T) {
	imgPath := filepath.Join(t.TempDir(), "a.png")
	writeTestImage(t, imgPath, 10, 10)

	// A nil cropper panics once the image is decoded.
	d := &Dispatcher{workers: 2}
	jobs := []RetainedJob{{
		ImagePath: imgPath,
		Boxes: []RetainedBox{
			{Box: BoundingBox{Label: "fish", XMax: 1, YMax: 1}, Index: 0},
			{Box: BoundingBox{Label: "ray", XMax: 1, YMax: 1}, Index: 1},
		},
	}}

	report := d.Run(jobs)
	assert.Empty(t, report.Rows)
	require.Len(t, report.Failures, 2)
	for _, o := range report.Failures {
		assert.Error(t, o.Err)
		assert.Contains(t, o.Err.Error(), "panicked")
	}
	assert.Equal(t, 1, d.Completed())
}
