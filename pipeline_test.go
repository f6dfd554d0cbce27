package lblcrop

import (
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceReader []AnnotationRecord

func (r sliceReader) Records() iter.Seq[AnnotationRecord] {
	return slices.Values(r)
}

func TestLoadRecordsClamps(t *testing.T) {
	dir := t.TempDir()
	imgPath := filepath.Join(dir, "reef.png")
	writeTestImage(t, imgPath, 100, 80)

	reader := sliceReader{
		{Source: "b.xml", ImagePath: imgPath, Boxes: []BoundingBox{
			{Label: "fish", XMin: -5, YMin: 10, XMax: 40, YMax: 90},
			{Label: "ray", XMin: 100, YMin: 0, XMax: 120, YMax: 20},
		}},
		{Source: "a.xml", ImagePath: filepath.Join(dir, "missing.png"), Boxes: []BoundingBox{
			{Label: "fish", XMax: 10, YMax: 10},
		}},
		{Source: "a.txt", ImagePath: "not probed", Width: 50, Height: 50, Boxes: []BoundingBox{
			{Label: "coral", XMin: 10, YMin: 10, XMax: 60, YMax: 20},
		}},
	}

	records := LoadRecords(reader)
	require.Len(t, records, 2, "the record without an image is dropped")

	assert.Equal(t, "a.txt", records[0].Source)
	assert.Equal(t, []BoundingBox{{Label: "coral", XMin: 10, YMin: 10, XMax: 50, YMax: 20}},
		records[0].Boxes)

	assert.Equal(t, "b.xml", records[1].Source)
	assert.Equal(t, 100, records[1].Width)
	assert.Equal(t, 80, records[1].Height)
	assert.Equal(t, []BoundingBox{{Label: "fish", XMin: 0, YMin: 10, XMax: 40, YMax: 80}},
		records[1].Boxes, "clipped, and the box outside dropped")
}

func TestBuildJobs(t *testing.T) {
	records := []AnnotationRecord{
		{Source: "1.xml", ImagePath: "z.jpg", Width: 100, Height: 100, Boxes: []BoundingBox{
			{Label: "fish", XMax: 50, YMax: 25},
			{Label: "coral", XMax: 10, YMax: 10},
		}},
		{Source: "2.xml", ImagePath: "a.jpg", Width: 100, Height: 100, Boxes: []BoundingBox{
			{Label: "coral", XMax: 10, YMax: 10},
		}},
		{Source: "3.xml", ImagePath: "z.jpg", Width: 100, Height: 100, Boxes: []BoundingBox{
			{Label: "fish", XMax: 20, YMax: 20},
		}},
		{Source: "4.xml", ImagePath: "empty.jpg", Width: 100, Height: 100},
	}

	jobs := BuildJobs(records, NewFilter(0, []string{"fish"}))
	require.Len(t, jobs, 1)
	job := jobs[0]
	assert.Equal(t, "z.jpg", job.ImagePath)
	assert.Equal(t, 100, job.Width)
	require.Len(t, job.Boxes, 2, "boxes of records sharing an image are coalesced")
	assert.Equal(t, 0, job.Boxes[0].Index)
	assert.Equal(t, 2, job.Boxes[1].Index, "indices continue across records")

	jobs = BuildJobs(records, Filter{})
	require.Len(t, jobs, 2)
	assert.Equal(t, "a.jpg", jobs[0].ImagePath)
	assert.Equal(t, "z.jpg", jobs[1].ImagePath)
	assert.Len(t, jobs[1].Boxes, 3)

	assert.Empty(t, BuildJobs(nil, Filter{}))
}

func TestPrepare(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		OutputDir:    filepath.Join(dir, "out", "crops"),
		BBoxInfoPath: filepath.Join(dir, "reports", "info.csv"),
		TFRecordPath: filepath.Join(dir, "records", "train.record"),
	}
	require.NoError(t, Prepare(cfg))
	assert.DirExists(t, cfg.OutputDir)
	assert.DirExists(t, filepath.Join(dir, "reports"))
	assert.DirExists(t, filepath.Join(dir, "records"))

	blocker := filepath.Join(dir, "file")
	writeTestFile(t, blocker, "")
	assert.Error(t, Prepare(Config{OutputDir: filepath.Join(blocker, "out")}))

	entries, err := os.ReadDir(cfg.OutputDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "the writability check leaves nothing behind")
}

func TestPrepareReadOnlyOutputDir(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permissions are not enforced for root")
	}

	readOnly := filepath.Join(t.TempDir(), "ro")
	require.NoError(t, os.Mkdir(readOnly, 0555))
	t.Cleanup(func() { _ = os.Chmod(readOnly, 0755) })

	err := Prepare(Config{OutputDir: readOnly})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not writable")
}

func TestNewReaderErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := NewReader(Config{})
	assert.ErrorIs(t, err, ErrNoSource)

	_, err = NewReader(Config{YOLOImageDir: dir, YOLOLabelDir: dir,
		YOLONamesFile: filepath.Join(dir, "missing.names")})
	assert.Error(t, err, "an unreadable names file is fatal")

	_, err = NewReader(Config{PascalDir: filepath.Join(dir, "missing")})
	assert.Error(t, err)
}

// TestRunPascal runs the pipeline end to end on a small PASCAL data set.
func TestRunPascal(t *testing.T) {
	dir := t.TempDir()
	vocDir := filepath.Join(dir, "voc")
	outDir := filepath.Join(dir, "out")

	for i := range 3 {
		name := fmt.Sprintf("reef_%d", i)
		writeTestImage(t, filepath.Join(vocDir, "JPEGImages", name+".jpg"), 120, 90)
		writeTestFile(t, filepath.Join(vocDir, "Annotations", name+".xml"), fmt.Sprintf(
			`<annotation><filename>JPEGImages/%s.jpg</filename>
	<object><name>fish</name><bndbox><xmin>0</xmin><ymin>0</ymin><xmax>50</xmax><ymax>25</ymax></bndbox></object>
	<object><name>coral</name><bndbox><xmin>60</xmin><ymin>30</ymin><xmax>100</xmax><ymax>100</ymax></bndbox></object>
	<object><name>eel</name><bndbox><xmin>0</xmin><ymin>40</ymin><xmax>100</xmax><ymax>50</ymax></bndbox></object>
</annotation>`, name))
	}

	cfg, err := Config{
		PascalDir:      vocDir,
		OutputDir:      outDir,
		MaxAspectRatio: 2,
		BBoxInfoPath:   filepath.Join(dir, "info.csv"),
		TFRecordPath:   filepath.Join(dir, "crops.record"),
		Workers:        2,
	}.Validate()
	require.NoError(t, err)
	require.NoError(t, Prepare(cfg))

	reader, err := NewReader(cfg)
	require.NoError(t, err)
	records := LoadRecords(reader)
	require.Len(t, records, 3)

	jobs := BuildJobs(records, NewFilter(cfg.MaxAspectRatio, cfg.Labels))
	require.Len(t, jobs, 3)

	report, err := Run(cfg, jobs, nil)
	require.NoError(t, err)
	assert.Equal(t, LabelSummary{"fish": 3, "coral": 3}, report.Labels)
	assert.Empty(t, report.Failures)

	assert.FileExists(t, filepath.Join(outDir, "JPEGImages", "reef_0_fish_0.jpg"))
	assert.FileExists(t, filepath.Join(outDir, "JPEGImages", "reef_2_coral_1.jpg"))
	w, h, _ := imageSize(t, filepath.Join(outDir, "JPEGImages", "reef_1_coral_1.jpg"))
	assert.Equal(t, [2]int{40, 60}, [2]int{w, h}, "clipped to the image")

	csv, err := os.ReadFile(cfg.BBoxInfoPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(csv)), "\n")
	assert.Len(t, lines, 1+len(report.Rows))
	assert.Equal(t, "50,25,2,fish", lines[1])

	assert.FileExists(t, cfg.TFRecordPath)
	assert.FileExists(t, cfg.TFRecordLabelMapPath)
}

func TestRunSameImageNameInSubdirs(t *testing.T) {
	dir := t.TempDir()
	vocDir := filepath.Join(dir, "voc")

	for i, sub := range []string{"a", "b"} {
		writeTestImage(t, filepath.Join(vocDir, sub, "x.png"), 40+10*i, 30)
		writeTestFile(t, filepath.Join(vocDir, sub+".xml"), fmt.Sprintf(
			`<annotation><filename>%s/x.png</filename>
	<object><name>fish</name><bndbox><xmin>0</xmin><ymin>0</ymin><xmax>%d</xmax><ymax>10</ymax></bndbox></object>
</annotation>`, sub, 10+10*i))
	}

	run := func(workers int) (*Report, map[string][]byte) {
		outDir := filepath.Join(dir, fmt.Sprintf("out-%d", workers))
		cfg, err := Config{PascalDir: vocDir, OutputDir: outDir, Workers: workers}.Validate()
		require.NoError(t, err)
		require.NoError(t, Prepare(cfg))

		reader, err := NewReader(cfg)
		require.NoError(t, err)
		jobs := BuildJobs(LoadRecords(reader), Filter{})
		require.Len(t, jobs, 2)

		report, err := Run(cfg, jobs, nil)
		require.NoError(t, err)
		return report, dirContents(t, outDir)
	}

	report1, files1 := run(1)
	report8, files8 := run(8)

	require.Len(t, report1.Rows, 2)
	assert.NotEqual(t, report1.Rows[0].OutputPath, report1.Rows[1].OutputPath)
	assert.Len(t, files1, 2, "one file per CSV row")
	assert.Contains(t, files1, filepath.Join("a", "x_fish_0.png"))
	assert.Contains(t, files1, filepath.Join("b", "x_fish_0.png"))
	assert.Equal(t, files1, files8)
	assert.Equal(t, len(report1.Rows), len(report8.Rows))

	w, _, _ := imageSize(t, filepath.Join(dir, "out-1", "b", "x_fish_0.png"))
	assert.Equal(t, 20, w)
}
