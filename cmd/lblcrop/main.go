// Crops the labelled objects of PASCAL VOC or YOLO annotated images into individual image files.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/sensorable/lblcrop"
	log "github.com/sirupsen/logrus"
)

// options holds the parsed command line.
type options struct {
	cfg      lblcrop.Config
	yolo     *multiValue // Image dir, label dir, names file.
	resize   *multiValue // Width, height.
	labels   listValue
	usage    func()
	flagSet  *flag.FlagSet
	lastFlag *multiValue
}

func newOptions(defaults lblcrop.Config, output io.Writer) *options {
	o := &options{cfg: defaults}
	o.yolo = &multiValue{name: "y", want: 3, last: &o.lastFlag}
	o.resize = &multiValue{name: "r", want: 2, last: &o.lastFlag}

	fs := flag.NewFlagSet("lblcrop", flag.ContinueOnError)
	fs.SetOutput(output)
	o.flagSet = fs

	cfg := &o.cfg
	stringVar := func(p *string, names []string, usage string) {
		for _, n := range names {
			fs.StringVar(p, n, *p, usage)
		}
	}
	boolVar := func(p *bool, names []string, usage string) {
		for _, n := range names {
			fs.BoolVar(p, n, *p, usage)
		}
	}

	// Input arguments.
	stringVar(&cfg.PascalDir, []string{"p", "pascal"},
		"The `dir` with PASCAL VOC XML annotations (searched recursively)")
	for _, n := range []string{"y", "yolo"} {
		fs.Var(o.yolo, n, "The YOLO `image-dir label-dir names-file`")
	}
	stringVar(&cfg.ImageDir, []string{"i", "image-dir"},
		"The base `dir` for PASCAL image file names (defaults to the PASCAL dir)")

	// Filter arguments.
	for _, n := range []string{"m", "max-ar"} {
		fs.Float64Var(&cfg.MaxAspectRatio, n, cfg.MaxAspectRatio,
			"The max. aspect `ratio` (longer/shorter side) of boxes to crop (zero disables)")
	}
	for _, n := range []string{"L", "l", "select-labels"} {
		fs.Var(&o.labels, n, "Comma-separated `labels` to crop (empty keeps all)")
	}

	// Output arguments.
	stringVar(&cfg.OutputDir, []string{"o", "output-dir"}, "The output `dir` for crops")
	for _, n := range []string{"r", "resize"} {
		fs.Var(o.resize, n, "Resize crops to exactly `width height`")
	}
	fs.IntVar(&cfg.JPEGQuality, "jpeg-quality", cfg.JPEGQuality,
		"The quality for JPEG crops [1, 100]")
	fs.BoolVar(&cfg.LabelDirs, "label-dirs", cfg.LabelDirs,
		"Write crops to one sub directory per label")
	stringVar(&cfg.BBoxInfoPath, []string{"b", "bb-info"},
		"Write the width, height, aspect ratio and label of each crop as CSV to `file`")
	fs.StringVar(&cfg.TFRecordPath, "tfrecord", cfg.TFRecordPath,
		"Also write the crops as TFRecord to `file`")
	fs.StringVar(&cfg.TFRecordLabelMapPath, "tfrecord-label-map", cfg.TFRecordLabelMapPath,
		"The TFRecord label map `file` (defaults to the TFRecord path with suffix .pbtxt)")
	fs.IntVar(&cfg.NumShards, "num-shards", cfg.NumShards,
		"The number of TFRecord shard files")

	// Execution arguments.
	fs.IntVar(&cfg.Workers, "j", cfg.Workers, "The number of worker goroutines (zero for #CPUs)")
	boolVar(&cfg.Verbose, []string{"v", "verbose"}, "Log debug messages (disables the progress bar)")
	fs.BoolVar(&cfg.NoProgressBar, "npb", cfg.NoProgressBar, "Do not show a progress bar")
	boolVar(&cfg.Summary, []string{"s", "summary"}, "Print a summary of the loaded annotations")

	o.usage = func() {
		_, _ = fmt.Fprintf(output, "Usage of %s:\n", filepath.Base(os.Args[0]))
		_, _ = fmt.Fprintln(output, "  pascal input:\t-p <dir> [-i <image dir>] -o <dir>")
		_, _ = fmt.Fprintln(output, "  yolo input:\t\t-y <image dir> <label dir> <names file> -o <dir>")
		_, _ = fmt.Fprintln(output)
		fs.PrintDefaults()
	}
	fs.Usage = o.usage

	return o
}

// parse parses args and returns the unvalidated config.
func (o *options) parse(args []string) (lblcrop.Config, error) {
	rest, err := parseArgs(o.flagSet, args, &o.lastFlag)
	if err != nil {
		return o.cfg, err
	}
	if len(rest) > 0 {
		return o.cfg, errors.Errorf("unexpected argument %q", rest[0])
	}

	cfg := o.cfg
	if !o.yolo.complete() {
		return cfg, errors.New("-y takes 3 values")
	}
	if len(o.yolo.values) == 3 {
		cfg.YOLOImageDir = o.yolo.values[0]
		cfg.YOLOLabelDir = o.yolo.values[1]
		cfg.YOLONamesFile = o.yolo.values[2]
	}

	if !o.resize.complete() {
		return cfg, errors.New("-r takes 2 values")
	}
	if len(o.resize.values) == 2 {
		size, err := o.resize.ints()
		if err != nil {
			return cfg, err
		}
		cfg.ResizeWidth, cfg.ResizeHeight = size[0], size[1]
	}

	cfg.Labels = o.labels
	return cfg, nil
}

func init() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
}

func main() {
	start := time.Now()

	// Optional defaults from a .env file and the environment.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warnf("Failed to load .env: %v", err)
	}

	opts := newOptions(lblcrop.DefaultsFromEnv(), os.Stderr)
	cfg, err := opts.parse(os.Args[1:])
	if err == flag.ErrHelp {
		os.Exit(0)
	} else if err != nil {
		log.Error(err)
		os.Exit(2)
	}
	if cfg, err = cfg.Validate(); err != nil {
		log.Error(err)
		opts.usage()
		os.Exit(2)
	}

	if cfg.Verbose {
		log.SetLevel(log.DebugLevel)
	}
	log.Debugf("Configuration: %+v", cfg)

	if err := lblcrop.Prepare(cfg); err != nil {
		log.Fatal(err)
	}

	// Read and filter the annotations.
	reader, err := lblcrop.NewReader(cfg)
	if err != nil {
		log.Fatal("Failed to read the annotations: ", err)
	}
	records := lblcrop.LoadRecords(reader)
	if cfg.Summary {
		lblcrop.Summarize(records).Print(os.Stdout)
	}
	jobs := lblcrop.BuildJobs(records, lblcrop.NewFilter(cfg.MaxAspectRatio, cfg.Labels))

	// Crop.
	var progress lblcrop.Progress
	var bar *progressbar.ProgressBar
	if cfg.ShowProgress() && len(jobs) > 0 {
		bar = progressbar.Default(int64(len(jobs)), "cropping")
		progress = bar
	}
	report, err := lblcrop.Run(cfg, jobs, progress)
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		log.Fatal("Failed to write the reports: ", err)
	}

	fmt.Println()
	fmt.Printf("Completed a total of %d crops\n", len(report.Rows))
	report.PrintLabels(os.Stdout)
	report.PrintFailures(os.Stdout)

	if elapsed := time.Since(start); elapsed > time.Second {
		fmt.Printf("(Done in %s)\n", elapsed.Round(time.Millisecond))
	}
}
