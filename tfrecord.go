package lblcrop

// TFRecord export of the crops, for training image classifiers.

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/golang/protobuf/proto"
	"github.com/pkg/errors"
	"github.com/ryszard/tfutils/go/example"
	"github.com/ryszard/tfutils/go/tfrecord"
	tensorflow "github.com/ryszard/tfutils/proto/tensorflow/core/example"
	log "github.com/sirupsen/logrus"
)

// TFFeatureMap maps feature names to their values. Values must be convertible to
// tensorflow.Feature.
type TFFeatureMap map[string]interface{}

// tfRecordLabelMap assigns ids to the labels of the report, starting at 1 in label order.
func tfRecordLabelMap(report *Report) map[string]int64 {
	labels := make([]string, 0, len(report.Labels))
	for l := range report.Labels {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	labelMap := make(map[string]int64, len(labels))
	for i, l := range labels {
		labelMap[l] = int64(i + 1)
	}
	return labelMap
}

// toTFFeatures builds the features for a single crop.
func toTFFeatures(row ReportRow, labelID int64) (TFFeatureMap, error) {
	imgData, err := os.ReadFile(row.OutputPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read the crop")
	}

	format := strings.ToLower(strings.TrimPrefix(filepath.Ext(row.OutputPath), "."))
	if format == "jpg" {
		format = "jpeg"
	}

	f := make(TFFeatureMap, 8)
	f["image/height"] = row.CropHeight
	f["image/width"] = row.CropWidth
	f["image/filename"] = filepath.Base(row.OutputPath)
	f["image/source_id"] = row.ImagePath
	f["image/encoded"] = imgData
	f["image/format"] = format
	f["image/object/class/text"] = []string{row.Label}
	f["image/object/class/label"] = []int64{labelID}
	return f, nil
}

// WriteTFRecord writes one tensorflow.Example per successful crop in report, in report row
// order, to one or more TFRecord files stored under recordFilePath (with suffixes added when
// numShards>1). The label map is written to labelMapPath.
func WriteTFRecord(recordFilePath, labelMapPath string, report *Report, numShards int) (err error) {
	defer func() {
		if e := recover(); e != nil {
			err = errors.Errorf("conversion to TensorFlow Example failed: %v", e)
		}
	}()

	if numShards <= 0 {
		numShards = 1
	}
	labelMap := tfRecordLabelMap(report)

	fmtShardSuffix := func(idx int) string {
		return fmt.Sprintf("-%05d-of-%05d", idx, numShards)
	}

	var shardFile *os.File
	shardSize := int(math.Ceil(float64(len(report.Rows)) / float64(numShards)))
	shardIdx := -1
	written := 0

	// Convert and serialise one crop at a time.
	for i, row := range report.Rows {
		// Check if a new shard file needs to be opened for writing.
		if i%shardSize == 0 {
			shardIdx++

			if shardFile != nil {
				if err := shardFile.Close(); err != nil {
					return errors.Wrap(err, "failed to close shard")
				}
				shardFile = nil
			}

			shardPath := recordFilePath
			if numShards > 1 {
				shardPath += fmtShardSuffix(shardIdx)
			}
			f, err := os.Create(shardPath)
			if err != nil {
				return errors.Wrapf(err, "failed to create shard at %q", shardPath)
			}
			shardFile = f
		}

		features, err := toTFFeatures(row, labelMap[row.Label])
		if err != nil {
			log.WithField("file", row.OutputPath).Warnf("Failed to convert: %v", err)
			continue
		}
		if err := writeTFRecordExample(shardFile, example.New(features)); err != nil {
			shardFile.Close()
			return errors.Wrap(err, "failed to write example")
		}
		written++
	}

	if shardFile != nil {
		if err := shardFile.Close(); err != nil {
			return errors.Wrap(err, "failed to close shard")
		}
	}
	log.Printf("Wrote %d examples to %s", written, recordFilePath)

	return saveTFRecordLabelMap(labelMapPath, labelMap)
}

// writeTFRecordExample serialises the example and writes it as a TFRecord to w.
func writeTFRecordExample(w io.Writer, e *tensorflow.Example) error {
	enc, err := proto.Marshal(e)
	if err != nil {
		return err
	}

	return tfrecord.Write(w, enc)
}

// saveTFRecordLabelMap writes labelMap in the prototxt format of the object detection API's
// StringIntLabelMap, ordered by id.
func saveTFRecordLabelMap(path string, labelMap map[string]int64) (err error) {
	type item struct {
		name string
		id   int64
	}
	items := make([]item, 0, len(labelMap))
	for k, v := range labelMap {
		items = append(items, item{k, v})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].id < items[j].id })

	file, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create the label map file %q", path)
	}
	defer closeWithErrCheck(file, &err)

	for _, it := range items {
		_, err := fmt.Fprintf(file, "item {\n  name: %s\n  id: %d\n}\n", strconv.Quote(it.name), it.id)
		if err != nil {
			return errors.Wrapf(err, "failed to write the label map %q", path)
		}
	}
	return nil
}
