// Package export renders dataset snapshots into interchange formats.
// Builders are pure: rows in, bytes out, no IO.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pixelbase/pixelbase-backend/internal/quality"
	"github.com/pixelbase/pixelbase-backend/internal/types"
)

const (
	FormatCOCO  = "coco"
	FormatYOLO  = "yolo"
	FormatCSV   = "csv"
	FormatJSONL = "jsonl"
)

func ValidFormat(format string) bool {
	switch strings.ToLower(format) {
	case FormatCOCO, FormatYOLO, FormatCSV, FormatJSONL:
		return true
	default:
		return false
	}
}

// Label is one declared class of a dataset label schema.
type Label struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// Schema is the dataset's declared label list, in declaration order.
// COCO category ids and YOLO class indexes follow that order.
type Schema struct {
	Labels []Label `json:"labels"`
}

// ParseSchema decodes a stored label schema. Missing or malformed
// schemas decode to an empty schema; annotations then map to class 0.
func ParseSchema(raw []byte) Schema {
	var schema Schema
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &schema)
	}
	return schema
}

// key is how annotations reference the label.
func (l Label) key() string {
	if l.ID != "" {
		return l.ID
	}
	return l.Name
}

func (l Label) displayName() string {
	if l.Name != "" {
		return l.Name
	}
	return capitalize(l.ID)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// classIndex maps label keys to 0-based declaration order.
func (s Schema) classIndex() map[string]int {
	idx := make(map[string]int, len(s.Labels))
	for i, label := range s.Labels {
		idx[label.key()] = i
	}
	return idx
}

// Annotation is one label on an item, with geometry already parsed.
type Annotation struct {
	Type       types.AnnotationType
	Label      string
	Confidence float64
	BBox       *quality.BBox
	Polygon    *quality.Polygon
	Geometry   json.RawMessage
}

// Item is one media item of the snapshot with its annotations.
type Item struct {
	MediaID     string
	Filename    string
	Split       string
	Annotations []Annotation
}

// Build renders items in the requested format.
func Build(format, datasetName, versionTag string, schema Schema, items []Item) ([]byte, error) {
	switch strings.ToLower(format) {
	case FormatCOCO:
		return BuildCOCO(datasetName, versionTag, schema, items)
	case FormatYOLO:
		return BuildYOLO(schema, items)
	case FormatCSV:
		return BuildCSV(items)
	case FormatJSONL:
		return BuildJSONL(items)
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}

type cocoImage struct {
	ID       int    `json:"id"`
	FileName string `json:"file_name"`
}

type cocoAnnotation struct {
	ID           int         `json:"id"`
	ImageID      int         `json:"image_id"`
	CategoryID   int         `json:"category_id"`
	BBox         []float64   `json:"bbox,omitempty"`
	Area         float64     `json:"area,omitempty"`
	Segmentation [][]float64 `json:"segmentation,omitempty"`
}

type cocoCategory struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	Supercategory string `json:"supercategory"`
}

type cocoFile struct {
	Info        map[string]any   `json:"info"`
	Images      []cocoImage      `json:"images"`
	Annotations []cocoAnnotation `json:"annotations"`
	Categories  []cocoCategory   `json:"categories"`
}

// BuildCOCO renders a COCO detection file. Category ids are 1-based in
// schema declaration order; labels not in the schema map to 0.
func BuildCOCO(datasetName, versionTag string, schema Schema, items []Item) ([]byte, error) {
	catID := make(map[string]int, len(schema.Labels))
	cats := make([]cocoCategory, len(schema.Labels))
	for i, label := range schema.Labels {
		catID[label.key()] = i + 1
		cats[i] = cocoCategory{ID: i + 1, Name: label.displayName(), Supercategory: ""}
	}

	out := cocoFile{
		Info: map[string]any{
			"description": datasetName,
			"version":     versionTag,
		},
		Images:      []cocoImage{},
		Annotations: []cocoAnnotation{},
		Categories:  cats,
	}

	annID := 1
	for i, item := range items {
		imageID := i + 1
		out.Images = append(out.Images, cocoImage{ID: imageID, FileName: item.MediaID})
		for _, ann := range item.Annotations {
			coco := cocoAnnotation{
				ID:         annID,
				ImageID:    imageID,
				CategoryID: catID[ann.Label],
			}
			if ann.BBox != nil {
				coco.BBox = []float64{ann.BBox.X, ann.BBox.Y, ann.BBox.W, ann.BBox.H}
				coco.Area = ann.BBox.W * ann.BBox.H
			}
			if ann.Polygon != nil {
				flat := make([]float64, 0, len(ann.Polygon.Points)*2)
				for _, p := range ann.Polygon.Points {
					flat = append(flat, p.X, p.Y)
				}
				coco.Segmentation = [][]float64{flat}
			}
			out.Annotations = append(out.Annotations, coco)
			annID++
		}
	}
	return json.MarshalIndent(out, "", "  ")
}

// BuildYOLO emits one line per box: the media id, the class index in
// schema declaration order, and the raw box coordinates.
func BuildYOLO(schema Schema, items []Item) ([]byte, error) {
	classIdx := schema.classIndex()
	var lines []string
	for _, item := range items {
		for _, ann := range item.Annotations {
			if ann.BBox == nil {
				continue
			}
			lines = append(lines, fmt.Sprintf("%s: %d %g %g %g %g",
				item.MediaID, classIdx[ann.Label], ann.BBox.X, ann.BBox.Y, ann.BBox.W, ann.BBox.H))
		}
	}
	return []byte(strings.Join(lines, "\n")), nil
}

// yoloManifest is the data.yaml file YOLO trainers expect next to the
// labels: class count plus index-to-name mapping.
type yoloManifest struct {
	Train string         `yaml:"train"`
	Val   string         `yaml:"val"`
	Test  string         `yaml:"test,omitempty"`
	NC    int            `yaml:"nc"`
	Names map[int]string `yaml:"names"`
}

// BuildYOLOManifest renders the data.yaml companion for a YOLO export.
// Class indexes match BuildYOLO's ordering.
func BuildYOLOManifest(schema Schema, items []Item) ([]byte, error) {
	names := make(map[int]string, len(schema.Labels))
	for i, label := range schema.Labels {
		names[i] = label.displayName()
	}
	manifest := yoloManifest{
		Train: "images/train",
		Val:   "images/val",
		NC:    len(schema.Labels),
		Names: names,
	}
	for _, item := range items {
		if item.Split == "test" {
			manifest.Test = "images/test"
			break
		}
	}
	return yaml.Marshal(manifest)
}

func BuildCSV(items []Item) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"media_id", "split", "annotation_type", "label", "confidence", "geometry"}); err != nil {
		return nil, err
	}
	for _, item := range items {
		for _, ann := range item.Annotations {
			geometry := string(ann.Geometry)
			if geometry == "" {
				geometry = "{}"
			}
			record := []string{
				item.MediaID,
				item.Split,
				string(ann.Type),
				ann.Label,
				strconv.FormatFloat(ann.Confidence, 'f', -1, 64),
				geometry,
			}
			if err := w.Write(record); err != nil {
				return nil, err
			}
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

type jsonlAnnotation struct {
	Type       types.AnnotationType `json:"annotation_type"`
	Label      string               `json:"label"`
	Confidence float64              `json:"confidence"`
	Geometry   json.RawMessage      `json:"geometry,omitempty"`
}

type jsonlItem struct {
	MediaID     string            `json:"media_id"`
	Filename    string            `json:"filename"`
	Split       string            `json:"split"`
	Annotations []jsonlAnnotation `json:"annotations"`
}

// BuildJSONL emits one JSON object per item.
func BuildJSONL(items []Item) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, item := range items {
		row := jsonlItem{
			MediaID:     item.MediaID,
			Filename:    item.Filename,
			Split:       item.Split,
			Annotations: make([]jsonlAnnotation, 0, len(item.Annotations)),
		}
		for _, ann := range item.Annotations {
			row.Annotations = append(row.Annotations, jsonlAnnotation{
				Type:       ann.Type,
				Label:      ann.Label,
				Confidence: ann.Confidence,
				Geometry:   ann.Geometry,
			})
		}
		if err := enc.Encode(row); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// FromRecords assembles builder items from database rows. Annotation
// geometry is decoded according to its type; undecodable geometry keeps
// the raw JSON so CSV and JSONL never lose data.
func FromRecords(items []types.DatasetItem, mediaByID map[string]types.Media, annotationsByItem map[string][]types.Annotation) []Item {
	out := make([]Item, 0, len(items))
	for _, item := range items {
		media, ok := mediaByID[item.MediaID.String()]
		if !ok {
			continue
		}
		row := Item{
			MediaID:  media.ID.String(),
			Filename: media.OriginalFilename,
			Split:    item.Split,
		}
		for _, ann := range annotationsByItem[item.ID.String()] {
			row.Annotations = append(row.Annotations, fromRecord(ann))
		}
		out = append(out, row)
	}
	return out
}

func fromRecord(ann types.Annotation) Annotation {
	out := Annotation{
		Type:       ann.AnnotationType,
		Label:      ann.Label,
		Confidence: ann.Confidence,
		Geometry:   json.RawMessage(ann.Geometry),
	}
	switch ann.AnnotationType {
	case types.AnnBBox:
		var box quality.BBox
		if err := json.Unmarshal(ann.Geometry, &box); err == nil {
			out.BBox = &box
		}
	case types.AnnPolygon, types.AnnPolyline:
		var poly quality.Polygon
		if err := json.Unmarshal(ann.Geometry, &poly); err == nil && len(poly.Points) > 0 {
			out.Polygon = &poly
		}
	}
	return out
}
