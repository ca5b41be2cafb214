package export

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/pixelbase/pixelbase-backend/internal/quality"
	"github.com/pixelbase/pixelbase-backend/internal/types"
)

func petSchema() Schema {
	return Schema{Labels: []Label{
		{ID: "cat", Name: "Cat"},
		{ID: "dog", Name: "Dog"},
	}}
}

func detectionItems() []Item {
	return []Item{
		{
			MediaID:  "media-1",
			Filename: "cat.jpg",
			Split:    "train",
			Annotations: []Annotation{
				{
					Type:       types.AnnBBox,
					Label:      "cat",
					Confidence: 0.9,
					BBox:       &quality.BBox{X: 10, Y: 20, W: 100, H: 50},
					Geometry:   json.RawMessage(`{"x":10,"y":20,"width":100,"height":50}`),
				},
			},
		},
		{
			MediaID:  "media-2",
			Filename: "dog.jpg",
			Split:    "val",
			Annotations: []Annotation{
				{
					Type:       types.AnnBBox,
					Label:      "dog",
					Confidence: 1,
					BBox:       &quality.BBox{X: 0, Y: 0, W: 320, H: 240},
					Geometry:   json.RawMessage(`{"x":0,"y":0,"width":320,"height":240}`),
				},
			},
		},
	}
}

func TestParseSchema(t *testing.T) {
	schema := ParseSchema([]byte(`{"labels":[{"id":"person","name":"Person","color":"#FF6B6B"},{"id":"car"}]}`))
	require.Len(t, schema.Labels, 2)
	assert.Equal(t, "person", schema.Labels[0].ID)
	assert.Equal(t, "Person", schema.Labels[0].displayName())
	// Name falls back to the capitalized id.
	assert.Equal(t, "Car", schema.Labels[1].displayName())

	assert.Empty(t, ParseSchema(nil).Labels)
	assert.Empty(t, ParseSchema([]byte("not json")).Labels)
}

func TestBuildCOCO(t *testing.T) {
	raw, err := BuildCOCO("demo", "v1", petSchema(), detectionItems())
	require.NoError(t, err)

	var out cocoFile
	require.NoError(t, json.Unmarshal(raw, &out))

	assert.Equal(t, "demo", out.Info["description"])
	assert.Equal(t, "v1", out.Info["version"])

	// Category ids are 1-based in schema declaration order.
	require.Len(t, out.Categories, 2)
	assert.Equal(t, cocoCategory{ID: 1, Name: "Cat", Supercategory: ""}, out.Categories[0])
	assert.Equal(t, cocoCategory{ID: 2, Name: "Dog", Supercategory: ""}, out.Categories[1])

	require.Len(t, out.Images, 2)
	assert.Equal(t, 1, out.Images[0].ID)
	assert.Equal(t, "media-1", out.Images[0].FileName)

	require.Len(t, out.Annotations, 2)
	first := out.Annotations[0]
	assert.Equal(t, []float64{10, 20, 100, 50}, first.BBox)
	assert.Equal(t, 5000.0, first.Area)
	assert.Equal(t, 1, first.CategoryID)
	assert.Equal(t, 2, out.Annotations[1].CategoryID)
}

func TestBuildCOCOFromDeclaredSchema(t *testing.T) {
	schema := ParseSchema([]byte(`{"labels":[{"id":"person"},{"id":"car"}]}`))
	items := []Item{
		{
			MediaID: "m1", Split: "train",
			Annotations: []Annotation{
				{Type: types.AnnBBox, Label: "person", BBox: &quality.BBox{X: 10, Y: 20, W: 100, H: 200}},
				{Type: types.AnnBBox, Label: "car", BBox: &quality.BBox{X: 300, Y: 100, W: 200, H: 150}},
			},
		},
		{
			MediaID: "m2", Split: "train",
			Annotations: []Annotation{
				{Type: types.AnnPolygon, Label: "person", Polygon: &quality.Polygon{Points: []quality.Point{
					{X: 10, Y: 10}, {X: 50, Y: 10}, {X: 50, Y: 50}, {X: 10, Y: 50},
				}}},
			},
		},
	}

	raw, err := BuildCOCO("demo", "v1", schema, items)
	require.NoError(t, err)

	var out cocoFile
	require.NoError(t, json.Unmarshal(raw, &out))

	require.Len(t, out.Images, 2)
	assert.Equal(t, []int{1, 2}, []int{out.Images[0].ID, out.Images[1].ID})
	require.Len(t, out.Categories, 2)
	assert.Equal(t, cocoCategory{ID: 1, Name: "Person", Supercategory: ""}, out.Categories[0])
	assert.Equal(t, cocoCategory{ID: 2, Name: "Car", Supercategory: ""}, out.Categories[1])

	require.Len(t, out.Annotations, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{out.Annotations[0].ID, out.Annotations[1].ID, out.Annotations[2].ID})
	assert.Equal(t, []float64{10, 20, 100, 200}, out.Annotations[0].BBox)
	assert.Equal(t, 20000.0, out.Annotations[0].Area)
	assert.Equal(t, [][]float64{{10, 10, 50, 10, 50, 50, 10, 50}}, out.Annotations[2].Segmentation)
}

func TestBuildCOCOUnknownLabelMapsToZero(t *testing.T) {
	items := []Item{{
		MediaID: "m", Split: "train",
		Annotations: []Annotation{{
			Type: types.AnnBBox, Label: "bicycle", BBox: &quality.BBox{X: 1, Y: 1, W: 2, H: 2},
		}},
	}}
	raw, err := BuildCOCO("demo", "v1", petSchema(), items)
	require.NoError(t, err)

	var out cocoFile
	require.NoError(t, json.Unmarshal(raw, &out))
	require.Len(t, out.Annotations, 1)
	assert.Equal(t, 0, out.Annotations[0].CategoryID)
}

func TestBuildYOLO(t *testing.T) {
	raw, err := BuildYOLO(petSchema(), detectionItems())
	require.NoError(t, err)

	lines := strings.Split(string(raw), "\n")
	require.Len(t, lines, 2)
	// Raw box coordinates; cat is class 0, dog class 1.
	assert.Equal(t, "media-1: 0 10 20 100 50", lines[0])
	assert.Equal(t, "media-2: 1 0 0 320 240", lines[1])
}

func TestBuildYOLOManifest(t *testing.T) {
	raw, err := BuildYOLOManifest(petSchema(), detectionItems())
	require.NoError(t, err)

	var manifest struct {
		Train string         `yaml:"train"`
		Val   string         `yaml:"val"`
		Test  string         `yaml:"test"`
		NC    int            `yaml:"nc"`
		Names map[int]string `yaml:"names"`
	}
	require.NoError(t, yaml.Unmarshal(raw, &manifest))
	assert.Equal(t, "images/train", manifest.Train)
	assert.Equal(t, "images/val", manifest.Val)
	assert.Empty(t, manifest.Test)
	assert.Equal(t, 2, manifest.NC)
	assert.Equal(t, "Cat", manifest.Names[0])
	assert.Equal(t, "Dog", manifest.Names[1])
}

func TestBuildYOLOSkipsBoxlessAnnotations(t *testing.T) {
	items := []Item{{
		MediaID: "m", Filename: "f.jpg", Split: "train",
		Annotations: []Annotation{{Type: types.AnnClassification, Label: "cat"}},
	}}
	raw, err := BuildYOLO(petSchema(), items)
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(string(raw)))
}

func TestBuildCSV(t *testing.T) {
	raw, err := BuildCSV(detectionItems())
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "media_id,split,annotation_type,label,confidence,geometry", lines[0])
	assert.Contains(t, lines[1], "media-1,train,bbox,cat,0.9,")
}

func TestBuildJSONL(t *testing.T) {
	raw, err := BuildJSONL(detectionItems())
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 2)

	var row jsonlItem
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &row))
	assert.Equal(t, "media-1", row.MediaID)
	assert.Equal(t, "train", row.Split)
	require.Len(t, row.Annotations, 1)
	assert.Equal(t, "cat", row.Annotations[0].Label)
}

func TestBuildRejectsUnknownFormat(t *testing.T) {
	_, err := Build("voc", "demo", "v1", Schema{}, nil)
	assert.Error(t, err)
	assert.True(t, ValidFormat("COCO"))
	assert.False(t, ValidFormat("voc"))
}
