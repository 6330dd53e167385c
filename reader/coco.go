package reader

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/ollama/augpipe/graph"
	"github.com/ollama/augpipe/meta"
)

func init() {
	graph.Register("reader.coco", func(p graph.Params) (graph.Operator, error) {
		var opts COCOOptions
		var err error
		if opts.Root, err = p.String("root", ""); err != nil {
			return nil, err
		}
		if opts.Annotations, err = p.String("annotations", ""); err != nil {
			return nil, err
		}
		if opts.Masks, err = p.Bool("masks", false); err != nil {
			return nil, err
		}
		if opts.ShardOptions, err = shardParams(p); err != nil {
			return nil, err
		}
		return NewCOCOReader(opts)
	})
}

type COCOOptions struct {
	// Root is the image directory; Annotations the instances JSON file.
	Root        string
	Annotations string
	Masks       bool

	ShardOptions
}

type cocoFile struct {
	Images []struct {
		ID       int    `json:"id"`
		FileName string `json:"file_name"`
		Width    int    `json:"width"`
		Height   int    `json:"height"`
	} `json:"images"`

	Annotations []struct {
		ImageID    int             `json:"image_id"`
		CategoryID int             `json:"category_id"`
		BBox       [4]float32      `json:"bbox"`
		IsCrowd    int             `json:"iscrowd"`
		Segment    json.RawMessage `json:"segmentation"`
	} `json:"annotations"`

	Categories []struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"categories"`
}

type cocoImage struct {
	path string
	rec  meta.Record
}

// COCOReader reads images with boxes, category labels and polygon masks
// from a COCO instances file. Category ids are mapped to contiguous labels
// starting at 1. Images without annotations are skipped.
type COCOReader struct {
	encoded

	opts   COCOOptions
	images []cocoImage
	cursor *cursor
}

func NewCOCOReader(opts COCOOptions) (*COCOReader, error) {
	data, err := os.ReadFile(opts.Annotations)
	if err != nil {
		return nil, fmt.Errorf("reader: %w", err)
	}

	var f cocoFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("reader: %s: %w", opts.Annotations, err)
	}

	ids := make([]int, 0, len(f.Categories))
	for _, c := range f.Categories {
		ids = append(ids, c.ID)
	}
	slices.Sort(ids)
	category := make(map[int]int, len(ids))
	for i, id := range ids {
		category[id] = i + 1
	}

	byImage := make(map[int]*meta.Record)
	for _, a := range f.Annotations {
		label, ok := category[a.CategoryID]
		if !ok {
			return nil, fmt.Errorf("reader: annotation references unknown category %d", a.CategoryID)
		}

		rec := byImage[a.ImageID]
		if rec == nil {
			rec = &meta.Record{}
			byImage[a.ImageID] = rec
		}

		x, y, w, h := a.BBox[0], a.BBox[1], a.BBox[2], a.BBox[3]
		rec.Boxes = append(rec.Boxes, meta.Box{L: x, T: y, R: x + w, B: y + h})
		rec.BoxLabels = append(rec.BoxLabels, label)

		if opts.Masks {
			var polys [][]float32
			// Crowd annotations use RLE and carry no polygons.
			if a.IsCrowd == 0 && len(a.Segment) > 0 {
				if err := json.Unmarshal(a.Segment, &polys); err != nil {
					return nil, fmt.Errorf("reader: image %d segmentation: %w", a.ImageID, err)
				}
			}
			rec.Masks = append(rec.Masks, polys)
		}
	}

	r := &COCOReader{opts: opts}
	for _, img := range f.Images {
		rec, ok := byImage[img.ID]
		if !ok {
			continue
		}
		rec.Name = img.FileName
		rec.ID = img.ID
		rec.Label = rec.BoxLabels[0]
		rec.OrigWidth, rec.OrigHeight = img.Width, img.Height
		r.images = append(r.images, cocoImage{path: filepath.Join(opts.Root, img.FileName), rec: *rec})
	}

	if r.cursor, err = newCursor(len(r.images), opts.ShardOptions); err != nil {
		return nil, err
	}

	slog.Debug("reader: coco", "images", len(r.images), "categories", len(ids), "shard", r.cursor.count())
	return r, nil
}

func (r *COCOReader) Caps() graph.Capability {
	caps := graph.CapLabels | graph.CapBoxes
	if r.opts.Masks {
		caps |= graph.CapMasks
	}
	return caps
}

func (r *COCOReader) Count() int { return r.cursor.count() }

func (r *COCOReader) Reset() error {
	r.cursor.reset()
	return nil
}

func (r *COCOReader) Next() (*meta.Record, []byte, error) {
	i, ok := r.cursor.next()
	if !ok {
		return nil, nil, io.EOF
	}

	img := r.images[i]
	rec := img.rec.Clone()
	data, err := os.ReadFile(img.path)
	if err != nil {
		return rec, nil, graph.Malformed(err)
	}
	return rec, data, nil
}
