package reader

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/ollama/augpipe/graph"
	"github.com/ollama/augpipe/meta"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))
	return buf.Bytes()
}

// dataset writes root/{cat,dog}/N.png plus a text file that must be ignored.
func dataset(t *testing.T, perClass int) string {
	t.Helper()
	root := t.TempDir()
	data := pngBytes(t)

	for _, class := range []string{"dog", "cat"} {
		dir := filepath.Join(root, class)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		for i := range perClass {
			name := filepath.Join(dir, class+string(rune('a'+i))+".png")
			require.NoError(t, os.WriteFile(name, data, 0o644))
		}
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "README.txt"), []byte("x"), 0o644))
	return root
}

func drain(t *testing.T, src graph.Source) []*meta.Record {
	t.Helper()
	var out []*meta.Record
	for {
		rec, data, err := src.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		require.NotEmpty(t, data)
		out = append(out, rec)
	}
}

func names(recs []*meta.Record) []string {
	var out []string
	for _, r := range recs {
		out = append(out, r.Name)
	}
	return out
}

func TestFileReaderFolderLabels(t *testing.T) {
	r, err := NewFileReader(FileOptions{Root: dataset(t, 2)})
	require.NoError(t, err)
	require.Equal(t, 4, r.Count())

	recs := drain(t, r)
	if diff := cmp.Diff([]string{"cata.png", "catb.png", "doga.png", "dogb.png"}, names(recs)); diff != "" {
		t.Errorf("namen (-erwartet +bekommen):\n%s", diff)
	}
	for _, rec := range recs {
		want := 0
		if rec.Name[:3] == "dog" {
			want = 1
		}
		if rec.Label != want {
			t.Errorf("%s: label %d, erwartet %d", rec.Name, rec.Label, want)
		}
	}

	// Reset starts the next epoch with the same files.
	require.NoError(t, r.Reset())
	require.Len(t, drain(t, r), 4)
}

func TestFileReaderInclude(t *testing.T) {
	r, err := NewFileReader(FileOptions{Root: dataset(t, 3), Include: `^dog/(?!dogb)`, ASCII: true})
	require.NoError(t, err)

	recs := drain(t, r)
	if diff := cmp.Diff([]string{"doga.png", "dogc.png"}, names(recs)); diff != "" {
		t.Errorf("namen (-erwartet +bekommen):\n%s", diff)
	}
	require.Equal(t, "dog/doga.png", string(recs[0].ASCII))
	require.True(t, r.Caps().Has(graph.CapASCII))
}

func TestFileReaderShards(t *testing.T) {
	root := dataset(t, 5)

	var all []string
	for shard := range 3 {
		r, err := NewFileReader(FileOptions{Root: root, ShardOptions: ShardOptions{ShardID: shard, NumShards: 3}})
		require.NoError(t, err)
		got := names(drain(t, r))
		require.Equal(t, r.Count(), len(got))
		all = append(all, got...)
	}

	slices.Sort(all)
	require.Len(t, all, 10)
	require.Equal(t, len(all), len(slices.Compact(slices.Clone(all))), "shards ueberschneiden sich")

	_, err := NewFileReader(FileOptions{Root: root, ShardOptions: ShardOptions{ShardID: 3, NumShards: 3}})
	require.Error(t, err)
}

func TestFileReaderShuffle(t *testing.T) {
	root := dataset(t, 5)
	opts := FileOptions{Root: root, ShardOptions: ShardOptions{Shuffle: true, Seed: 42}}

	a, err := NewFileReader(opts)
	require.NoError(t, err)
	b, err := NewFileReader(opts)
	require.NoError(t, err)

	first := names(drain(t, a))
	if diff := cmp.Diff(first, names(drain(t, b))); diff != "" {
		t.Errorf("gleicher Seed, andere Reihenfolge (-a +b):\n%s", diff)
	}

	sorted := slices.Clone(first)
	slices.Sort(sorted)

	require.NoError(t, a.Reset())
	second := names(drain(t, a))
	second2 := slices.Clone(second)
	slices.Sort(second2)
	require.Equal(t, sorted, second2, "epoche hat Dateien verloren oder verdoppelt")
	require.NotEqual(t, first, second, "epochen sollten neu gemischt werden")
}

func TestLabelFile(t *testing.T) {
	root := dataset(t, 2)
	labels := filepath.Join(t.TempDir(), "labels.txt")
	require.NoError(t, os.WriteFile(labels, []byte("# name label\ncat/cata.png 7\ndoga.png 3\n\n"), 0o644))

	r, err := NewFileReader(FileOptions{Root: root, LabelFile: labels})
	require.NoError(t, err)

	recs := drain(t, r)
	require.Equal(t, []string{"cata.png", "doga.png"}, names(recs))
	require.Equal(t, 7, recs[0].Label)
	require.Equal(t, 3, recs[1].Label)

	bad := filepath.Join(t.TempDir(), "bad.txt")
	require.NoError(t, os.WriteFile(bad, []byte("cata.png seven\n"), 0o644))
	_, err = LoadLabelFile(bad)
	require.Error(t, err)
}

func TestSQLiteLabels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE labels (name TEXT, label INTEGER);
		INSERT INTO labels VALUES ('catb.png', 4), ('dog/dogb.png', 9);`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	r, err := NewFileReader(FileOptions{Root: dataset(t, 2), LabelDB: path})
	require.NoError(t, err)

	recs := drain(t, r)
	require.Equal(t, []string{"catb.png", "dogb.png"}, names(recs))
	require.Equal(t, 4, recs[0].Label)
	require.Equal(t, 9, recs[1].Label)
}

func TestFileReaderFactory(t *testing.T) {
	op, err := graph.DefaultRegistry.Create("reader.file", graph.Params{"root": dataset(t, 1), "num_shards": 2, "shard_id": 1})
	require.NoError(t, err)
	src, ok := op.(graph.Source)
	require.True(t, ok)
	require.Equal(t, 1, src.Count())

	_, err = graph.DefaultRegistry.Create("reader.file", graph.Params{})
	require.Error(t, err)
}

func TestFileReaderMalformed(t *testing.T) {
	root := dataset(t, 1)
	r, err := NewFileReader(FileOptions{Root: root})
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(root, "cat", "cata.png")))

	rec, _, err := r.Next()
	require.ErrorIs(t, err, graph.ErrMalformed)
	require.Equal(t, "cata.png", rec.Name)

	_, _, err = r.Next()
	require.NoError(t, err)
}

func TestCOCOReader(t *testing.T) {
	root := t.TempDir()
	data := pngBytes(t)
	for _, name := range []string{"a.png", "b.png", "c.png"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), data, 0o644))
	}

	ann := map[string]any{
		"images": []map[string]any{
			{"id": 1, "file_name": "a.png", "width": 2, "height": 2},
			{"id": 2, "file_name": "b.png", "width": 2, "height": 2},
			{"id": 3, "file_name": "c.png", "width": 2, "height": 2},
		},
		"annotations": []map[string]any{
			{"image_id": 1, "category_id": 18, "bbox": []float32{0, 0, 1, 2}, "iscrowd": 0, "segmentation": [][]float32{{0, 0, 1, 0, 1, 1}}},
			{"image_id": 1, "category_id": 90, "bbox": []float32{1, 1, 1, 1}, "iscrowd": 1, "segmentation": map[string]any{"counts": "x"}},
			{"image_id": 3, "category_id": 90, "bbox": []float32{0.5, 0.5, 1, 1}, "iscrowd": 0, "segmentation": [][]float32{}},
		},
		"categories": []map[string]any{{"id": 90, "name": "toothbrush"}, {"id": 18, "name": "dog"}},
	}
	annPath := filepath.Join(root, "instances.json")
	raw, err := json.Marshal(ann)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(annPath, raw, 0o644))

	r, err := NewCOCOReader(COCOOptions{Root: root, Annotations: annPath, Masks: true})
	require.NoError(t, err)
	require.Equal(t, 2, r.Count())
	require.True(t, r.Caps().Has(graph.CapBoxes|graph.CapMasks))

	recs := drain(t, r)
	require.Equal(t, []string{"a.png", "c.png"}, names(recs))

	a := recs[0]
	if diff := cmp.Diff([]meta.Box{{L: 0, T: 0, R: 1, B: 2}, {L: 1, T: 1, R: 2, B: 2}}, a.Boxes); diff != "" {
		t.Errorf("boxes (-erwartet +bekommen):\n%s", diff)
	}
	require.Equal(t, []int{1, 2}, a.BoxLabels)
	require.Equal(t, 1, a.MaskCount())
	require.Equal(t, 6, a.MaskPoints())
	require.Equal(t, 2, a.OrigWidth)
}

func TestMemory(t *testing.T) {
	m := NewMemory()
	m.Feed(meta.Record{Name: "x", Label: 1}, []byte{1})
	m.Feed(meta.Record{Name: "y", Label: 2}, []byte{2})
	require.Equal(t, 2, m.Count())

	recs := drain(t, m)
	require.Equal(t, []string{"x", "y"}, names(recs))
	require.Equal(t, 1, recs[1].ID)

	// Fed after the epoch ended: visible after Reset.
	m.Feed(meta.Record{Name: "z"}, []byte{3})
	require.Equal(t, 2, m.Count())
	require.NoError(t, m.Reset())
	require.Equal(t, 3, m.Count())

	op, err := m.Factory()(nil)
	require.NoError(t, err)
	require.Same(t, m, op)
}
