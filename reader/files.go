package reader

import (
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dlclark/regexp2"

	"github.com/ollama/augpipe/graph"
	"github.com/ollama/augpipe/media"
	"github.com/ollama/augpipe/meta"
)

func init() {
	graph.Register("reader.file", func(p graph.Params) (graph.Operator, error) {
		opts, err := fileParams(p)
		if err != nil {
			return nil, err
		}
		return NewFileReader(opts)
	})
}

// FileOptions configures a FileReader.
type FileOptions struct {
	Root string

	// Labels come from LabelFile, else from LabelDB, else from the first
	// directory level below Root (sorted, starting at 0).
	LabelFile  string
	LabelDB    string
	LabelQuery string

	// Include is a regexp2 pattern matched against the slash-separated path
	// relative to Root. Empty matches every image file.
	Include string

	// ASCII attaches the relative path to each record.
	ASCII bool

	ShardOptions
}

func fileParams(p graph.Params) (FileOptions, error) {
	var o FileOptions
	var err error

	for key, dst := range map[string]*string{
		"root":        &o.Root,
		"label_file":  &o.LabelFile,
		"label_db":    &o.LabelDB,
		"label_query": &o.LabelQuery,
		"include":     &o.Include,
	} {
		if *dst, err = p.String(key, ""); err != nil {
			return o, err
		}
	}
	if o.ASCII, err = p.Bool("ascii", false); err != nil {
		return o, err
	}
	o.ShardOptions, err = shardParams(p)
	return o, err
}

type fileEntry struct {
	path  string
	rel   string
	label int
}

// FileReader reads image files below a directory.
type FileReader struct {
	encoded

	opts   FileOptions
	files  []fileEntry
	cursor *cursor
}

// NewFileReader lists the dataset. The listing is sorted so that every
// shard and seed sees the same order.
func NewFileReader(opts FileOptions) (*FileReader, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("reader: root is required")
	}

	var include *regexp2.Regexp
	if opts.Include != "" {
		re, err := regexp2.Compile(opts.Include, regexp2.None)
		if err != nil {
			return nil, fmt.Errorf("reader: include pattern: %w", err)
		}
		include = re
	}

	var labels map[string]int
	var err error
	switch {
	case opts.LabelFile != "":
		labels, err = LoadLabelFile(opts.LabelFile)
	case opts.LabelDB != "":
		labels, err = LoadSQLiteLabels(opts.LabelDB, opts.LabelQuery)
	}
	if err != nil {
		return nil, fmt.Errorf("reader: labels: %w", err)
	}

	var rels []string
	err = filepath.WalkDir(opts.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || media.FormatFromExtension(filepath.Ext(path)) == media.FormatUnknown {
			return nil
		}

		rel, err := filepath.Rel(opts.Root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if include != nil {
			ok, err := include.MatchString(rel)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
		}

		rels = append(rels, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reader: %w", err)
	}
	slices.Sort(rels)

	folders := folderLabels(rels)

	r := &FileReader{opts: opts}
	for _, rel := range rels {
		label := folders[folderOf(rel)]
		if labels != nil {
			l, ok := labels[filepath.Base(rel)]
			if !ok {
				slog.Debug("reader: no label, skipping", "file", rel)
				continue
			}
			label = l
		}
		r.files = append(r.files, fileEntry{path: filepath.Join(opts.Root, filepath.FromSlash(rel)), rel: rel, label: label})
	}

	if r.cursor, err = newCursor(len(r.files), opts.ShardOptions); err != nil {
		return nil, err
	}

	slog.Debug("reader: listed files", "root", opts.Root, "files", len(r.files), "shard", r.cursor.count())
	return r, nil
}

func folderOf(rel string) string {
	if i := strings.IndexByte(rel, '/'); i >= 0 {
		return rel[:i]
	}
	return ""
}

// folderLabels numbers the first-level directories in sorted order. Files
// directly below the root get label 0.
func folderLabels(rels []string) map[string]int {
	var dirs []string
	for _, rel := range rels {
		if d := folderOf(rel); d != "" && !slices.Contains(dirs, d) {
			dirs = append(dirs, d)
		}
	}
	slices.Sort(dirs)

	labels := map[string]int{"": 0}
	for i, d := range dirs {
		labels[d] = i
	}
	return labels
}

func (r *FileReader) Caps() graph.Capability {
	if r.opts.ASCII {
		return graph.CapLabels | graph.CapASCII
	}
	return graph.CapLabels
}

// Count is the number of files in this reader's shard.
func (r *FileReader) Count() int { return r.cursor.count() }

func (r *FileReader) Reset() error {
	r.cursor.reset()
	return nil
}

func (r *FileReader) Next() (*meta.Record, []byte, error) {
	i, ok := r.cursor.next()
	if !ok {
		return nil, nil, io.EOF
	}

	f := r.files[i]
	rec := &meta.Record{Name: filepath.Base(f.rel), ID: i, Label: f.label}
	if r.opts.ASCII {
		rec.ASCII = []byte(f.rel)
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return rec, nil, graph.Malformed(err)
	}
	return rec, data, nil
}
