package reader

import (
	"bufio"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultLabelQuery reads labels from a table of (name, label) rows.
const DefaultLabelQuery = "SELECT name, label FROM labels"

// LoadLabelFile reads a text file of "name label" lines. Names are matched
// by base name; blank lines and lines starting with # are ignored.
func LoadLabelFile(path string) (map[string]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	labels := make(map[string]int)
	scanner := bufio.NewScanner(f)
	for n := 1; scanner.Scan(); n++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("%s:%d: expected \"name label\", got %q", path, n, line)
		}

		label, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, n, err)
		}
		labels[filepath.Base(fields[0])] = label
	}

	return labels, scanner.Err()
}

// LoadSQLiteLabels reads (name, label) rows from a SQLite database.
func LoadSQLiteLabels(path, query string) (map[string]int, error) {
	if query == "" {
		query = DefaultLabelQuery
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("label query: %w", err)
	}
	defer rows.Close()

	labels := make(map[string]int)
	for rows.Next() {
		var name string
		var label int
		if err := rows.Scan(&name, &label); err != nil {
			return nil, err
		}
		labels[filepath.Base(name)] = label
	}

	return labels, rows.Err()
}
