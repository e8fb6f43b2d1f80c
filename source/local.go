package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/teranos/bfhtw/errors"
)

// Local file formats
const (
	FormatJSON  = "json"
	FormatJSONL = "jsonl"
	FormatCSV   = "csv"
	FormatTSV   = "tsv"
	FormatYAML  = "yaml"
)

// LocalFileSource reads items from a file on disk
type LocalFileSource struct {
	path   string
	format string
}

// NewLocalFileSource creates a file source. An empty format is taken from
// the file extension.
func NewLocalFileSource(path, format string) (*LocalFileSource, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	}
	switch format {
	case "yml":
		format = FormatYAML
	case "ndjson":
		format = FormatJSONL
	}
	switch format {
	case FormatJSON, FormatJSONL, FormatCSV, FormatTSV, FormatYAML:
	default:
		return nil, errors.NewConfigurationError("unsupported file format %q", format)
	}
	return &LocalFileSource{path: path, format: format}, nil
}

// Identifier implements Source
func (s *LocalFileSource) Identifier() string {
	return "local_file:" + filepath.Base(s.path)
}

// ValidateConnection checks that the path is a readable regular file
func (s *LocalFileSource) ValidateConnection(_ context.Context) error {
	info, err := os.Stat(s.path)
	if err != nil {
		return errors.WrapConnection(err, "local file")
	}
	if !info.Mode().IsRegular() {
		return errors.NewConnectionError("path is not a file: %s", s.path)
	}
	f, err := os.Open(s.path)
	if err != nil {
		return errors.WrapConnection(err, "open local file")
	}
	defer f.Close()
	buf := make([]byte, 100)
	if _, err := f.Read(buf); err != nil && err != io.EOF {
		return errors.WrapConnection(err, "read local file")
	}
	return nil
}

// FetchMetadata loads every record in the file, in file order
func (s *LocalFileSource) FetchMetadata(_ context.Context) ([]Item, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, errors.WrapConnection(err, "read local file")
	}

	var items []Item
	switch s.format {
	case FormatJSON:
		items, err = decodeDocument(data, json.Unmarshal)
	case FormatYAML:
		items, err = decodeDocument(data, yaml.Unmarshal)
	case FormatJSONL:
		items, err = decodeLines(data)
	case FormatCSV:
		items, err = decodeDelimited(data, ',')
	case FormatTSV:
		items, err = decodeDelimited(data, '\t')
	}
	if err != nil {
		return nil, errors.WrapProcessing(err, fmt.Sprintf("load %s", s.path))
	}
	return items, nil
}

// decodeDocument accepts a single object or an array of objects
func decodeDocument(data []byte, unmarshal func([]byte, interface{}) error) ([]Item, error) {
	var doc interface{}
	if err := unmarshal(data, &doc); err != nil {
		return nil, err
	}
	switch x := doc.(type) {
	case map[string]interface{}:
		return []Item{x}, nil
	case []interface{}:
		out := make([]Item, 0, len(x))
		for i, el := range x {
			obj, ok := el.(map[string]interface{})
			if !ok {
				return nil, errors.Newf("element %d is %T, want an object", i, el)
			}
			out = append(out, obj)
		}
		return out, nil
	case nil:
		return nil, nil
	}
	return nil, errors.Newf("unexpected document structure: %T", doc)
}

func decodeLines(data []byte) ([]Item, error) {
	var out []Item
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 {
			continue
		}
		var obj map[string]interface{}
		if err := json.Unmarshal(text, &obj); err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		out = append(out, obj)
	}
	return out, sc.Err()
}

// decodeDelimited maps each row onto the header. Numeric cells become
// int64 or float64 and empty cells become nil.
func decodeDelimited(data []byte, comma rune) ([]Item, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = comma
	r.TrimLeadingSpace = true
	if comma == '\t' {
		r.LazyQuotes = true
	}
	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read header")
	}

	var out []Item
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		item := make(Item, len(header))
		for i, col := range header {
			if i < len(rec) {
				item[col] = inferCell(rec[i])
			} else {
				item[col] = nil
			}
		}
		out = append(out, item)
	}
	return out, nil
}

func inferCell(cell string) interface{} {
	if cell == "" {
		return nil
	}
	if n, err := strconv.ParseInt(cell, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(cell, 64); err == nil {
		return f
	}
	return cell
}
