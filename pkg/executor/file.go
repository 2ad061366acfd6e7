package executor

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ajitpratap0/datasync/pkg/datasource"
	"github.com/ajitpratap0/datasync/pkg/errors"
	"github.com/ajitpratap0/datasync/pkg/json"
	"github.com/ajitpratap0/datasync/pkg/logger"
)

// FileExecutor reads csv files with a header row and json files holding
// either an array of objects or one object per line.
type FileExecutor struct {
	baseDir string
	logger  *zap.Logger
}

// NewFileExecutor creates a FileExecutor. When baseDir is set, relative
// paths resolve against it and paths outside it are rejected.
func NewFileExecutor(baseDir string, log *zap.Logger) *FileExecutor {
	return &FileExecutor{
		baseDir: baseDir,
		logger:  logger.OrNop(log).With(zap.String("executor", "file")),
	}
}

func (e *FileExecutor) resolve(ds *datasource.DataSource) (string, *datasource.FileConfig, error) {
	cfg, ok := ds.Config.(*datasource.FileConfig)
	if !ok {
		return "", nil, errors.Newf(errors.ErrorTypeConfig, "data source %s is not a file source", ds.ID)
	}
	path := filepath.Clean(cfg.FilePath)
	if e.baseDir == "" {
		return path, cfg, nil
	}

	base, err := filepath.Abs(e.baseDir)
	if err != nil {
		return "", nil, err
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(base, path)
	}
	rel, err := filepath.Rel(base, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		verr := errors.NewValidationError("connectionConfig")
		verr.Add("filePath", "must be inside the data directory")
		return "", nil, verr
	}
	return path, cfg, nil
}

// Test checks that the file exists and can be opened.
func (e *FileExecutor) Test(_ context.Context, ds *datasource.DataSource) error {
	path, _, err := e.resolve(ds)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return errors.NewConnectionError(ds.ID, "open", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return errors.NewConnectionError(ds.ID, "stat", err)
	}
	if info.IsDir() {
		return errors.NewConnectionError(ds.ID, "open", fmt.Errorf("%s is a directory", path))
	}
	return nil
}

// Extract reads the whole file.
func (e *FileExecutor) Extract(ctx context.Context, ds *datasource.DataSource, emit EmitFunc) error {
	path, cfg, err := e.resolve(ds)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return errors.NewConnectionError(ds.ID, "open", err)
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 64*1024)
	if strings.EqualFold(cfg.Format, datasource.FormatJSON) {
		return readJSON(ctx, r, emit)
	}
	return readCSV(ctx, r, cfg.Delimiter, emit)
}

func readCSV(ctx context.Context, r io.Reader, delimiter string, emit EmitFunc) error {
	reader := csv.NewReader(r)
	reader.ReuseRecord = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	if delimiter != "" {
		reader.Comma = []rune(delimiter)[0]
	}

	headers, err := reader.Read()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to read headers")
	}
	headers = append([]string(nil), headers...)

	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		row, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, fmt.Sprintf("failed to read line %d", line))
		}
		record := make(map[string]interface{}, len(headers))
		for i, h := range headers {
			if i < len(row) {
				record[h] = row[i]
			} else {
				record[h] = nil
			}
		}
		if err := emit(record); err != nil {
			return err
		}
	}
}

func readJSON(ctx context.Context, r *bufio.Reader, emit EmitFunc) error {
	first, err := firstNonSpace(r)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to read file")
	}

	dec := json.NewDecoder(r)
	if first == '[' {
		token, err := dec.Token()
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, "failed to read JSON array start")
		}
		if delim, ok := token.(gojson.Delim); !ok || delim != '[' {
			return errors.Newf(errors.ErrorTypeData, "expected JSON array, got %v", token)
		}
		for dec.More() {
			if err := ctx.Err(); err != nil {
				return err
			}
			record := make(map[string]interface{})
			if err := dec.Decode(&record); err != nil {
				return errors.Wrap(err, errors.ErrorTypeData, "failed to decode JSON object")
			}
			if err := emit(record); err != nil {
				return err
			}
		}
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		record := make(map[string]interface{})
		err := dec.Decode(&record)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, "failed to decode JSON line")
		}
		if err := emit(record); err != nil {
			return err
		}
	}
}

// firstNonSpace peeks at the first significant byte without consuming it.
func firstNonSpace(r *bufio.Reader) (byte, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, r.UnreadByte()
	}
}
