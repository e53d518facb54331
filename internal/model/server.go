package model

import (
	"bytes"
	"encoding/json"
	"math"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// Server holds the loaded model and the state derived from it. It is built
// once by NewServer and read-only afterwards, so Score may be called
// concurrently as long as the Session allows concurrent Run.
type Server struct {
	session   Session
	modelPath string
	inputName string
	labels    []string
}

// NewServer resolves the model file inside modelDir, opens it with load and
// derives the input name and label table.
func NewServer(modelDir string, load Loader, log *zap.Logger) (*Server, error) {
	if modelDir == "" {
		return nil, newError(KindConfig, ErrMissingModelDir)
	}

	modelPath := filepath.Join(modelDir, ModelFileName)
	if _, err := os.Stat(modelPath); err != nil {
		return nil, errorf(KindLoad, "failed to stat model: %w", err)
	}

	log.Info("Loading model", zap.String("path", modelPath))

	session, err := load(modelPath)
	if err != nil {
		return nil, errorf(KindLoad, "failed to load model %s: %w", modelPath, err)
	}

	inputs := session.InputNames()
	if len(inputs) == 0 {
		_ = session.Close()
		return nil, newError(KindLoad, ErrNoInputs)
	}

	labels := make([]string, len(IrisLabels))
	copy(labels, IrisLabels)

	log.Info("Model loaded",
		zap.String("input", inputs[0]),
		zap.Strings("labels", labels),
	)

	return &Server{
		session:   session,
		modelPath: modelPath,
		inputName: inputs[0],
		labels:    labels,
	}, nil
}

func (s *Server) ModelPath() string { return s.modelPath }

func (s *Server) InputName() string { return s.inputName }

// Labels returns a copy of the label table.
func (s *Server) Labels() []string {
	labels := make([]string, len(s.labels))
	copy(labels, s.labels)
	return labels
}

// Score runs one request through the model. Failures never escape as panics;
// they come back in Result.Err as an *Error.
func (s *Server) Score(raw []byte) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Err: errorf(KindInference, "panic during scoring: %v", r)}
		}
	}()

	labels, err := s.score(raw)
	if err != nil {
		return Result{Err: err}
	}
	return Result{Labels: labels}
}

func (s *Server) score(raw []byte) ([]string, error) {
	input, err := decodeInput(raw)
	if err != nil {
		return nil, err
	}

	preds, err := s.session.Run(s.inputName, input)
	if err != nil {
		return nil, newError(KindInference, err)
	}
	if len(preds) == 0 {
		return nil, newError(KindInference, ErrNoOutput)
	}
	if rows := int(input.Shape[0]); len(preds) != rows {
		return nil, errorf(KindInference, "%w: got %d predictions for %d rows", ErrOutputShape, len(preds), rows)
	}

	return s.lookup(preds)
}

// decodeInput parses {"data": [[...], ...]} into an [N, F] tensor.
func decodeInput(raw []byte) (Tensor, error) {
	// A map keeps the key lookup exact; struct tags would also accept "Data".
	var req map[string]json.RawMessage
	if err := json.Unmarshal(raw, &req); err != nil {
		return Tensor{}, newError(KindRequest, err)
	}
	data, ok := req[DataField]
	if !ok || bytes.Equal(data, []byte("null")) {
		return Tensor{}, newError(KindRequest, ErrMissingData)
	}

	var rows [][]float32
	if err := json.Unmarshal(data, &rows); err != nil {
		return Tensor{}, newError(KindRequest, err)
	}
	if len(rows) == 0 {
		return Tensor{}, newError(KindRequest, ErrEmptyData)
	}

	width := len(rows[0])
	flat := make([]float32, 0, len(rows)*width)
	for i, row := range rows {
		if len(row) == 0 || len(row) != width {
			return Tensor{}, errorf(KindRequest, "%w: row %d has %d values, row 0 has %d",
				ErrRaggedData, i, len(row), width)
		}
		flat = append(flat, row...)
	}

	return Tensor{
		Shape: []int64{int64(len(rows)), int64(width)},
		Data:  flat,
	}, nil
}

// lookup truncates each prediction toward zero and maps it to a label.
func (s *Server) lookup(preds []float64) ([]string, error) {
	out := make([]string, len(preds))
	for i, p := range preds {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return nil, errorf(KindLookup, "%w: %v", ErrLabelOutOfRange, p)
		}
		idx := math.Trunc(p)
		if idx < 0 || idx >= float64(len(s.labels)) {
			return nil, errorf(KindLookup, "%w: %v not in [0, %d)", ErrLabelOutOfRange, p, len(s.labels))
		}
		out[i] = s.labels[int(idx)]
	}
	return out, nil
}

// Close releases the model session.
func (s *Server) Close() error {
	if s.session == nil {
		return nil
	}
	return s.session.Close()
}
