package model

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeSession predicts a fixed class per row, or the value returned by predict.
type fakeSession struct {
	inputs  []string
	width   int64
	predict func(row []float32) float64
	runErr  error
	closed  bool
}

func (f *fakeSession) InputNames() []string { return f.inputs }

func (f *fakeSession) Run(input string, t Tensor) ([]float64, error) {
	if f.runErr != nil {
		return nil, f.runErr
	}
	if input != f.inputs[0] {
		return nil, errors.New("unknown input " + input)
	}
	if t.Shape[1] != f.width {
		return nil, errors.New("invalid dimensions for input")
	}
	n := int(t.Shape[0])
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = f.predict(t.Data[int64(i)*f.width : int64(i+1)*f.width])
	}
	return out, nil
}

func (f *fakeSession) Close() error {
	f.closed = true
	return nil
}

// perClassSession emits one value per class for every row, like a
// probability output flattened from [N, 3].
type perClassSession struct {
	*fakeSession
}

func (p perClassSession) Run(_ string, t Tensor) ([]float64, error) {
	out := make([]float64, 0, t.Shape[0]*3)
	for i := int64(0); i < t.Shape[0]; i++ {
		out = append(out, 0, 1, 2)
	}
	return out, nil
}

// petalRule mimics a trained iris classifier on petal length.
func petalRule(row []float32) float64 {
	switch {
	case row[2] < 2.5:
		return 0
	case row[2] < 5:
		return 1
	default:
		return 2
	}
}

func writeModelFile(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ModelFileName), []byte("onnx"), 0o644))
	return dir
}

func newTestServer(t *testing.T, sess *fakeSession) *Server {
	t.Helper()
	dir := writeModelFile(t)
	srv, err := NewServer(dir, func(string) (Session, error) { return sess, nil }, zap.NewNop())
	require.NoError(t, err)
	return srv
}

func irisSession() *fakeSession {
	return &fakeSession{inputs: []string{"float_input"}, width: 4, predict: petalRule}
}

func TestNewServer(t *testing.T) {
	t.Run("missing model directory is a config error", func(t *testing.T) {
		_, err := NewServer("", func(string) (Session, error) {
			t.Fatal("loader must not be called")
			return nil, nil
		}, zap.NewNop())

		require.Error(t, err)
		assert.Equal(t, KindConfig, KindOf(err))
		assert.ErrorIs(t, err, ErrMissingModelDir)
	})

	t.Run("missing model file is a load error", func(t *testing.T) {
		_, err := NewServer(t.TempDir(), func(string) (Session, error) {
			t.Fatal("loader must not be called")
			return nil, nil
		}, zap.NewNop())

		require.Error(t, err)
		assert.Equal(t, KindLoad, KindOf(err))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("loader failure is a load error", func(t *testing.T) {
		dir := writeModelFile(t)
		_, err := NewServer(dir, func(string) (Session, error) {
			return nil, errors.New("protobuf parsing failed")
		}, zap.NewNop())

		require.Error(t, err)
		assert.Equal(t, KindLoad, KindOf(err))
		assert.Contains(t, err.Error(), "protobuf parsing failed")
	})

	t.Run("model without inputs is a load error", func(t *testing.T) {
		sess := &fakeSession{}
		dir := writeModelFile(t)
		_, err := NewServer(dir, func(string) (Session, error) { return sess, nil }, zap.NewNop())

		require.Error(t, err)
		assert.Equal(t, KindLoad, KindOf(err))
		assert.ErrorIs(t, err, ErrNoInputs)
		assert.True(t, sess.closed)
	})

	t.Run("derives input name and labels", func(t *testing.T) {
		dir := writeModelFile(t)
		var gotPath string
		srv, err := NewServer(dir, func(path string) (Session, error) {
			gotPath = path
			return irisSession(), nil
		}, zap.NewNop())
		require.NoError(t, err)

		assert.Equal(t, filepath.Join(dir, "iris_rf_model.onnx"), gotPath)
		assert.Equal(t, gotPath, srv.ModelPath())
		assert.Equal(t, "float_input", srv.InputName())
		assert.Equal(t, []string{"setosa", "versicolor", "virginica"}, srv.Labels())
	})

	t.Run("labels are copied", func(t *testing.T) {
		srv := newTestServer(t, irisSession())
		labels := srv.Labels()
		labels[0] = "changed"
		assert.Equal(t, "setosa", srv.Labels()[0])
	})
}

func TestServer_Score(t *testing.T) {
	srv := newTestServer(t, irisSession())

	t.Run("single setosa sample", func(t *testing.T) {
		res := srv.Score([]byte(`{"data": [[5.1, 3.5, 1.4, 0.2]]}`))
		require.NoError(t, res.Err)
		assert.Equal(t, []string{"setosa"}, res.Labels)
	})

	t.Run("preserves row order", func(t *testing.T) {
		res := srv.Score([]byte(`{"data": [[6.3, 3.3, 6.0, 2.5], [5.1, 3.5, 1.4, 0.2], [5.9, 3.0, 4.2, 1.5]]}`))
		require.NoError(t, res.Err)
		assert.Equal(t, []string{"virginica", "setosa", "versicolor"}, res.Labels)
	})

	t.Run("integer features", func(t *testing.T) {
		res := srv.Score([]byte(`{"data": [[1,2,3,4],[5,6,7,8]]}`))
		require.NoError(t, res.Err)
		assert.Len(t, res.Labels, 2)
		assert.Equal(t, []string{"versicolor", "virginica"}, res.Labels)
	})

	t.Run("idempotent", func(t *testing.T) {
		body := []byte(`{"data": [[5.1, 3.5, 1.4, 0.2], [6.3, 3.3, 6.0, 2.5]]}`)
		assert.Equal(t, srv.Score(body), srv.Score(body))
	})

	t.Run("request errors", func(t *testing.T) {
		tests := []struct {
			name    string
			body    string
			wantErr error
		}{
			{"not json", `not json`, nil},
			{"json string", `"not json"`, nil},
			{"missing data", `{"rows": [[1,2,3,4]]}`, ErrMissingData},
			{"null data", `{"data": null}`, ErrMissingData},
			{"upper case key", `{"DATA": [[5.1, 3.5, 1.4, 0.2]]}`, ErrMissingData},
			{"title case key", `{"Data": [[5.1, 3.5, 1.4, 0.2]]}`, ErrMissingData},
			{"null body", `null`, ErrMissingData},
			{"empty data", `{"data": []}`, ErrEmptyData},
			{"one dimensional", `{"data": [1,2,3,4]}`, nil},
			{"strings", `{"data": [["a","b","c","d"]]}`, nil},
			{"ragged rows", `{"data": [[1,2,3,4],[1,2,3]]}`, ErrRaggedData},
			{"empty row", `{"data": [[]]}`, ErrRaggedData},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				res := srv.Score([]byte(tt.body))
				require.Error(t, res.Err)
				assert.Nil(t, res.Labels)
				assert.Equal(t, KindRequest, KindOf(res.Err))
				if tt.wantErr != nil {
					assert.ErrorIs(t, res.Err, tt.wantErr)
				}
			})
		}
	})

	t.Run("wrong feature count is an inference error", func(t *testing.T) {
		res := srv.Score([]byte(`{"data": [[1, 2, 3]]}`))
		require.Error(t, res.Err)
		assert.Equal(t, KindInference, KindOf(res.Err))
		assert.Equal(t, "invalid dimensions for input", res.Err.Error())
	})
}

func TestServer_ScoreLookup(t *testing.T) {
	tests := []struct {
		name    string
		pred    float64
		want    string
		wantErr bool
	}{
		{"truncates toward zero", 1.9, "versicolor", false},
		{"small negative truncates to zero", -0.5, "setosa", false},
		{"upper bound", 2.999, "virginica", false},
		{"index too large", 3, "", true},
		{"negative index", -1, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := irisSession()
			sess.predict = func([]float32) float64 { return tt.pred }
			srv := newTestServer(t, sess)

			res := srv.Score([]byte(`{"data": [[5.1, 3.5, 1.4, 0.2]]}`))
			if tt.wantErr {
				require.Error(t, res.Err)
				assert.Equal(t, KindLookup, KindOf(res.Err))
				assert.ErrorIs(t, res.Err, ErrLabelOutOfRange)
				return
			}
			require.NoError(t, res.Err)
			assert.Equal(t, []string{tt.want}, res.Labels)
		})
	}
}

func TestServer_ScoreRuntimeFailures(t *testing.T) {
	t.Run("run error", func(t *testing.T) {
		sess := irisSession()
		sess.runErr = errors.New("onnx: inference failed")
		srv := newTestServer(t, sess)

		res := srv.Score([]byte(`{"data": [[5.1, 3.5, 1.4, 0.2]]}`))
		assert.Equal(t, KindInference, KindOf(res.Err))
		assert.Equal(t, "onnx: inference failed", res.Err.Error())
	})

	t.Run("several outputs per row", func(t *testing.T) {
		srv := newTestServer(t, irisSession())
		srv.session = perClassSession{irisSession()}

		res := srv.Score([]byte(`{"data": [[1,2,3,4],[5,6,7,8]]}`))
		require.Error(t, res.Err)
		assert.Nil(t, res.Labels)
		assert.Equal(t, KindInference, KindOf(res.Err))
		assert.ErrorIs(t, res.Err, ErrOutputShape)
		assert.Contains(t, res.Err.Error(), "got 6 predictions for 2 rows")
	})

	t.Run("panic is recovered", func(t *testing.T) {
		sess := irisSession()
		sess.predict = func([]float32) float64 { panic("boom") }
		srv := newTestServer(t, sess)

		res := srv.Score([]byte(`{"data": [[5.1, 3.5, 1.4, 0.2]]}`))
		require.Error(t, res.Err)
		assert.Equal(t, KindInference, KindOf(res.Err))
		assert.Contains(t, res.Err.Error(), "boom")
	})
}

func TestServer_ScoreConcurrent(t *testing.T) {
	srv := newTestServer(t, irisSession())
	body := []byte(`{"data": [[5.1, 3.5, 1.4, 0.2], [6.3, 3.3, 6.0, 2.5]]}`)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := srv.Score(body)
			assert.NoError(t, res.Err)
			assert.Equal(t, []string{"setosa", "virginica"}, res.Labels)
		}()
	}
	wg.Wait()
}

func TestResult_MarshalJSON(t *testing.T) {
	t.Run("labels", func(t *testing.T) {
		b, err := json.Marshal(Result{Labels: []string{"setosa", "virginica"}})
		require.NoError(t, err)
		assert.JSONEq(t, `["setosa","virginica"]`, string(b))
	})

	t.Run("error", func(t *testing.T) {
		b, err := json.Marshal(Result{Err: newError(KindRequest, ErrMissingData)})
		require.NoError(t, err)
		assert.JSONEq(t, `{"error":"request is missing field \"data\""}`, string(b))
	})

	t.Run("parse failure message", func(t *testing.T) {
		srv := newTestServer(t, irisSession())
		b, err := json.Marshal(srv.Score([]byte(`not json`)))
		require.NoError(t, err)

		var body map[string]string
		require.NoError(t, json.Unmarshal(b, &body))
		assert.Len(t, body, 1)
		assert.Contains(t, body["error"], "invalid character")
	})
}
