package model

import "encoding/json"

// ModelFileName is the fixed artifact name looked up inside the model directory.
const ModelFileName = "iris_rf_model.onnx"

// IrisLabels maps class index to species name.
var IrisLabels = []string{"setosa", "versicolor", "virginica"}

// DataField is the request key holding the [samples][features] array.
const DataField = "data"

// ErrorResponse is the body returned for any failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Result is the outcome of scoring one request: either one label per input
// row, or an error.
type Result struct {
	Labels []string
	Err    error
}

// MarshalJSON encodes a label array on success and {"error": msg} otherwise.
func (r Result) MarshalJSON() ([]byte, error) {
	if r.Err != nil {
		return json.Marshal(ErrorResponse{Error: r.Err.Error()})
	}
	if r.Labels == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(r.Labels)
}
