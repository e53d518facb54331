package model

// Tensor is a dense row-major float32 tensor.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// Session is a loaded model ready for inference. Run must be safe to call
// from multiple goroutines at once.
type Session interface {
	// InputNames returns the model's declared input names in order.
	InputNames() []string
	// Run binds t to the named input and returns the first output, flattened
	// and converted to float64.
	Run(input string, t Tensor) ([]float64, error)
	Close() error
}

// Loader opens a Session for the model file at path.
type Loader func(path string) (Session, error)
