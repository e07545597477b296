// Package silero implements vad.Engine with the Silero VAD neural model via
// ONNX Runtime.
//
// The model scores fixed windows (512 samples at 16 kHz, 256 at 8 kHz), so
// the session buffers incoming frames until a full window is available and
// carries the score forward for frames that arrive in between. Scores come
// out calibrated; no smoothing is applied on top.
//
// The engine needs the silero_vad.onnx model file on disk and the ONNX
// Runtime shared library installed. Use the energy backend where neither is
// available.
package silero

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/avishka-hashara/crosstalk/pkg/audio"
	"github.com/avishka-hashara/crosstalk/pkg/provider/vad"
)

// Model tensor geometry for Silero VAD v5.
const (
	stateSize     = 2 * 1 * 128
	window16k     = 512
	window8k      = 256
	contextLen16k = 64
	contextLen8k  = 32
)

// ortInit guards process-wide ONNX Runtime environment initialization.
var ortInit sync.Once

// Engine creates Silero VAD sessions backed by a shared model file.
type Engine struct {
	modelPath string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLibraryPath points ONNX Runtime at a specific shared library instead of
// the system default search path.
func WithLibraryPath(path string) Option {
	return func(*Engine) {
		ort.SetSharedLibraryPath(path)
	}
}

// New creates a Silero engine loading the model at modelPath. The ONNX
// Runtime environment is initialized on first use and shared process-wide.
func New(modelPath string, opts ...Option) (*Engine, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("silero: model path is required")
	}
	e := &Engine{modelPath: modelPath}
	for _, opt := range opts {
		opt(e)
	}

	var initErr error
	ortInit.Do(func() {
		initErr = ort.InitializeEnvironment()
	})
	if initErr != nil {
		return nil, fmt.Errorf("silero: initialize onnx runtime: %w", initErr)
	}
	return e, nil
}

// NewSession creates an independent scoring session with its own recurrent
// model state.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SpeechGate == 0 {
		cfg.SpeechGate = vad.DefaultSpeechGate
	}
	if cfg.Encoding == "" {
		cfg.Encoding = audio.EncodingPCM16
	}
	if !cfg.Encoding.Valid() {
		return nil, fmt.Errorf("silero: unknown encoding %q", cfg.Encoding)
	}

	window, contextLen := window16k, contextLen16k
	switch cfg.SampleRate {
	case 16000:
	case 8000:
		window, contextLen = window8k, contextLen8k
	default:
		return nil, fmt.Errorf("silero: unsupported sample rate %d (must be 8000 or 16000)", cfg.SampleRate)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("silero: create session options: %w", err)
	}
	defer options.Destroy()
	if err := options.SetIntraOpNumThreads(1); err != nil {
		return nil, fmt.Errorf("silero: set intra op threads: %w", err)
	}
	if err := options.SetInterOpNumThreads(1); err != nil {
		return nil, fmt.Errorf("silero: set inter op threads: %w", err)
	}

	model, err := ort.NewDynamicAdvancedSession(e.modelPath,
		[]string{"input", "state", "sr"},
		[]string{"output", "stateN"},
		options)
	if err != nil {
		return nil, fmt.Errorf("silero: create onnx session: %w", err)
	}

	return &session{
		cfg:        cfg,
		model:      model,
		window:     window,
		contextLen: contextLen,
		state:      make([]float32, stateSize),
		context:    make([]float32, contextLen),
	}, nil
}

var _ vad.Engine = (*Engine)(nil)

// session buffers frames into model windows and keeps the recurrent state
// between inferences. Owned by a single goroutine.
type session struct {
	cfg        vad.Config
	model      *ort.DynamicAdvancedSession
	window     int
	contextLen int

	pending []float32
	state   []float32
	context []float32
	last    float64
	closed  bool
}

// ProcessFrame accumulates the frame and runs inference for every full model
// window now available. Frames between window boundaries score the most
// recent model output.
func (s *session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	if s.closed {
		return vad.VADEvent{}, fmt.Errorf("silero: session is closed")
	}

	samples, err := s.cfg.Encoding.DecodeSamples(frame)
	if err != nil {
		return vad.VADEvent{}, nil
	}
	s.pending = append(s.pending, audio.PCM16ToFloat32(samples)...)

	for len(s.pending) >= s.window {
		prob, err := s.infer(s.pending[:s.window])
		if err != nil {
			return vad.VADEvent{}, fmt.Errorf("silero: inference: %w", err)
		}
		s.last = prob
		s.pending = s.pending[:copy(s.pending, s.pending[s.window:])]
	}

	return vad.VADEvent{Probability: s.last, IsSpeech: s.last > s.cfg.SpeechGate}, nil
}

// infer runs one model window, updating the recurrent state and the carried
// context samples.
func (s *session) infer(window []float32) (float64, error) {
	input := make([]float32, s.contextLen+len(window))
	copy(input, s.context)
	copy(input[s.contextLen:], window)

	inputTensor, err := ort.NewTensor(ort.NewShape(1, int64(len(input))), input)
	if err != nil {
		return 0, fmt.Errorf("create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	stateTensor, err := ort.NewTensor(ort.NewShape(2, 1, 128), s.state)
	if err != nil {
		return 0, fmt.Errorf("create state tensor: %w", err)
	}
	defer stateTensor.Destroy()

	srTensor, err := ort.NewTensor(ort.NewShape(1), []int64{int64(s.cfg.SampleRate)})
	if err != nil {
		return 0, fmt.Errorf("create sr tensor: %w", err)
	}
	defer srTensor.Destroy()

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		return 0, fmt.Errorf("create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	stateOutTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, 128))
	if err != nil {
		return 0, fmt.Errorf("create state output tensor: %w", err)
	}
	defer stateOutTensor.Destroy()

	err = s.model.Run(
		[]ort.ArbitraryTensor{inputTensor, stateTensor, srTensor},
		[]ort.ArbitraryTensor{outputTensor, stateOutTensor},
	)
	if err != nil {
		return 0, err
	}

	copy(s.state, stateOutTensor.GetData())
	copy(s.context, input[len(input)-s.contextLen:])

	return float64(outputTensor.GetData()[0]), nil
}

// Reset clears the recurrent state, carried context and buffered samples.
func (s *session) Reset() {
	clear(s.state)
	clear(s.context)
	s.pending = s.pending[:0]
	s.last = 0
}

// Close destroys the underlying ONNX session. Safe to call repeatedly.
func (s *session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.model.Destroy()
}

var _ vad.SessionHandle = (*session)(nil)
