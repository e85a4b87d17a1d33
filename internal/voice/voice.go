package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotReady is returned when synthesis or recognition is attempted
	// before InitializeEngines has succeeded.
	ErrNotReady = errors.New("engine not ready")
	// ErrTimeout is returned when an engine subprocess exceeds the
	// configured deadline.
	ErrTimeout = errors.New("timed out")
)

// EventKind identifies a speech-engine lifecycle event.
type EventKind string

const (
	EventEnginesReady  EventKind = "enginesReady"
	EventConfigUpdated EventKind = "configUpdated"
)

// Event carries a lifecycle notification with the snapshot taken at
// emission time.
type Event struct {
	Kind      EventKind
	Timestamp time.Time
	Status    Status
	Config    Config
}

// Handler receives events for a subscribed kind.
type Handler func(Event)

// Config selects the TTS and STT engines and their synthesis parameters.
type Config struct {
	TTSEngine  string  `json:"ttsEngine"` // coqui, mozilla, silero
	STTEngine  string  `json:"sttEngine"` // vosk, whisper, silero
	Language   string  `json:"language"`
	VoiceModel string  `json:"voiceModel"`
	SpeechRate float64 `json:"speechRate"`
	Pitch      float64 `json:"pitch"`
	Volume     float64 `json:"volume"`
}

// ConfigPatch is a partial config for merge updates; nil fields are
// left unchanged.
type ConfigPatch struct {
	TTSEngine  *string  `json:"ttsEngine"`
	STTEngine  *string  `json:"sttEngine"`
	Language   *string  `json:"language"`
	VoiceModel *string  `json:"voiceModel"`
	SpeechRate *float64 `json:"speechRate"`
	Pitch      *float64 `json:"pitch"`
	Volume     *float64 `json:"volume"`
}

// DefaultConfig returns the engine configuration used before any
// explicit initialization.
func DefaultConfig() Config {
	return Config{
		TTSEngine:  "coqui",
		STTEngine:  "vosk",
		Language:   "ru",
		VoiceModel: "ru_v3",
		SpeechRate: 1.0,
		Pitch:      0.0,
		Volume:     0.8,
	}
}

// Status is a snapshot of the speech session state.
type Status struct {
	TTSReady       bool    `json:"ttsReady"`
	STTReady       bool    `json:"sttReady"`
	LastError      string  `json:"lastError,omitempty"`
	ProcessedAudio int     `json:"processedAudio"`
	Accuracy       float64 `json:"accuracy"`
}

// SynthesisResult describes a produced audio file. Duration is estimated
// from word count at 150 wpm scaled by the speech rate, not measured.
type SynthesisResult struct {
	AudioPath string    `json:"audioPath"`
	Duration  float64   `json:"duration"`
	Timestamp time.Time `json:"timestamp"`
}

// RecognitionResult describes a transcription.
type RecognitionResult struct {
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
	Duration   float64   `json:"duration"`
}

const (
	defaultTimeout  = 30 * time.Second
	defaultAccuracy = 0.92

	initTestPhrase     = "Тест голосового движка"
	selfTestPhrase     = "Тестирование голосового движка"
	jsonConfidence     = 0.9
	fallbackConfidence = 0.85

	// No audio probing is performed; every transcription reports this.
	recognitionDuration = 1.0
)

var ttsExecutables = map[string]string{
	"coqui":   "tts",
	"mozilla": "mozilla-tts",
	"silero":  "silero-tts",
}

var sttExecutables = map[string]string{
	"vosk":    "vosk-transcriber",
	"whisper": "whisper",
	"silero":  "silero-stt",
}

// Service holds the speech session: the engine config, a status
// snapshot, and the subprocess plumbing for the external TTS and STT
// executables.
type Service struct {
	logger   *slog.Logger
	timeout  time.Duration
	binDir   string
	modelDir string
	outDir   string

	mu     sync.Mutex
	cfg    Config
	status Status

	subMu     sync.Mutex
	nextSubID int
	subs      map[EventKind]map[int]Handler
}

// NewService creates a speech session holder. Zero values fall back to a
// 30s subprocess timeout, /usr/local/bin, /models and /tmp.
func NewService(logger *slog.Logger, timeout time.Duration, binDir, modelDir, outDir string) *Service {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if binDir == "" {
		binDir = "/usr/local/bin"
	}
	if modelDir == "" {
		modelDir = "/models"
	}
	if outDir == "" {
		outDir = os.TempDir()
	}
	return &Service{
		logger:   logger.With("subsystem", "voice"),
		timeout:  timeout,
		binDir:   binDir,
		modelDir: modelDir,
		outDir:   outDir,
		cfg:      DefaultConfig(),
		status:   Status{Accuracy: defaultAccuracy},
		subs:     make(map[EventKind]map[int]Handler),
	}
}

// InitializeEngines stores the config, verifies both executables exist
// and runs a TTS smoke test. Readiness flags flip only after both legs
// pass; a failure reports which engine is at fault.
func (s *Service) InitializeEngines(ctx context.Context, cfg Config) error {
	applyDefaults(&cfg)

	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()

	if _, err := os.Stat(s.ttsEnginePath(cfg.TTSEngine)); err != nil {
		return s.initFailed(fmt.Errorf("TTS engine not found: %s", cfg.TTSEngine))
	}
	if _, err := os.Stat(s.sttEnginePath(cfg.STTEngine)); err != nil {
		return s.initFailed(fmt.Errorf("STT engine not found: %s", cfg.STTEngine))
	}

	result, err := s.runSynthesis(ctx, initTestPhrase)
	if err != nil {
		return s.initFailed(fmt.Errorf("tts smoke test: %w", err))
	}
	os.Remove(result.AudioPath)

	now := time.Now()

	s.mu.Lock()
	s.status.TTSReady = true
	s.status.STTReady = true
	s.status.LastError = ""
	snapshot := s.status
	s.mu.Unlock()

	s.logger.Info("speech engines ready", "tts", cfg.TTSEngine, "stt", cfg.STTEngine, "language", cfg.Language)
	s.emit(Event{Kind: EventEnginesReady, Timestamp: now, Status: snapshot, Config: cfg})
	return nil
}

func (s *Service) initFailed(err error) error {
	s.mu.Lock()
	s.status.TTSReady = false
	s.status.STTReady = false
	s.status.LastError = err.Error()
	s.mu.Unlock()
	return err
}

// Synthesize produces a WAV file for the given text.
func (s *Service) Synthesize(ctx context.Context, text string) (*SynthesisResult, error) {
	s.mu.Lock()
	ready := s.status.TTSReady
	s.mu.Unlock()

	if !ready {
		return nil, fmt.Errorf("TTS %w", ErrNotReady)
	}
	return s.runSynthesis(ctx, text)
}

// runSynthesis spawns the TTS executable without checking readiness, so
// the initialization smoke test can use it too.
func (s *Service) runSynthesis(ctx context.Context, text string) (*SynthesisResult, error) {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	outputPath := filepath.Join(s.outDir, "tts_"+uuid.NewString()+".wav")

	cmdCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, s.ttsEnginePath(cfg.TTSEngine),
		"--text", text,
		"--output", outputPath,
		"--model", cfg.VoiceModel,
		"--speed", strconv.FormatFloat(cfg.SpeechRate, 'f', -1, 64),
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if cmdCtx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("tts engine %w after %s", ErrTimeout, s.timeout)
	}
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("tts engine: %s", msg)
		}
		return nil, fmt.Errorf("tts engine: %w", err)
	}
	if _, err := os.Stat(outputPath); err != nil {
		return nil, fmt.Errorf("tts engine produced no output file")
	}

	return &SynthesisResult{
		AudioPath: outputPath,
		Duration:  estimateDuration(text, cfg.SpeechRate),
		Timestamp: time.Now(),
	}, nil
}

// Recognize transcribes an audio file. The executable's stdout is parsed
// as JSON {text, confidence}; raw stdout is used as the transcript with
// a fixed confidence when that fails.
func (s *Service) Recognize(ctx context.Context, audioPath string) (*RecognitionResult, error) {
	s.mu.Lock()
	ready := s.status.STTReady
	cfg := s.cfg
	s.mu.Unlock()

	if !ready {
		return nil, fmt.Errorf("STT %w", ErrNotReady)
	}
	if _, err := os.Stat(audioPath); err != nil {
		return nil, fmt.Errorf("audio file not found: %s", audioPath)
	}

	cmdCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, s.sttEnginePath(cfg.STTEngine),
		"--model", s.sttModelPath(cfg),
		"--audio", audioPath,
		"--language", cfg.Language,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if cmdCtx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("stt engine %w after %s", ErrTimeout, s.timeout)
	}
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("stt engine: %s", msg)
		}
		return nil, fmt.Errorf("stt engine: %w", err)
	}

	text, confidence := parseRecognition(stdout.String())

	s.mu.Lock()
	s.status.ProcessedAudio++
	s.mu.Unlock()

	return &RecognitionResult{
		Text:       text,
		Confidence: confidence,
		Timestamp:  time.Now(),
		Duration:   recognitionDuration,
	}, nil
}

// SelfTest runs the full loop: synthesize a fixed phrase, then recognize
// the produced file. The temp file is removed regardless of outcome and
// the error names the failing leg.
func (s *Service) SelfTest(ctx context.Context) error {
	result, err := s.Synthesize(ctx, selfTestPhrase)
	if err != nil {
		return fmt.Errorf("tts self-test failed: %w", err)
	}
	defer os.Remove(result.AudioPath)

	if _, err := s.Recognize(ctx, result.AudioPath); err != nil {
		return fmt.Errorf("stt self-test failed: %w", err)
	}
	return nil
}

// UpdateConfig merges the set fields into the current config and returns
// the result.
func (s *Service) UpdateConfig(patch ConfigPatch) Config {
	now := time.Now()

	s.mu.Lock()
	if patch.TTSEngine != nil {
		s.cfg.TTSEngine = *patch.TTSEngine
	}
	if patch.STTEngine != nil {
		s.cfg.STTEngine = *patch.STTEngine
	}
	if patch.Language != nil {
		s.cfg.Language = *patch.Language
	}
	if patch.VoiceModel != nil {
		s.cfg.VoiceModel = *patch.VoiceModel
	}
	if patch.SpeechRate != nil {
		s.cfg.SpeechRate = *patch.SpeechRate
	}
	if patch.Pitch != nil {
		s.cfg.Pitch = *patch.Pitch
	}
	if patch.Volume != nil {
		s.cfg.Volume = *patch.Volume
	}
	cfg := s.cfg
	snapshot := s.status
	s.mu.Unlock()

	s.logger.Info("voice config updated", "tts", cfg.TTSEngine, "stt", cfg.STTEngine)
	s.emit(Event{Kind: EventConfigUpdated, Timestamp: now, Status: snapshot, Config: cfg})
	return cfg
}

// GetConfig returns a copy of the active config.
func (s *Service) GetConfig() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// GetStatus returns a copy of the current session status.
func (s *Service) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Subscribe registers a handler for an event kind and returns an
// unsubscribe func.
func (s *Service) Subscribe(kind EventKind, handler Handler) func() {
	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	if s.subs[kind] == nil {
		s.subs[kind] = make(map[int]Handler)
	}
	s.subs[kind][id] = handler
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if handlers, ok := s.subs[kind]; ok {
			delete(handlers, id)
			if len(handlers) == 0 {
				delete(s.subs, kind)
			}
		}
	}
}

func (s *Service) emit(ev Event) {
	s.subMu.Lock()
	ids := make([]int, 0, len(s.subs[ev.Kind]))
	for id := range s.subs[ev.Kind] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, s.subs[ev.Kind][id])
	}
	s.subMu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

func (s *Service) ttsEnginePath(engine string) string {
	name, ok := ttsExecutables[engine]
	if !ok {
		name = ttsExecutables["coqui"]
	}
	return filepath.Join(s.binDir, name)
}

func (s *Service) sttEnginePath(engine string) string {
	name, ok := sttExecutables[engine]
	if !ok {
		name = sttExecutables["vosk"]
	}
	return filepath.Join(s.binDir, name)
}

func (s *Service) sttModelPath(cfg Config) string {
	return filepath.Join(s.modelDir, cfg.STTEngine, cfg.Language)
}

func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.TTSEngine == "" {
		cfg.TTSEngine = def.TTSEngine
	}
	if cfg.STTEngine == "" {
		cfg.STTEngine = def.STTEngine
	}
	if cfg.Language == "" {
		cfg.Language = def.Language
	}
	if cfg.VoiceModel == "" {
		cfg.VoiceModel = def.VoiceModel
	}
	if cfg.SpeechRate <= 0 {
		cfg.SpeechRate = def.SpeechRate
	}
	if cfg.Volume == 0 {
		cfg.Volume = def.Volume
	}
}

// estimateDuration assumes 150 words per minute scaled by the speech rate.
func estimateDuration(text string, speechRate float64) float64 {
	words := len(strings.Fields(text))
	return float64(words) / 150 * 60 * speechRate
}

func parseRecognition(output string) (string, float64) {
	var parsed struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(output), &parsed); err != nil {
		return strings.TrimSpace(output), fallbackConfidence
	}
	text := parsed.Text
	if text == "" {
		text = strings.TrimSpace(output)
	}
	confidence := parsed.Confidence
	if confidence == 0 {
		confidence = jsonConfidence
	}
	return text, confidence
}
