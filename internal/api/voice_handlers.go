package api

import (
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/voicedesk/voicedesk/internal/voice"
)

// maxAudioUpload caps recognition uploads at 10 MB.
const maxAudioUpload = 10 << 20

var allowedAudioExtensions = map[string]bool{
	".wav":  true,
	".mp3":  true,
	".ogg":  true,
	".webm": true,
}

func (s *Server) handleVoiceInitialize(w http.ResponseWriter, r *http.Request) {
	var cfg voice.Config
	if err := decodeJSON(r, &cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if cfg.TTSEngine == "" || cfg.STTEngine == "" {
		writeError(w, http.StatusBadRequest, "ttsEngine and sttEngine are required")
		return
	}

	if err := s.voice.InitializeEngines(r.Context(), cfg); err != nil {
		writeServiceError(w, err)
		return
	}
	writeResult(w, http.StatusOK, map[string]any{"status": s.voice.GetStatus()})
}

// handleSynthesize produces audio for the posted text and streams the
// WAV file back.
func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	result, err := s.voice.Synthesize(r.Context(), body.Text)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	http.ServeFile(w, r, result.AudioPath)

	// One-shot output: once streamed, the file has no further reader and
	// would otherwise accumulate in the output directory.
	if err := os.Remove(result.AudioPath); err != nil {
		slog.Warn("failed to remove synthesized audio", "path", result.AudioPath, "error", err)
	}
}

// handleRecognize accepts a multipart audio upload (field "audio",
// max 10 MB, wav/mp3/ogg/webm) and returns the transcription.
func (s *Server) handleRecognize(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAudioUpload)
	if err := r.ParseMultipartForm(maxAudioUpload); err != nil {
		writeError(w, http.StatusBadRequest, "audio upload too large or malformed")
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedAudioExtensions[ext] {
		writeError(w, http.StatusBadRequest, "unsupported audio format")
		return
	}

	tmp, err := os.CreateTemp("", "upload_*"+ext)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}
	tmp.Close()

	result, err := s.voice.Recognize(r.Context(), tmp.Name())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeResult(w, http.StatusOK, map[string]any{"result": result})
}

func (s *Server) handleVoiceSelfTest(w http.ResponseWriter, r *http.Request) {
	if err := s.voice.SelfTest(r.Context()); err != nil {
		writeServiceError(w, err)
		return
	}
	writeSuccess(w)
}

func (s *Server) handleVoiceStatus(w http.ResponseWriter, r *http.Request) {
	writeResult(w, http.StatusOK, map[string]any{"status": s.voice.GetStatus()})
}

// handleVoiceConfig merges a partial config update.
func (s *Server) handleVoiceConfig(w http.ResponseWriter, r *http.Request) {
	var patch voice.ConfigPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cfg := s.voice.UpdateConfig(patch)
	writeResult(w, http.StatusOK, map[string]any{"config": cfg})
}
