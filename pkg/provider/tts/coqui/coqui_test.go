package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/avishka-hashara/crosstalk/pkg/audio"
	"github.com/avishka-hashara/crosstalk/pkg/provider/tts"
)

// feedText returns a closed-after-writing text channel carrying the given fragments.
func feedText(fragments ...string) <-chan string {
	ch := make(chan string, len(fragments))
	for _, f := range fragments {
		ch <- f
	}
	close(ch)
	return ch
}

// collect drains the audio channel until it closes, failing the test if that
// takes longer than five seconds.
func collect(t *testing.T, audioCh <-chan []byte) []byte {
	t.Helper()
	var out []byte
	timeout := time.After(5 * time.Second)
	for {
		select {
		case chunk, ok := <-audioCh:
			if !ok {
				return out
			}
			out = append(out, chunk...)
		case <-timeout:
			t.Fatal("timed out draining audio channel")
		}
	}
}

// patternPCM builds n mono samples with a deterministic ramp.
func patternPCM(n int) []int16 {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(i%2000 - 1000)
	}
	return samples
}

// ---- constructor ----

func TestNew_EmptyServerURL(t *testing.T) {
	_, err := New("")
	if err == nil {
		t.Error("expected error for empty server URL")
	}
}

func TestNew_Defaults(t *testing.T) {
	p, err := New("http://localhost:5002/")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.apiMode != APIModeStandard {
		t.Errorf("expected default API mode %q, got %q", APIModeStandard, p.apiMode)
	}
	if p.language != defaultLanguage {
		t.Errorf("expected default language %q, got %q", defaultLanguage, p.language)
	}
	if p.SampleRate() != 16000 {
		t.Errorf("expected default sample rate 16000, got %d", p.SampleRate())
	}
	if p.serverURL != "http://localhost:5002" {
		t.Errorf("expected trailing slash to be trimmed, got %q", p.serverURL)
	}
}

func TestNew_RejectsInvalidOutputRate(t *testing.T) {
	_, err := New("http://localhost:5002", WithOutputSampleRate(0))
	if err == nil {
		t.Error("expected error for zero output sample rate")
	}
}

// ---- standard mode synthesis ----

func TestSynthesizeStream_StandardMode(t *testing.T) {
	source := audio.PCM16ToBytes(patternPCM(320))

	var gotQuery struct {
		text     string
		speaker  string
		language string
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tts" {
			t.Errorf("expected path /api/tts, got %s", r.URL.Path)
		}
		q := r.URL.Query()
		gotQuery.text = q.Get("text")
		gotQuery.speaker = q.Get("speaker_id")
		gotQuery.language = q.Get("language_id")
		w.Write(audio.EncodeWAV(source, 16000, 1))
	}))
	defer srv.Close()

	p, err := New(srv.URL, WithLanguage("de"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	audioCh, err := p.SynthesizeStream(context.Background(), feedText("Guten Tag."), tts.VoiceProfile{ID: "speaker0"})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	got := collect(t, audioCh)

	if gotQuery.text != "Guten Tag." {
		t.Errorf("expected text query 'Guten Tag.', got %q", gotQuery.text)
	}
	if gotQuery.speaker != "speaker0" {
		t.Errorf("expected speaker_id 'speaker0', got %q", gotQuery.speaker)
	}
	if gotQuery.language != "de" {
		t.Errorf("expected language_id 'de', got %q", gotQuery.language)
	}
	// Source is already mono 16 kHz, so the PCM passes through unchanged.
	if !bytes.Equal(got, source) {
		t.Errorf("expected %d passthrough PCM bytes, got %d", len(source), len(got))
	}
}

func TestSynthesizeStream_OneRequestPerSentence(t *testing.T) {
	var mu sync.Mutex
	var texts []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		texts = append(texts, r.URL.Query().Get("text"))
		mu.Unlock()
		w.Write(audio.EncodeWAV(audio.PCM16ToBytes(patternPCM(16)), 16000, 1))
	}))
	defer srv.Close()

	p, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	audioCh, err := p.SynthesizeStream(context.Background(), feedText("One. Two."), tts.VoiceProfile{})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	collect(t, audioCh)

	mu.Lock()
	defer mu.Unlock()
	// Requests are dispatched concurrently, so compare as a set.
	sort.Strings(texts)
	if len(texts) != 2 || texts[0] != "One." || texts[1] != "Two." {
		t.Errorf("expected one request per sentence, got %v", texts)
	}
}

// ---- XTTS mode synthesis ----

func TestSynthesizeStream_XTTSMode(t *testing.T) {
	var gotBody ttsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tts_to_audio/" {
			t.Errorf("expected path /tts_to_audio/, got %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		w.Write(audio.EncodeWAV(audio.PCM16ToBytes(patternPCM(16)), 16000, 1))
	}))
	defer srv.Close()

	p, err := New(srv.URL, WithAPIMode(APIModeXTTS), WithLanguage("en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	audioCh, err := p.SynthesizeStream(context.Background(), feedText("Hello."), tts.VoiceProfile{ID: "claribel"})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	collect(t, audioCh)

	if gotBody.Text != "Hello." {
		t.Errorf("expected text 'Hello.', got %q", gotBody.Text)
	}
	if gotBody.SpeakerWav != "claribel" {
		t.Errorf("expected speaker_wav 'claribel', got %q", gotBody.SpeakerWav)
	}
	if gotBody.Language != "en" {
		t.Errorf("expected language 'en', got %q", gotBody.Language)
	}
}

func TestSynthesizeStream_XTTSRequiresVoiceID(t *testing.T) {
	p, err := New("http://localhost:8002", WithAPIMode(APIModeXTTS))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.SynthesizeStream(context.Background(), feedText("Hi."), tts.VoiceProfile{})
	if err == nil {
		t.Error("expected error for missing voice ID in XTTS mode")
	}
}

// ---- PCM normalisation ----

func TestSynthesizeStream_ResamplesToOutputRate(t *testing.T) {
	source := patternPCM(2205) // 100 ms at 22050 Hz
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(audio.EncodeWAV(audio.PCM16ToBytes(source), 22050, 1))
	}))
	defer srv.Close()

	p, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	audioCh, err := p.SynthesizeStream(context.Background(), feedText("Resample me."), tts.VoiceProfile{})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	got := collect(t, audioCh)

	res, err := audio.NewResampler(22050, 16000)
	if err != nil {
		t.Fatalf("NewResampler: %v", err)
	}
	want := audio.PCM16ToBytes(res.Resample(source))
	if !bytes.Equal(got, want) {
		t.Errorf("expected %d resampled bytes, got %d", len(want), len(got))
	}
}

func TestSynthesizeStream_DownmixesStereo(t *testing.T) {
	// Interleaved stereo with identical channels.
	mono := patternPCM(160)
	stereo := make([]int16, 0, len(mono)*2)
	for _, s := range mono {
		stereo = append(stereo, s, s)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(audio.EncodeWAV(audio.PCM16ToBytes(stereo), 16000, 2))
	}))
	defer srv.Close()

	p, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	audioCh, err := p.SynthesizeStream(context.Background(), feedText("Stereo."), tts.VoiceProfile{})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	got := collect(t, audioCh)

	want := audio.PCM16ToBytes(mono)
	if !bytes.Equal(got, want) {
		t.Errorf("expected %d downmixed bytes, got %d", len(want), len(got))
	}
}

func TestSynthesizeStream_ServerErrorClosesStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	audioCh, err := p.SynthesizeStream(context.Background(), feedText("Fail."), tts.VoiceProfile{})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	if got := collect(t, audioCh); len(got) != 0 {
		t.Errorf("expected no audio on server error, got %d bytes", len(got))
	}
}

// ---- ListVoices ----

func TestListVoices_StandardMultiSpeaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/details" {
			t.Errorf("expected path /details, got %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(detailsResponse{
			ModelName: "tts_models/en/vctk/vits",
			Language:  "en",
			Speakers:  []string{"p301", "p225"},
		})
	}))
	defer srv.Close()

	p, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 2 {
		t.Fatalf("expected 2 voices, got %d", len(voices))
	}
	// Sorted for deterministic output.
	if voices[0].ID != "p225" || voices[1].ID != "p301" {
		t.Errorf("expected sorted speakers [p225 p301], got [%s %s]", voices[0].ID, voices[1].ID)
	}
	if voices[0].Provider != "coqui" {
		t.Errorf("expected provider 'coqui', got %q", voices[0].Provider)
	}
	if voices[0].Metadata["model_name"] != "tts_models/en/vctk/vits" {
		t.Errorf("expected model_name metadata, got %v", voices[0].Metadata)
	}
}

func TestListVoices_StandardSingleSpeaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(detailsResponse{
			ModelName: "tts_models/en/ljspeech/tacotron2-DDC",
			Language:  "en",
		})
	}))
	defer srv.Close()

	p, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 1 {
		t.Fatalf("expected 1 voice, got %d", len(voices))
	}
	if voices[0].ID != "tts_models/en/ljspeech/tacotron2-DDC" {
		t.Errorf("expected model name as voice ID, got %q", voices[0].ID)
	}
	if voices[0].Metadata["type"] != "single-speaker" {
		t.Errorf("expected type 'single-speaker', got %q", voices[0].Metadata["type"])
	}
}

func TestListVoices_XTTS(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/studio_speakers" {
			t.Errorf("expected path /studio_speakers, got %s", r.URL.Path)
		}
		w.Write([]byte(`{"Zoe Kramer": {}, "Alan Pike": {}}`))
	}))
	defer srv.Close()

	p, err := New(srv.URL, WithAPIMode(APIModeXTTS))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 2 {
		t.Fatalf("expected 2 voices, got %d", len(voices))
	}
	if voices[0].Name != "Alan Pike" || voices[1].Name != "Zoe Kramer" {
		t.Errorf("expected sorted voices, got [%s %s]", voices[0].Name, voices[1].Name)
	}
	if voices[0].Metadata["type"] != "studio" {
		t.Errorf("expected type 'studio', got %q", voices[0].Metadata["type"])
	}
}

func TestListVoices_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.ListVoices(context.Background()); err == nil {
		t.Error("expected error for HTTP 503")
	}
}
