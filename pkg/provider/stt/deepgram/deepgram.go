// Package deepgram provides a Deepgram-backed STT provider using the
// Deepgram streaming WebSocket API. It implements the stt.Provider interface.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/auricle-audio/auricle/pkg/provider/stt"
	"github.com/coder/websocket"
)

const (
	deepgramEndpoint  = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000
)

// Control messages understood by the Deepgram streaming endpoint.
const (
	keepAliveMsg   = `{"type":"KeepAlive"}`
	closeStreamMsg = `{"type":"CloseStream"}`
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithEndpoint overrides the streaming endpoint URL. Intended for tests and
// self-hosted Deepgram deployments.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey   string
	endpoint string
	model    string
	language string
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		endpoint: deepgramEndpoint,
		model:    defaultModel,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a streaming transcription connection with Deepgram.
// ctx bounds connection establishment only.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.StreamHandle, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	s := &stream{
		conn:     conn,
		interims: make(chan stt.Transcript, 64),
		finals:   make(chan stt.Transcript, 64),
		done:     make(chan struct{}),
	}

	s.wg.Add(1)
	go s.readLoop()

	return s, nil
}

// buildURL constructs the Deepgram streaming endpoint URL for the given config.
func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = defaultSampleRate
	}
	ch := cfg.Channels
	if ch == 0 {
		ch = 1
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sr))
	q.Set("channels", strconv.Itoa(ch))
	if cfg.Diarize {
		q.Set("diarize", "true")
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- stream ----

// deepgramResponse is the JSON structure returned by Deepgram for a Results
// event. Other event types (Metadata, UtteranceEnd, Error) share the Type
// and Description fields.
type deepgramResponse struct {
	Type        string `json:"type"`
	IsFinal     bool   `json:"is_final"`
	Description string `json:"description"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word       string  `json:"word"`
				Start      float64 `json:"start"`
				End        float64 `json:"end"`
				Confidence float64 `json:"confidence"`
				Speaker    *int    `json:"speaker"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// stream is a live Deepgram streaming connection. It implements
// stt.StreamHandle.
type stream struct {
	conn     *websocket.Conn
	interims chan stt.Transcript
	finals   chan stt.Transcript

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	// writeMu serialises writes; coder/websocket allows one concurrent
	// writer only.
	writeMu sync.Mutex
}

// SendAudio writes a binary PCM frame to Deepgram.
func (s *stream) SendAudio(chunk []byte) error {
	return s.write(websocket.MessageBinary, chunk)
}

// Ping sends a KeepAlive control message so Deepgram does not reap the
// connection during genuine silence.
func (s *stream) Ping() error {
	return s.write(websocket.MessageText, []byte(keepAliveMsg))
}

func (s *stream) write(typ websocket.MessageType, payload []byte) error {
	select {
	case <-s.done:
		return errors.New("deepgram: stream is closed")
	default:
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.Write(context.Background(), typ, payload); err != nil {
		return fmt.Errorf("deepgram: write: %w", err)
	}
	return nil
}

// Interims returns the channel of interim transcripts.
func (s *stream) Interims() <-chan stt.Transcript { return s.interims }

// Finals returns the channel of final transcripts.
func (s *stream) Finals() <-chan stt.Transcript { return s.finals }

// Close terminates the stream cleanly, asking Deepgram to flush pending
// audio first. Safe to call multiple times.
func (s *stream) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		_ = s.conn.Write(context.Background(), websocket.MessageText, []byte(closeStreamMsg))
		s.writeMu.Unlock()
		_ = s.conn.Close(websocket.StatusNormalClosure, "stream closed")
		s.wg.Wait()
	})
	return nil
}

// readLoop receives JSON messages from Deepgram and dispatches them to the
// interims and finals channels. It exits — closing both channels — when the
// connection is closed, locally or by the provider.
func (s *stream) readLoop() {
	defer s.wg.Done()
	defer close(s.interims)
	defer close(s.finals)

	for {
		_, msg, err := s.conn.Read(context.Background())
		if err != nil {
			// Normal close or broken connection; the owner of the handle
			// decides whether this is a failure.
			return
		}

		t, ok := parseResponse(msg)
		if !ok {
			continue
		}

		out := s.interims
		if t.IsFinal {
			out = s.finals
		}
		select {
		case out <- t:
		case <-s.done:
			return
		}
	}
}

// parseResponse parses a raw Deepgram WebSocket message into a Transcript.
// Returns (zero, false) for messages that should be ignored. Application
// errors reported by the provider are logged here and ignored: the
// connection itself is healthy, so they must not look like a disconnect.
func parseResponse(data []byte) (stt.Transcript, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		slog.Debug("deepgram: unparseable message", "err", err)
		return stt.Transcript{}, false
	}
	if resp.Type == "Error" {
		slog.Warn("deepgram: provider error event", "description", resp.Description)
		return stt.Transcript{}, false
	}
	if resp.Type != "Results" {
		return stt.Transcript{}, false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return stt.Transcript{}, false
	}

	alt := resp.Channel.Alternatives[0]
	speaker := stt.SpeakerUnknown
	words := make([]stt.WordDetail, 0, len(alt.Words))
	for i, w := range alt.Words {
		ws := stt.SpeakerUnknown
		if w.Speaker != nil {
			ws = *w.Speaker
			if i == 0 {
				// The fragment's speaker is the first diarized word's speaker.
				speaker = ws
			}
		}
		words = append(words, stt.WordDetail{
			Word:       w.Word,
			Start:      time.Duration(w.Start * float64(time.Second)),
			End:        time.Duration(w.End * float64(time.Second)),
			Confidence: w.Confidence,
			Speaker:    ws,
		})
	}

	return stt.Transcript{
		Text:       alt.Transcript,
		IsFinal:    resp.IsFinal,
		Confidence: alt.Confidence,
		Speaker:    speaker,
		Words:      words,
		Received:   time.Now(),
	}, true
}
