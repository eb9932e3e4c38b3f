package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/robinglory/lingo-core/core/audio"
	"github.com/robinglory/lingo-core/core/texttospeech"
)

type speakMessage struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

func sendTextMsg(text string) speakMessage { return speakMessage{Type: "Speak", Text: text} }

var (
	flushMsg = speakMessage{Type: "Flush"}
	clearMsg = speakMessage{Type: "Clear"}
	closeMsg = speakMessage{Type: "Close"}
)

// streamingWorker is one live websocket speak session. Sample rate is
// negotiated once through the connection query parameters and never changes
// for the worker's lifetime.
type streamingWorker struct {
	ws *websocket.Conn
	mu sync.Mutex

	options texttospeech.SpeechWorkerOptions

	// markBuffer holds text segments between marks; the head segment is the
	// one currently being synthesized.
	markBuffer   []string
	markBufferMu sync.Mutex

	textComplete bool
	cancelled    bool
	closed       bool
}

func newStreamingWorker(ctx context.Context, client *TextToSpeechClient, opts ...texttospeech.SpeechWorkerOption) (*streamingWorker, error) {
	worker := &streamingWorker{options: texttospeech.DefaultOptions()}
	for _, opt := range opts {
		opt(&worker.options)
	}

	var err error
	if worker.ws, err = connectWebsocket(ctx, client, worker.options.EncodingInfo); err != nil {
		return nil, fmt.Errorf("failed to open websocket: %w", err)
	}

	go worker.processIncomingMessages(ctx)

	return worker, nil
}

func connectWebsocket(ctx context.Context, client *TextToSpeechClient, encodingInfo audio.EncodingInfo) (*websocket.Conn, error) {
	apiKey := client.apiKey
	if apiKey == "" {
		var ok bool
		if apiKey, ok = os.LookupEnv("DEEPGRAM_API_KEY"); !ok {
			return nil, fmt.Errorf("deepgram api key not found")
		}
	}

	urlValues := url.Values{}
	urlValues.Set("encoding", encodingInfo.Format.Name())
	urlValues.Set("sample_rate", strconv.Itoa(encodingInfo.SampleRate))
	urlValues.Set("model", string(client.voice))
	urlValues.Set("container", "none")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx,
		(&url.URL{
			Scheme: "wss",
			Host:   "api.deepgram.com", Path: "/v1/speak",
			RawQuery: urlValues.Encode(),
		}).String(),
		http.Header{"Authorization": {"token " + apiKey}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}

	return conn, nil
}

func (w *streamingWorker) EncodingInfo() audio.EncodingInfo {
	return w.options.EncodingInfo
}

func (w *streamingWorker) processIncomingMessages(ctx context.Context) {
	for {
		msgType, msg, err := w.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && !w.closed && !w.cancelled {
				log.Printf("Websocket read error: %v", err)
				w.options.ErrorCallback(fmt.Errorf("speak websocket read failed: %w", err))
			}
			_ = w.Close()
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			w.options.SpeechAudioCallback(msg)
		case websocket.TextMessage:
			var parsedMsg struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal(msg, &parsedMsg); err != nil {
				continue
			}

			switch parsedMsg.Type {
			case "Flushed":
				w.handleFlushed()
			case "Warning":
				log.Printf("Deepgram speak warning: %s", string(msg))
			}
		}
	}
}

func (w *streamingWorker) handleFlushed() {
	w.markBufferMu.Lock()
	defer w.markBufferMu.Unlock()

	if len(w.markBuffer) > 0 {
		w.options.SpeechMarkCallback(w.markBuffer[0])
		w.markBuffer = w.markBuffer[1:]
	}

	if len(w.markBuffer) == 0 && w.textComplete {
		w.options.SpeechEndedCallback()
		_ = w.Close()
		return
	}

	// Text queued behind the mark goes out only after the flush confirmation;
	// the engine drops text sent immediately after a flush otherwise.
	if len(w.markBuffer) > 0 {
		if err := w.sendWebsocketMessage(sendTextMsg(w.markBuffer[0])); err != nil {
			log.Printf("Failed to send queued speak text: %v", err)
		}
		if err := w.sendWebsocketMessage(flushMsg); err != nil {
			log.Printf("Failed to flush speak buffer: %v", err)
		}
	}
}

func (w *streamingWorker) SendText(text string) error {
	if w.closed {
		return fmt.Errorf("speech worker closed")
	} else if w.cancelled {
		return fmt.Errorf("speech worker cancelled")
	} else if w.textComplete {
		return fmt.Errorf("speech worker text already completed")
	}

	w.markBufferMu.Lock()
	defer w.markBufferMu.Unlock()

	if len(w.markBuffer) == 0 {
		w.markBuffer = append(w.markBuffer, "")
	}

	if len(w.markBuffer) == 1 {
		if err := w.sendWebsocketMessage(sendTextMsg(text)); err != nil {
			return fmt.Errorf("failed to send websocket text message: %w", err)
		}
	}
	w.markBuffer[len(w.markBuffer)-1] += text
	return nil
}

func (w *streamingWorker) Mark() error {
	if w.closed {
		return fmt.Errorf("speech worker closed")
	} else if w.cancelled {
		return fmt.Errorf("speech worker cancelled")
	} else if w.textComplete {
		return fmt.Errorf("speech worker text already completed")
	}

	w.markBufferMu.Lock()
	defer w.markBufferMu.Unlock()

	if len(w.markBuffer) == 1 {
		if err := w.sendWebsocketMessage(flushMsg); err != nil {
			return fmt.Errorf("failed to send websocket flush message: %w", err)
		}
	}

	w.markBuffer = append(w.markBuffer, "")

	return nil
}

func (w *streamingWorker) EndOfText() error {
	if w.closed {
		return fmt.Errorf("speech worker closed")
	} else if w.cancelled {
		return fmt.Errorf("speech worker cancelled")
	}

	w.markBufferMu.Lock()
	defer w.markBufferMu.Unlock()

	if w.textComplete {
		return nil
	}
	w.textComplete = true

	if len(w.markBuffer) == 0 || (len(w.markBuffer) == 1 && w.markBuffer[0] == "") {
		w.markBuffer = nil
		w.options.SpeechEndedCallback()
		return w.closeLocked()
	}

	if len(w.markBuffer) == 1 {
		if err := w.sendWebsocketMessage(flushMsg); err != nil {
			return fmt.Errorf("failed to send websocket flush message: %w", err)
		}
	}

	return nil
}

func (w *streamingWorker) Cancel() error {
	if w.closed {
		return fmt.Errorf("speech worker closed")
	}
	if w.cancelled {
		return nil
	}

	w.cancelled = true
	w.markBufferMu.Lock()
	w.markBuffer = nil
	w.markBufferMu.Unlock()

	if err := w.sendWebsocketMessage(clearMsg); err != nil {
		return fmt.Errorf("failed to clear speak buffer: %w", err)
	}
	return w.Close()
}

func (w *streamingWorker) Close() error {
	w.markBufferMu.Lock()
	defer w.markBufferMu.Unlock()
	return w.closeLocked()
}

func (w *streamingWorker) closeLocked() error {
	if w.closed {
		return nil
	}
	w.closed = true

	_ = w.sendWebsocketMessage(closeMsg)
	if err := w.ws.Close(); err != nil {
		return fmt.Errorf("failed to close speak websocket: %w", err)
	}
	return nil
}

func (w *streamingWorker) sendWebsocketMessage(msg speakMessage) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.ws.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to write to speak websocket: %w", err)
	}
	return nil
}
