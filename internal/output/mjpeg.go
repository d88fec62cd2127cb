package output

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"sync"
	"time"

	"github.com/bryanchriswhite/renderview/internal/logger"
)

// MJPEGOutput streams the latest frame as Motion JPEG over HTTP. Frames are
// encoded at most FPS times per second, and only when a new one arrived.
type MJPEGOutput struct {
	config  Config
	running bool
	mu      sync.RWMutex
	stop    chan struct{}
	done    chan struct{}

	// Latest frame handed over by the viewer
	frameMu    sync.Mutex
	pending    *image.RGBA
	lastUpdate time.Time
	lastJPEG   []byte

	// Connected clients
	clientsMu sync.RWMutex
	clients   map[chan []byte]struct{}

	// Stats
	frameCount uint64
	startTime  time.Time
}

// NewMJPEGOutput creates a new MJPEG stream output
func NewMJPEGOutput(config Config) *MJPEGOutput {
	return &MJPEGOutput{
		config:  config.withDefaults(),
		clients: make(map[chan []byte]struct{}),
	}
}

// Start launches the encoder. The HTTP handler is registered separately
// via StreamHandler.
func (m *MJPEGOutput) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("MJPEG output already running")
	}

	m.running = true
	m.startTime = time.Now()
	m.frameCount = 0
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.encodeLoop(m.stop, m.done)

	logger.WithComponent("mjpeg").Info().
		Int("fps", m.config.FPS).
		Int("quality", m.config.Quality).
		Msg("MJPEG output started")
	return nil
}

// Stop cleanly shuts down the output
func (m *MJPEGOutput) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	close(m.stop)
	done := m.done
	frames := m.frameCount
	m.mu.Unlock()
	<-done

	// Close all client connections
	m.clientsMu.Lock()
	for ch := range m.clients {
		close(ch)
	}
	m.clients = make(map[chan []byte]struct{})
	m.clientsMu.Unlock()

	logger.WithComponent("mjpeg").Info().Uint64("frames", frames).Msg("MJPEG output stopped")
	return nil
}

// WriteFrame replaces the frame waiting to be encoded.
func (m *MJPEGOutput) WriteFrame(img *image.RGBA) error {
	if !m.IsRunning() {
		return fmt.Errorf("MJPEG output not running")
	}
	m.frameMu.Lock()
	m.pending = img
	m.lastUpdate = time.Now()
	m.frameMu.Unlock()
	return nil
}

// Name returns the output type name
func (m *MJPEGOutput) Name() string {
	return "MJPEG HTTP Stream"
}

// IsRunning returns true if the output is active
func (m *MJPEGOutput) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// Clients returns the number of connected stream clients.
func (m *MJPEGOutput) Clients() int {
	m.clientsMu.RLock()
	defer m.clientsMu.RUnlock()
	return len(m.clients)
}

// Frames returns the number of frames encoded since Start.
func (m *MJPEGOutput) Frames() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.frameCount
}

func (m *MJPEGOutput) encodeLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	log := logger.WithComponent("mjpeg")

	ticker := time.NewTicker(time.Second / time.Duration(m.config.FPS))
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		m.frameMu.Lock()
		img := m.pending
		m.pending = nil
		m.frameMu.Unlock()
		if img == nil {
			continue
		}

		data, err := EncodeJPEG(img, m.config.Quality)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to encode frame")
			continue
		}

		m.frameMu.Lock()
		m.lastJPEG = data
		m.frameMu.Unlock()

		m.mu.Lock()
		m.frameCount++
		m.mu.Unlock()

		m.broadcast(data)
	}
}

func (m *MJPEGOutput) broadcast(data []byte) {
	m.clientsMu.RLock()
	defer m.clientsMu.RUnlock()
	for ch := range m.clients {
		select {
		case ch <- data:
		default:
			// Client is slow, skip this frame
		}
	}
}

// EncodeJPEG encodes img at the given quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}
	return buf.Bytes(), nil
}

// StreamHandler serves the multipart stream. Mount it at /stream.
func (m *MJPEGOutput) StreamHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.WithComponent("mjpeg")

		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")
		w.Header().Set("Connection", "close")

		frameChan := make(chan []byte, 2)

		// New clients get the last frame right away instead of waiting
		// for the next change.
		m.frameMu.Lock()
		if m.lastJPEG != nil {
			frameChan <- m.lastJPEG
		}
		m.frameMu.Unlock()

		m.clientsMu.Lock()
		m.clients[frameChan] = struct{}{}
		clientCount := len(m.clients)
		m.clientsMu.Unlock()

		log.Info().Int("clients", clientCount).Msg("Stream client connected")

		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}

		defer func() {
			m.clientsMu.Lock()
			delete(m.clients, frameChan)
			clientCount := len(m.clients)
			m.clientsMu.Unlock()
			log.Info().Int("clients", clientCount).Msg("Stream client disconnected")
		}()

		for {
			var jpegData []byte
			var ok bool
			select {
			case <-r.Context().Done():
				return
			case jpegData, ok = <-frameChan:
				if !ok {
					return
				}
			}

			if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(jpegData)); err != nil {
				return
			}
			if _, err := w.Write(jpegData); err != nil {
				return
			}
			if _, err := fmt.Fprintf(w, "\r\n"); err != nil {
				return
			}
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
	}
}

// ViewerHandler serves a page showing the stream. Pointer and key input on
// the image is forwarded over the /api/input websocket in image pixels.
func (m *MJPEGOutput) ViewerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(viewerHTML))
	}
}

const viewerHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>RenderView</title>
    <style>
        body { margin: 0; background: #202020; display: flex; justify-content: center; align-items: center; min-height: 100vh; }
        img { max-width: 100vw; max-height: 100vh; object-fit: contain; user-select: none; }
    </style>
</head>
<body>
    <img id="view" src="/stream" alt="RenderView" draggable="false">
    <script>
        const img = document.getElementById('view');
        const ws = new WebSocket('ws://' + location.host + '/api/input');
        const buttons = {0: 1, 1: 2, 2: 3};
        function pos(e) {
            const r = img.getBoundingClientRect();
            return {
                x: (e.clientX - r.left) * img.naturalWidth / r.width,
                y: (e.clientY - r.top) * img.naturalHeight / r.height,
            };
        }
        function send(ev) { if (ws.readyState === 1) ws.send(JSON.stringify(ev)); }
        img.addEventListener('mousedown', e => { const p = pos(e); send({kind: 1, button: buttons[e.button], x: p.x, y: p.y}); e.preventDefault(); });
        img.addEventListener('mouseup', e => { const p = pos(e); send({kind: 2, button: buttons[e.button], x: p.x, y: p.y}); });
        img.addEventListener('mousemove', e => { const p = pos(e); send({kind: 3, x: p.x, y: p.y}); });
        img.addEventListener('contextmenu', e => e.preventDefault());
        document.addEventListener('keydown', e => {
            if (['ArrowLeft', 'ArrowRight', 'Delete', 'Escape'].includes(e.key)) {
                send({kind: 5, key: e.key.replace('Arrow', '')});
            } else if (e.key === 'r') {
                fetch('/api/region/arm', {method: 'POST'});
            } else if (e.key === 's') {
                fetch('/api/snapshots', {method: 'POST'});
            }
        });
    </script>
</body>
</html>`
