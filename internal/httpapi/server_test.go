package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mvirga/parlo/internal/cefr"
	"github.com/mvirga/parlo/internal/config"
	"github.com/mvirga/parlo/internal/observability"
	"github.com/mvirga/parlo/internal/protocol"
	"github.com/mvirga/parlo/internal/records"
	"github.com/mvirga/parlo/internal/transcript"
)

func testMetrics(prefix string) *observability.Metrics {
	return observability.NewMetrics(fmt.Sprintf("parlo_test_%s_%d", prefix, time.Now().UnixNano()))
}

// echoOrchestrator answers every start with session_started and ignores
// everything else. Enough to exercise the websocket plumbing.
type echoOrchestrator struct{}

func (echoOrchestrator) RunConnection(ctx context.Context, _ string, inbound <-chan any, outbound chan<- any) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			if start, isStart := msg.(protocol.Start); isStart {
				outbound <- protocol.SessionStarted{
					Type:      protocol.TypeSessionStarted,
					SessionID: start.SessionID,
					Language:  start.Language,
					Level:     start.Level,
					Mode:      "free-practice",
				}
			}
		}
	}
}

func newTestServer(t *testing.T, cfg config.Config, prefix string) (*httptest.Server, *records.InMemoryStore) {
	t.Helper()
	store := records.NewInMemoryStore()
	srv := New(cfg, echoOrchestrator{}, store, testMetrics(prefix))
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, store
}

func TestHealthAndReady(t *testing.T) {
	ts, _ := newTestServer(t, config.Config{}, "health")

	for _, path := range []string{"/healthz", "/readyz"} {
		res, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d, want %d", path, res.StatusCode, http.StatusOK)
		}
	}
}

func TestGetRecord(t *testing.T) {
	ts, store := newTestServer(t, config.Config{}, "record")

	res, err := http.Get(ts.URL + "/v1/practice/records/missing")
	if err != nil {
		t.Fatalf("GET record error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("missing record status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}

	rec := records.PracticeRecord{
		SessionID:   "sess-1",
		PrincipalID: "user-1",
		Language:    "it",
		Level:       cefr.LevelB1,
		Mode:        "free-practice",
		StartedAt:   time.Now().Add(-time.Minute),
	}
	if err := store.CreatePracticeRecord(context.Background(), rec); err != nil {
		t.Fatalf("CreatePracticeRecord error = %v", err)
	}

	res, err = http.Get(ts.URL + "/v1/practice/records/sess-1")
	if err != nil {
		t.Fatalf("GET record error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("record status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	var got records.PracticeRecord
	if err := json.NewDecoder(res.Body).Decode(&got); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if got.SessionID != "sess-1" || got.Language != "it" || got.Level != cefr.LevelB1 {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestGetRecordAudio(t *testing.T) {
	ts, store := newTestServer(t, config.Config{}, "audio")

	rec := records.PracticeRecord{
		SessionID:   "sess-audio",
		PrincipalID: "user-1",
		Language:    "es",
		Level:       cefr.LevelA2,
		Mode:        "free-practice",
		StartedAt:   time.Now().Add(-time.Minute),
	}
	if err := store.CreatePracticeRecord(context.Background(), rec); err != nil {
		t.Fatalf("CreatePracticeRecord error = %v", err)
	}

	res, err := http.Get(ts.URL + "/v1/practice/records/sess-audio/audio")
	if err != nil {
		t.Fatalf("GET audio error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("no-audio status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}

	pcm1 := []byte{1, 2, 3, 4}
	pcm2 := []byte{5, 6}
	final := rec
	final.EndedAt = time.Now()
	final.DurationSeconds = 60
	final.AudioSegments = []transcript.AudioSegment{
		{AudioBase64: base64.StdEncoding.EncodeToString(pcm1), TimestampMS: 0},
		{AudioBase64: base64.StdEncoding.EncodeToString(pcm2), TimestampMS: 250},
	}
	if err := store.FinalizePracticeRecord(context.Background(), final); err != nil {
		t.Fatalf("FinalizePracticeRecord error = %v", err)
	}

	res, err = http.Get(ts.URL + "/v1/practice/records/sess-audio/audio")
	if err != nil {
		t.Fatalf("GET audio error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("audio status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if ct := res.Header.Get("Content-Type"); ct != "audio/wav" {
		t.Fatalf("content type = %q, want %q", ct, "audio/wav")
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read audio body: %v", err)
	}
	if len(body) != 44+len(pcm1)+len(pcm2) {
		t.Fatalf("wav length = %d, want %d", len(body), 44+len(pcm1)+len(pcm2))
	}
	if string(body[:4]) != "RIFF" || string(body[8:12]) != "WAVE" {
		t.Fatalf("not a wav container: % x", body[:12])
	}
	if string(body[44:]) != string(append(append([]byte{}, pcm1...), pcm2...)) {
		t.Fatalf("wav payload does not match concatenated segments")
	}
}

func TestGetPlacement(t *testing.T) {
	ts, store := newTestServer(t, config.Config{}, "placement")

	res, err := http.Get(ts.URL + "/v1/placement/user-1/fr")
	if err != nil {
		t.Fatalf("GET placement error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("missing placement status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}

	saved := records.PlacementResult{
		PrincipalID: "user-1",
		Language:    "fr",
		TakenAt:     time.Now(),
		Level:       cefr.LevelB2,
		Score:       71,
	}
	if err := store.SavePlacementResult(context.Background(), saved); err != nil {
		t.Fatalf("SavePlacementResult error = %v", err)
	}

	res, err = http.Get(ts.URL + "/v1/placement/user-1/fr")
	if err != nil {
		t.Fatalf("GET placement error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("placement status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	var got records.PlacementResult
	if err := json.NewDecoder(res.Body).Decode(&got); err != nil {
		t.Fatalf("decode placement: %v", err)
	}
	if got.Level != cefr.LevelB2 || got.Score != 71 {
		t.Fatalf("unexpected placement: %+v", got)
	}
}

func TestPracticeWSRequiresAuthToken(t *testing.T) {
	ts, _ := newTestServer(t, config.Config{AuthToken: "secret"}, "auth")

	res, err := http.Get(ts.URL + "/v1/practice/ws")
	if err != nil {
		t.Fatalf("GET ws error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/practice/ws"
	header := http.Header{"Authorization": []string{"Bearer secret"}}
	conn, handshake, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("dial with token error = %v (status %v)", err, handshake)
	}
	conn.Close()
	handshake.Body.Close()
}

func TestPracticeWSRoundTrip(t *testing.T) {
	ts, _ := newTestServer(t, config.Config{}, "ws")

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/practice/ws"
	conn, handshake, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	defer conn.Close()
	handshake.Body.Close()

	start := protocol.Start{
		Type:        protocol.TypeStart,
		SessionID:   "sess-ws",
		PrincipalID: "user-1",
		Language:    "de",
		Level:       "A2",
	}
	if err := conn.WriteJSON(start); err != nil {
		t.Fatalf("write start: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var started protocol.SessionStarted
	if err := conn.ReadJSON(&started); err != nil {
		t.Fatalf("read session_started: %v", err)
	}
	if started.Type != protocol.TypeSessionStarted || started.SessionID != "sess-ws" || started.Language != "de" {
		t.Fatalf("unexpected session_started: %+v", started)
	}

	// Malformed frames are answered with an error event, not a close.
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus"}`)); err != nil {
		t.Fatalf("write bogus: %v", err)
	}
	var errEvent protocol.ErrorEvent
	if err := conn.ReadJSON(&errEvent); err != nil {
		t.Fatalf("read error event: %v", err)
	}
	if errEvent.Type != protocol.TypeErrorEvent || errEvent.Code != "invalid_client_message" {
		t.Fatalf("unexpected error event: %+v", errEvent)
	}
}
