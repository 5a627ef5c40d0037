// arenacheck is a deploy-time probe: it hits /healthz over HTTP and, when a
// match id is given, confirms the event stream delivers its snapshot frame.
package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/valyala/fasthttp"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/chess-arena/pkg/arenadto"
)

func main() {
	baseURL := os.Getenv("ARENA_BASE_URL")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}

	client := &fasthttp.Client{
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(baseURL + "/healthz")
	req.Header.SetMethod(fasthttp.MethodGet)
	if err := client.DoTimeout(req, resp, 5*time.Second); err != nil {
		log.Fatalf("/healthz error: %v", err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		log.Fatalf("/healthz status: %d", resp.StatusCode())
	}
	log.Printf("/healthz ok: %s", resp.Body())

	matchID := os.Getenv("ARENA_MATCH_ID")
	if matchID == "" {
		log.Println("ARENA_MATCH_ID not set; skipping event stream check")
		return
	}

	wsURL := os.Getenv("ARENA_WS_URL")
	if wsURL == "" {
		wsURL = "ws://127.0.0.1:8080"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL+"/api/matches/"+matchID+"/events", &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		log.Fatalf("events dial error: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	var ev arenadto.Event
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		log.Fatalf("events read error: %v", err)
	}
	if ev.Type != arenadto.EventState {
		log.Fatalf("expected state frame first, got %q", ev.Type)
	}
	log.Printf("events ok: match=%s seq=%d", ev.MatchID, ev.Seq)
}
