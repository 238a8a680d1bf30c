package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// event matches httpapi's debugVoiceEvent body.
type event struct {
	UserID       string `json:"userId"`
	OldChannelID string `json:"oldChannelId"`
	NewChannelID string `json:"newChannelId"`
	DisplayName  string `json:"displayName"`
	ActivityName string `json:"activityName"`
}

func send(client *http.Client, url string, evt event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	req, err := http.NewRequest("POST", url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	fmt.Printf("%s: %s %s\n", evt.UserID, resp.Status, string(body))
	return nil
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "voiceengine admin base URL")
	channel := flag.String("channel", "voice-channel-1", "voice channel id to join")
	game := flag.String("game", "", "playing activity name, empty for a general-lobby join")
	users := flag.Int("users", 2, "number of synthetic users to join the channel")
	leaveAfter := flag.Duration("leave-after", 0, "if set, also send a leave event after this delay")
	flag.Parse()

	url := *baseURL + "/api/v1/debug/voice-events"
	client := &http.Client{Timeout: 5 * time.Second}

	for i := 0; i < *users; i++ {
		evt := event{
			UserID:       fmt.Sprintf("seed-user-%d", i),
			NewChannelID: *channel,
			DisplayName:  fmt.Sprintf("Seed User %d", i),
			ActivityName: *game,
		}
		if err := send(client, url, evt); err != nil {
			log.Fatalf("failed to send join for %s: %v", evt.UserID, err)
		}
	}

	if *leaveAfter <= 0 {
		return
	}
	time.Sleep(*leaveAfter)
	for i := 0; i < *users; i++ {
		evt := event{
			UserID:       fmt.Sprintf("seed-user-%d", i),
			OldChannelID: *channel,
		}
		if err := send(client, url, evt); err != nil {
			log.Fatalf("failed to send leave for %s: %v", evt.UserID, err)
		}
	}
}
