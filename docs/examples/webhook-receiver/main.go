// Hearthline Webhook Receiver Example
//
// A minimal receiver for the waitlist's lead.created and lead.verified
// events. It checks the HMAC signature and the replay window, then logs
// the lead.
//
// Usage:
//   export AUTOMATION_WEBHOOK_SECRET="whsec_your_secret_here"
//   go run main.go
//
// Then set AUTOMATION_WEBHOOK_URL on the API to http://your-server:9000/webhook

package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"
)

const replayWindow = 5 * time.Minute

// LeadEvent is the webhook payload.
type LeadEvent struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       Lead      `json:"data"`
}

// Lead is the subset of the subscriber record this example prints.
type Lead struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	PostalCode string `json:"postal_code"`
	Status     string `json:"status"`
	RiskScore  int    `json:"risk_score"`
}

func main() {
	secret := os.Getenv("AUTOMATION_WEBHOOK_SECRET")
	if secret == "" {
		log.Fatal("AUTOMATION_WEBHOOK_SECRET environment variable is required")
	}

	http.HandleFunc("/webhook", webhookHandler(secret))
	http.HandleFunc("/health", healthHandler)

	log.Println("Starting webhook receiver on :9000")
	log.Fatal(http.ListenAndServe(":9000", nil))
}

func webhookHandler(secret string) http.HandlerFunc {
	// Retries reuse the delivery id; remember the ones already handled.
	var (
		mu   sync.Mutex
		seen = make(map[string]bool)
	)

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			http.Error(w, "Bad request", http.StatusBadRequest)
			return
		}

		if !verifySignature(r.Header.Get("X-Hearthline-Signature"), r.Header.Get("X-Hearthline-Timestamp"), body, secret) {
			log.Println("rejected delivery: bad signature or stale timestamp")
			http.Error(w, "Invalid signature", http.StatusUnauthorized)
			return
		}

		deliveryID := r.Header.Get("X-Hearthline-Delivery-Id")
		mu.Lock()
		dup := seen[deliveryID]
		seen[deliveryID] = true
		mu.Unlock()
		if dup {
			w.WriteHeader(http.StatusOK)
			return
		}

		var event LeadEvent
		if err := json.Unmarshal(body, &event); err != nil {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}

		log.Printf("%s %s <%s> postal=%s status=%s risk=%d",
			event.Type, event.Data.ID, event.Data.Email,
			event.Data.PostalCode, event.Data.Status, event.Data.RiskScore)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "received"})
	}
}

// verifySignature checks hex(HMAC-SHA256(secret, "{timestamp}.{body}")).
func verifySignature(signature, timestamp string, body []byte, secret string) bool {
	if signature == "" || timestamp == "" {
		return false
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	skew := time.Since(time.Unix(ts, 0))
	if skew < -replayWindow || skew > replayWindow {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "."))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(signature), []byte(expected))
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
