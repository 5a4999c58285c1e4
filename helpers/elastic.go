package helpers

import (
	"bytes"
	"encoding/json"
	"log"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
)

type esUser struct {
	Name string `json:"name"`
	IP   string `json:"ip"`
}

type esEvent struct {
	Type     string `json:"type"`
	Category string `json:"category"`
	Target   string `json:"target"`
	Status   string `json:"status"`
}

type esAuditLog struct {
	Timestamp time.Time `json:"@timestamp"`
	User      esUser    `json:"user"`
	Event     esEvent   `json:"event"`
}

type ElasticSearch struct {
	Enabled bool
	Client  *elasticsearch.Client
	Index   string
}

// CreateElasticSearchLog mirrors one audit entry to the configured
// index. Failures are logged, never surfaced to the request path.
func CreateElasticSearchLog(es ElasticSearch, timestamp time.Time, user string, ip string, eventType string, category string, target string, status string) {
	if !es.Enabled {
		return
	}
	audit := &esAuditLog{
		Timestamp: timestamp,
		User: esUser{
			Name: user,
			IP:   ip,
		},
		Event: esEvent{
			Type:     eventType,
			Category: category,
			Target:   target,
			Status:   status,
		},
	}

	data, err := json.Marshal(audit)
	if err != nil {
		log.Println("[ERROR] Error while sending audit log to ElasticSearch")
		log.Println(err)
		return
	}

	res, err := es.Client.Index(es.Index, bytes.NewReader(data))
	if err != nil {
		log.Println("[ERROR] Error while sending audit log to ElasticSearch")
		log.Println(err)
		return
	}

	defer res.Body.Close()
}
