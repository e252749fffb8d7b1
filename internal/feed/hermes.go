package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/alanyoungcy/urbanium/internal/domain"
)

// HermesClient fetches the latest parsed prices from a Hermes-compatible
// price service. Requests go through a circuit breaker so a failing
// upstream is not hammered every tick.
type HermesClient struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewHermesClient creates a client for baseURL, e.g. "https://hermes.pyth.network".
func NewHermesClient(baseURL string, timeout time.Duration) *HermesClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	st := gobreaker.Settings{
		Name:     "hermes",
		Interval: 60 * time.Second,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= 3 {
				return true
			}
			if counts.Requests < 20 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) > 0.05
		},
	}
	return &HermesClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(st),
	}
}

type hermesPrice struct {
	Price       string `json:"price"`
	Conf        string `json:"conf"`
	Expo        int32  `json:"expo"`
	PublishTime int64  `json:"publish_time"`
}

type hermesParsed struct {
	ID    string      `json:"id"`
	Price hermesPrice `json:"price"`
}

type hermesResponse struct {
	Parsed []hermesParsed `json:"parsed"`
}

// Latest returns the newest observation for each requested feed that the
// upstream knows about. Feeds missing from the response are omitted.
func (c *HermesClient) Latest(ctx context.Context, feeds []domain.ID) (map[domain.ID]domain.Observation, error) {
	out, err := c.breaker.Execute(func() (any, error) {
		return c.fetch(ctx, feeds)
	})
	if err != nil {
		return nil, fmt.Errorf("feed: hermes latest: %w", err)
	}
	return out.(map[domain.ID]domain.Observation), nil
}

func (c *HermesClient) fetch(ctx context.Context, feeds []domain.ID) (map[domain.ID]domain.Observation, error) {
	q := url.Values{}
	for _, id := range feeds {
		q.Add("ids[]", id.Hex())
	}
	q.Set("parsed", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v2/updates/price/latest?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded hermesResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	out := make(map[domain.ID]domain.Observation, len(decoded.Parsed))
	for _, p := range decoded.Parsed {
		id, err := domain.ParseID(p.ID)
		if err != nil {
			return nil, err
		}
		obs, err := p.Price.observation()
		if err != nil {
			return nil, fmt.Errorf("feed %s: %w", id, err)
		}
		out[id] = obs
	}
	return out, nil
}

func (p hermesPrice) observation() (domain.Observation, error) {
	price, err := strconv.ParseInt(p.Price, 10, 64)
	if err != nil {
		return domain.Observation{}, fmt.Errorf("price %q: %w", p.Price, err)
	}
	conf, err := strconv.ParseUint(p.Conf, 10, 64)
	if err != nil {
		return domain.Observation{}, fmt.Errorf("conf %q: %w", p.Conf, err)
	}
	return domain.Observation{Price: price, Conf: conf, Expo: p.Expo, PublishTime: p.PublishTime}, nil
}
