package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Config holds the benchmark settings
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	amount      string
)

// Metrics
var (
	totalRequests uint64
	created201    uint64
	conflict409   uint64
	rejected422   uint64
	limited429    uint64
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
	flag.StringVar(&amount, "amount", "1", "Amount paid per request")
}

type payment struct {
	ID string `json:"id"`
}

type statement struct {
	Payments []payment `json:"payments"`
}

type studentSummary struct {
	ID string `json:"id"`
}

func main() {
	flag.Parse()
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s", workload, concurrency, duration)
	log.Printf("Run the API with RATE_LIMIT_ATTEMPTS=0, or most requests will be answered 429")

	client := &http.Client{Timeout: 5 * time.Second}
	ids, err := loadPaymentIDs(client)
	if err != nil {
		log.Fatalf("Unable to load payments: %v", err)
	}
	if len(ids) == 0 {
		log.Fatal("No payments found; run the seeder first")
	}
	log.Printf("Loaded %d payments", len(ids))

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		g.Go(func() error {
			worker(ctx, client, ids)
			return nil
		})
	}
	g.Wait()
	printResults(time.Since(start))
}

// loadPaymentIDs collects payment ids through the admin and student endpoints.
func loadPaymentIDs(client *http.Client) ([]string, error) {
	var students []studentSummary
	if err := getJSON(client, "/api/v1/admin/students", &students); err != nil {
		return nil, err
	}
	var ids []string
	for _, s := range students {
		var st statement
		if err := getJSON(client, "/api/v1/students/"+s.ID+"/payments", &st); err != nil {
			return nil, err
		}
		for _, p := range st.Payments {
			ids = append(ids, p.ID)
		}
		if len(ids) >= 5000 {
			break
		}
	}
	return ids, nil
}

func getJSON(client *http.Client, path string, out interface{}) error {
	resp, err := client.Get(targetURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func worker(ctx context.Context, client *http.Client, ids []string) {
	body, _ := json.Marshal(map[string]string{"amount": amount, "method": "benchmark"})

	for ctx.Err() == nil {
		id := pickPayment(ids)
		req, _ := http.NewRequestWithContext(ctx, "POST", targetURL+"/api/v1/payments/"+id+"/pay", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() == nil {
				atomic.AddUint64(&failOther, 1)
			}
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case 201:
			atomic.AddUint64(&created201, 1)
		case 409:
			atomic.AddUint64(&conflict409, 1)
		case 422:
			atomic.AddUint64(&rejected422, 1)
		case 429:
			atomic.AddUint64(&limited429, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

func pickPayment(ids []string) string {
	if workload == "hotspot" {
		// Hotspot: 90% of traffic goes to the first payment
		if rand.Float32() < 0.90 {
			return ids[0]
		}
	}
	return ids[rand.Intn(len(ids))]
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	c409 := atomic.LoadUint64(&conflict409)

	var abortRate float64
	if total > 0 {
		abortRate = float64(c409) / float64(total) * 100
	}

	results := map[string]interface{}{
		"workload":        workload,
		"duration_sec":    d.Seconds(),
		"total_requests":  total,
		"throughput_tps":  float64(total) / d.Seconds(),
		"created":         atomic.LoadUint64(&created201),
		"aborts_conflict": c409,
		"abort_rate_pct":  abortRate,
		"rejected":        atomic.LoadUint64(&rejected422),
		"rate_limited":    atomic.LoadUint64(&limited429),
		"errors":          atomic.LoadUint64(&failOther),
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		log.Printf("Unable to write %s: %v", filename, err)
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
