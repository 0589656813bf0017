// Benchmark tool for testing Kestrel against labeled case data.
//
// Usage:
//
//	go run cmd/benchmark/main.go -data /path/to/cases.jsonl -url http://localhost:8080
//
// This tool:
//  1. Reads labeled case snapshots (JSONL, one case per line)
//  2. Sends each snapshot to Kestrel for analysis
//  3. Compares Kestrel's verdict (violations found or not) with labels
//  4. Calculates precision, recall, F1-score, and confusion matrix
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// LabeledCase is one line of the benchmark dataset: a case snapshot
// plus the ground-truth label of whether it contains real reporting
// conflicts.
type LabeledCase struct {
	Snapshot      json.RawMessage `json:"snapshot"`
	HasViolations bool            `json:"hasViolations"`
	Label         string          `json:"label,omitempty"`
}

// analyzeResponse is the subset of the API response the benchmark reads.
type analyzeResponse struct {
	Result struct {
		ID         string `json:"id"`
		Violations []struct {
			Kind     string `json:"kind"`
			Severity string `json:"severity"`
		} `json:"violations"`
		Standing struct {
			Verdict   string  `json:"verdict"`
			Composite float64 `json:"composite"`
		} `json:"standing"`
		Complete bool `json:"complete"`
	} `json:"result"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	TruePositives  int64
	FalsePositives int64
	TrueNegatives  int64
	FalseNegatives int64

	TotalProcessed  int64
	TotalPositive   int64
	TotalNegative   int64
	TotalErrors     int64
	TotalIncomplete int64

	ProcessingTimeMs int64
}

func main() {
	dataPath := flag.String("data", "", "Path to labeled cases JSONL file")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	limit := flag.Int("limit", 0, "Maximum cases to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each case result")
	flag.Parse()

	if *dataPath == "" {
		fmt.Println("Usage: benchmark -data /path/to/cases.jsonl [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("KESTREL BENCHMARK - Reconciliation Accuracy")
	fmt.Printf("\nData File:   %s\n", *dataPath)
	fmt.Printf("Kestrel URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("Kestrel is healthy")

	cases, err := readLabeledCases(*dataPath, *limit)
	if err != nil {
		fmt.Printf("ERROR: Failed to read dataset: %v\n", err)
		os.Exit(1)
	}

	positive := 0
	for _, c := range cases {
		if c.HasViolations {
			positive++
		}
	}
	fmt.Printf("Loaded %d cases (%d with violations, %d clean)\n",
		len(cases), positive, len(cases)-positive)

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(cases, *baseURL, *tenantID, *workers, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func readLabeledCases(path string, limit int) ([]LabeledCase, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var cases []LabeledCase
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 1024*1024), 16*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var c LabeledCase
		if err := json.Unmarshal(line, &c); err != nil {
			continue // Skip malformed lines
		}
		cases = append(cases, c)

		if limit > 0 && len(cases) >= limit {
			break
		}
	}

	return cases, scanner.Err()
}

func runBenchmark(cases []LabeledCase, baseURL, tenantID string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan LabeledCase, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 30 * time.Second}

			for c := range work {
				start := time.Now()
				result, err := analyzeCase(client, baseURL, tenantID, c)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", c.Label, err)
					}
					continue
				}

				if c.HasViolations {
					atomic.AddInt64(&metrics.TotalPositive, 1)
				} else {
					atomic.AddInt64(&metrics.TotalNegative, 1)
				}
				if !result.Result.Complete {
					atomic.AddInt64(&metrics.TotalIncomplete, 1)
				}

				predicted := len(result.Result.Violations) > 0
				actual := c.HasViolations

				switch {
				case predicted && actual:
					atomic.AddInt64(&metrics.TruePositives, 1)
				case predicted && !actual:
					atomic.AddInt64(&metrics.FalsePositives, 1)
				case !predicted && !actual:
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				default:
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}

				if verbose {
					mark := "ok"
					if predicted != actual {
						mark = "MISS"
					}
					fmt.Printf("%-4s %-24s | violations: %2d | standing: %-12s | expected: %v\n",
						mark, c.Label, len(result.Result.Violations),
						result.Result.Standing.Verdict, c.HasViolations)
				}
			}
		}()
	}

	for _, c := range cases {
		work <- c
	}
	close(work)

	wg.Wait()

	return metrics
}

func analyzeCase(client *http.Client, baseURL, tenantID string, c LabeledCase) (*analyzeResponse, error) {
	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/analyze", bytes.NewReader(c.Snapshot))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result analyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\nBENCHMARK RESULTS")

	fmt.Printf("\nDataset:\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   With Violations:  %d\n", m.TotalPositive)
	fmt.Printf("   Clean:            %d\n", m.TotalNegative)
	fmt.Printf("   Incomplete:       %d\n", m.TotalIncomplete)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\nConfusion matrix (TP FN / FP TN):\n")
	fmt.Printf("   %8d %8d\n", m.TruePositives, m.FalseNegatives)
	fmt.Printf("   %8d %8d\n", m.FalsePositives, m.TrueNegatives)

	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	accuracy := float64(0)
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}

	fmt.Printf("\nDetection metrics:\n")
	fmt.Printf("   Precision:  %.4f\n", precision)
	fmt.Printf("   Recall:     %.4f\n", recall)
	fmt.Printf("   F1-Score:   %.4f\n", f1)
	fmt.Printf("   Accuracy:   %.4f\n", accuracy)

	fmt.Printf("\nPerformance:\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		cps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f cases/sec\n", cps)
	}

	fmt.Println()
}
