// Benchmark tool for testing Kestrel against a labeled fraud dataset.
//
// Usage:
//   go run cmd/benchmark/main.go -csv /path/to/labeled.csv -url http://localhost:8080
//
// This tool:
//   1. Uploads a labeled CSV batch (fraud label column preserved as an extra field)
//   2. Drives the batch through anonymize, verify and score
//   3. Compares Kestrel's action (Review/Auto-Clear) with the actual labels
//   4. Calculates precision, recall, F1-score, and confusion matrix
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// labeledCase pairs Kestrel's verdict with the dataset's ground truth.
type labeledCase struct {
	ID      string
	IsFraud bool
	Flagged bool
	Score   float64
}

// Metrics tracks benchmark results.
type Metrics struct {
	TruePositives  int64 // Fraud flagged for review
	FalsePositives int64 // Non-fraud flagged for review
	TrueNegatives  int64 // Non-fraud auto-cleared
	FalseNegatives int64 // Fraud auto-cleared (missed!)

	TotalProcessed int64
	TotalFraud     int64
	TotalNonFraud  int64
}

type caseRecord struct {
	ID         string            `json:"id"`
	RawFields  map[string]string `json:"rawFields"`
	Assessment *struct {
		BlendedScore float64 `json:"blendedScore"`
		Action       string  `json:"action"`
	} `json:"assessment"`
}

func main() {
	csvPath := flag.String("csv", "", "Path to labeled CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	labelCol := flag.String("label", "is_fraud", "Name of the fraud label column")
	verbose := flag.Bool("verbose", false, "Print each case result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/labeled.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("KESTREL BENCHMARK - labeled fraud batch")
	fmt.Printf("\nCSV File:     %s\n", *csvPath)
	fmt.Printf("Kestrel URL:  %s\n", *baseURL)
	fmt.Printf("Tenant ID:    %s\n", *tenantID)
	fmt.Printf("Label Column: %s\n", *labelCol)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("Kestrel is healthy")

	client := &http.Client{Timeout: 60 * time.Second}

	startTime := time.Now()
	runID, err := uploadBatch(client, *baseURL, *tenantID, *csvPath)
	if err != nil {
		fmt.Printf("ERROR: upload failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Batch uploaded: run %s\n", runID)

	for _, stage := range []string{"anonymize", "verify", "score"} {
		if err := runStage(client, *baseURL, *tenantID, runID, stage); err != nil {
			fmt.Printf("ERROR: %s failed: %v\n", stage, err)
			os.Exit(1)
		}
		fmt.Printf("Stage complete: %s\n", stage)
	}

	cases, err := fetchCases(client, *baseURL, *tenantID, runID, *labelCol)
	if err != nil {
		fmt.Printf("ERROR: failed to fetch cases: %v\n", err)
		os.Exit(1)
	}
	duration := time.Since(startTime)

	metrics := score(cases, *verbose)
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

func uploadBatch(client *http.Client, baseURL, tenantID, csvPath string) (string, error) {
	data, err := os.ReadFile(csvPath)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/batches", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "text/csv")
	req.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, body)
	}

	var result struct {
		Run struct {
			ID string `json:"id"`
		} `json:"run"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.Run.ID, nil
}

func runStage(client *http.Client, baseURL, tenantID, runID, stage string) error {
	req, err := http.NewRequest(http.MethodPost, fmt.Sprintf("%s/batches/%s/%s", baseURL, runID, stage), nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d: %s", resp.StatusCode, body)
	}
	return nil
}

func fetchCases(client *http.Client, baseURL, tenantID, runID, labelCol string) ([]labeledCase, error) {
	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/batches/%s/cases", baseURL, runID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, body)
	}

	var result struct {
		Cases []caseRecord `json:"cases"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	labeled := make([]labeledCase, 0, len(result.Cases))
	for _, c := range result.Cases {
		if c.Assessment == nil {
			continue
		}
		label := strings.TrimSpace(c.RawFields[labelCol])
		labeled = append(labeled, labeledCase{
			ID:      c.ID,
			IsFraud: label == "1" || strings.EqualFold(label, "true"),
			Flagged: c.Assessment.Action == "Review",
			Score:   c.Assessment.BlendedScore,
		})
	}
	return labeled, nil
}

func score(cases []labeledCase, verbose bool) *Metrics {
	m := &Metrics{}
	for _, c := range cases {
		m.TotalProcessed++
		if c.IsFraud {
			m.TotalFraud++
		} else {
			m.TotalNonFraud++
		}

		switch {
		case c.Flagged && c.IsFraud:
			m.TruePositives++
		case c.Flagged && !c.IsFraud:
			m.FalsePositives++
		case !c.Flagged && !c.IsFraud:
			m.TrueNegatives++
		default:
			m.FalseNegatives++
		}

		if verbose {
			status := "ok  "
			if c.Flagged != c.IsFraud {
				status = "miss"
			}
			fmt.Printf("%s %-24s | Fraud: %-5v | Kestrel: %-10s (%.2f)\n",
				status, c.ID, c.IsFraud, actionOf(c.Flagged), c.Score)
		}
	}
	return m
}

func actionOf(flagged bool) string {
	if flagged {
		return "Review"
	}
	return "Auto-Clear"
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\nBENCHMARK RESULTS")

	fmt.Printf("\nDATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Fraud:      %d\n", m.TotalFraud)
	fmt.Printf("   Total Non-Fraud:  %d\n", m.TotalNonFraud)

	fmt.Printf("\nCONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                  Review      Auto-Clear")
	fmt.Printf("   Actual  F    %8d     %8d   (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Printf("          NF    %8d     %8d   (FP, TN)\n", m.FalsePositives, m.TrueNegatives)

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

	fmt.Printf("\nDETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of flagged cases, how many were actual fraud)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of fraud, how many did we catch)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)
	fmt.Printf("   Accuracy:   %.4f  (overall correct predictions)\n", accuracy)

	if m.TotalFraud > 0 {
		detectionRate := float64(m.TruePositives) / float64(m.TotalFraud) * 100
		missRate := float64(m.FalseNegatives) / float64(m.TotalFraud) * 100
		fmt.Printf("\nDETECTION ANALYSIS\n")
		fmt.Printf("   Fraud Detected:    %d / %d (%.2f%%)\n", m.TruePositives, m.TotalFraud, detectionRate)
		fmt.Printf("   Fraud Missed:      %d / %d (%.2f%%)\n", m.FalseNegatives, m.TotalFraud, missRate)
	}
	if m.TotalNonFraud > 0 {
		falseAlarmRate := float64(m.FalsePositives) / float64(m.TotalNonFraud) * 100
		fmt.Printf("   False Alarms:      %d / %d (%.2f%%)\n", m.FalsePositives, m.TotalNonFraud, falseAlarmRate)
	}

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))

	fmt.Println()
}
