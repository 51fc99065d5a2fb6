package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type modelInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Provider  string `json:"provider"`
	Default   bool   `json:"default"`
	Available bool   `json:"available"`
}

type feedbackRequest struct {
	Feedback string `json:"feedback"`
	ModelID  string `json:"model_id,omitempty"`
}

type codingResponse struct {
	Response string `json:"response"`
}

type result struct {
	Sample string `json:"sample"`
	Chars  int    `json:"chars"`
	Model  string `json:"model"`
	Mode   string `json:"mode"`
	Run    int    `json:"run"`
	// TTFBMs is the time to the first response byte.
	TTFBMs   int64  `json:"ttfb_ms"`
	WallMs   int64  `json:"wall_ms"`
	OutChars int    `json:"out_chars"`
	Hits     int    `json:"hits"`
	Error    string `json:"error,omitempty"`
}

type options struct {
	baseURL string
	model   string
	client  *http.Client
}

func main() {
	url := flag.String("url", "http://localhost:4000", "API base URL")
	runs := flag.Int("runs", 3, "Number of runs per sample and mode")
	model := flag.String("model", "", "Model ID to use (default: server default)")
	modes := flag.String("modes", "stream,buffered", "Comma-separated response modes to measure")
	concurrency := flag.Int("concurrency", 1, "Requests in flight at once")
	quality := flag.Bool("quality", false, "Quality mode: show input/output for each sample (1 run, no timing table)")
	jsonOut := flag.String("json", "", "Write results to JSON file (e.g. results.json)")
	warmup := flag.Bool("warmup", false, "Run one warmup request per sample before measuring")
	flag.Parse()

	o := options{
		baseURL: strings.TrimRight(*url, "/"),
		model:   *model,
		client:  &http.Client{Timeout: 180 * time.Second},
	}
	if o.model == "" {
		o.model = discoverModel(o)
	}

	if *quality {
		runQualityMode(o)
		return
	}

	modeList := strings.Split(*modes, ",")
	fmt.Printf("Benchmarking %s using model %s (%d runs per sample, modes %s, concurrency %d",
		o.baseURL, o.model, *runs, *modes, *concurrency)
	if *warmup {
		fmt.Print(", warmup enabled")
	}
	fmt.Println(")")

	if *warmup {
		for _, sample := range Samples {
			w := benchmark(context.Background(), o, sample, "buffered", 0)
			if w.Error != "" {
				fmt.Printf("  warmup %s FAILED (%s)\n", sample.Name, w.Error)
			}
		}
	}

	results := runAll(o, modeList, *runs, *concurrency)

	fmt.Println()
	printTable(results)
	printSummary(results)

	if *jsonOut != "" {
		if err := writeJSON(*jsonOut, results, o); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing JSON: %v\n", err)
		} else {
			fmt.Printf("\nResults written to %s\n", *jsonOut)
		}
	}

	for _, r := range results {
		if r.Error != "" {
			os.Exit(1)
		}
	}
}

// runAll fans every (sample, mode, run) out over at most concurrency
// workers. Failed runs are recorded, not fatal.
func runAll(o options, modes []string, runs, concurrency int) []result {
	var (
		mu      sync.Mutex
		results []result
	)
	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(max(concurrency, 1))

	for _, sample := range Samples {
		for _, mode := range modes {
			for run := 1; run <= runs; run++ {
				sample, mode, run := sample, mode, run
				g.Go(func() error {
					r := benchmark(ctx, o, sample, strings.TrimSpace(mode), run)
					status := fmt.Sprintf("%dms", r.WallMs)
					if r.Error != "" {
						status = "FAILED (" + r.Error + ")"
					}
					fmt.Printf("  %s/%s run %d: %s\n", r.Sample, r.Mode, r.Run, status)

					mu.Lock()
					results = append(results, r)
					mu.Unlock()
					return nil
				})
			}
		}
	}
	g.Wait()

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Chars != b.Chars {
			return a.Chars < b.Chars
		}
		if a.Mode != b.Mode {
			return a.Mode < b.Mode
		}
		return a.Run < b.Run
	})
	return results
}

func discoverModel(o options) string {
	resp, err := o.client.Get(o.baseURL + "/api/models")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error fetching models: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Models endpoint returned %d: %s\n", resp.StatusCode, body)
		os.Exit(1)
	}

	var models []modelInfo
	if err := json.NewDecoder(resp.Body).Decode(&models); err != nil {
		fmt.Fprintf(os.Stderr, "Error decoding models: %v\n", err)
		os.Exit(1)
	}
	if len(models) == 0 {
		fmt.Fprintln(os.Stderr, "No models available")
		os.Exit(1)
	}

	for _, m := range models {
		if m.Default {
			return m.ID
		}
	}
	return models[0].ID
}

// process sends one request and returns the answer text plus the time to
// the first body byte. Streamed answers are read to the end.
func process(ctx context.Context, o options, text, mode string) (string, time.Duration, error) {
	payload, _ := json.Marshal(feedbackRequest{Feedback: text, ModelID: o.model})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/process-feedback?mode="+mode, strings.NewReader(string(payload)))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := o.client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", 0, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var sb strings.Builder
	var ttfb time.Duration
	buf := make([]byte, 4096)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 && ttfb == 0 {
			ttfb = time.Since(start)
		}
		sb.Write(buf[:n])
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return sb.String(), ttfb, fmt.Errorf("stream cut: %w", rerr)
		}
	}

	if mode == "stream" {
		return sb.String(), ttfb, nil
	}
	var cr codingResponse
	if err := json.Unmarshal([]byte(sb.String()), &cr); err != nil {
		return "", ttfb, err
	}
	return cr.Response, ttfb, nil
}

func benchmark(ctx context.Context, o options, sample Sample, mode string, run int) result {
	r := result{Sample: sample.Name, Chars: len([]rune(sample.Text)), Model: o.model, Mode: mode, Run: run}

	start := time.Now()
	out, ttfb, err := process(ctx, o, sample.Text, mode)
	r.WallMs = time.Since(start).Milliseconds()
	r.TTFBMs = ttfb.Milliseconds()
	if err != nil {
		r.Error = err.Error()
		return r
	}
	r.OutChars = len([]rune(out))
	r.Hits = countHits(out, sample.Expect)
	return r
}

func countHits(out string, expect []string) int {
	n := 0
	for _, code := range expect {
		if strings.Contains(out, code) {
			n++
		}
	}
	return n
}

func printTable(results []result) {
	fmt.Println("| Sample | Chars | Mode | Run | TTFB (ms) | Wall (ms) | Out Chars | Hits |")
	fmt.Println("|--------|-------|------|-----|-----------|-----------|-----------|------|")
	for _, r := range results {
		if r.Error != "" {
			fmt.Printf("| %-6s | %5d | %-8s | %d | %9s | %9s | %9s | %4s |\n",
				r.Sample, r.Chars, r.Mode, r.Run, "FAIL", "-", "-", "-")
			continue
		}
		fmt.Printf("| %-6s | %5d | %-8s | %d | %9d | %9d | %9d | %4d |\n",
			r.Sample, r.Chars, r.Mode, r.Run, r.TTFBMs, r.WallMs, r.OutChars, r.Hits)
	}
}

func runQualityMode(o options) {
	fmt.Printf("Quality test against %s using model: %s\n", o.baseURL, o.model)
	fmt.Println(strings.Repeat("=", 72))

	var failures int
	for i, sample := range QualitySamples {
		fmt.Printf("\n--- %d/%d: %s (%d chars) ---\n", i+1, len(QualitySamples), sample.Name, len(sample.Text))
		fmt.Printf("IN:  %s\n", sample.Text)

		start := time.Now()
		out, _, err := process(context.Background(), o, sample.Text, "buffered")
		if err != nil {
			fmt.Printf("ERR: %s\n", err)
			failures++
			continue
		}

		fmt.Printf("OUT: %s\n", out)
		fmt.Printf("     [%dms, %d/%d expected codes]\n", time.Since(start).Milliseconds(), countHits(out, sample.Expect), len(sample.Expect))
	}

	fmt.Printf("\n%s\n", strings.Repeat("=", 72))
	fmt.Printf("Done: %d/%d passed\n", len(QualitySamples)-failures, len(QualitySamples))
	if failures > 0 {
		os.Exit(1)
	}
}

func printSummary(results []result) {
	byMode := map[string][]result{}
	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
			continue
		}
		byMode[r.Mode] = append(byMode[r.Mode], r)
	}

	if len(byMode) == 0 {
		fmt.Printf("\nSummary: all %d runs failed\n", len(results))
		return
	}

	modes := make([]string, 0, len(byMode))
	for m := range byMode {
		modes = append(modes, m)
	}
	sort.Strings(modes)

	fmt.Printf("\nSummary:\n")
	for _, m := range modes {
		ok := byMode[m]
		var ttfb, wall int64
		for _, r := range ok {
			ttfb += r.TTFBMs
			wall += r.WallMs
		}
		fmt.Printf("- %s: avg TTFB %dms, avg wall %dms over %d runs\n",
			m, ttfb/int64(len(ok)), wall/int64(len(ok)), len(ok))
	}
	fmt.Printf("- Total runs: %d (%d ok, %d failed)\n", len(results), len(results)-failed, failed)
}

type jsonReport struct {
	Timestamp string   `json:"timestamp"`
	URL       string   `json:"url"`
	Model     string   `json:"model"`
	Results   []result `json:"results"`
}

func writeJSON(path string, results []result, o options) error {
	report := jsonReport{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		URL:       o.baseURL,
		Model:     o.model,
		Results:   results,
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
