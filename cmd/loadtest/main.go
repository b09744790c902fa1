// Команда loadtest гоняет сценарии заказов против HTTP API shop-service
// и печатает сводку по задержкам и кодам ответов.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type loadMode string

const (
	modeCreate       loadMode = "create"
	modeCreateUpdate loadMode = "create-update"
	modeCreateDelete loadMode = "create-delete"
)

const scenarioMethod = "scenario"

type config struct {
	baseURL     string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	mode        loadMode
	productID   string
	quantity    int
	customerTag string
	outputPath  string
	token       string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Statuses  map[string]int64 `json:"statuses"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	SuccessScenarios  int64                   `json:"success_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
}

type methodStats struct {
	calls     int64
	failed    int64
	statuses  map[string]int64
	latencies []float64
}

// collector копит результаты вызовов; безопасен для конкурентного использования.
type collector struct {
	mu      sync.Mutex
	methods map[string]*methodStats
}

func newCollector() *collector {
	return &collector{methods: make(map[string]*methodStats)}
}

// record учитывает вызов; status 0 означает сетевую ошибку.
func (c *collector) record(method string, latency time.Duration, status int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[method]
	if !ok {
		stats = &methodStats{statuses: make(map[string]int64)}
		c.methods[method] = stats
	}
	stats.calls++
	if status < 200 || status >= 300 {
		stats.failed++
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	stats.statuses[label]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Methods:         make(map[string]methodReport, len(c.methods)),
	}
	for name, stats := range c.methods {
		result.Methods[name] = methodReport{
			Calls:     stats.calls,
			Success:   stats.calls - stats.failed,
			Failed:    stats.failed,
			ErrorRate: ratio(stats.failed, stats.calls),
			Statuses:  cloneCounts(stats.statuses),
			LatencyMs: buildLatencySummary(stats.latencies),
		}
	}
	if scenario, ok := result.Methods[scenarioMethod]; ok {
		result.TotalScenarios = scenario.Calls
		result.SuccessScenarios = scenario.Success
		result.FailedScenarios = scenario.Failed
		result.ErrorRate = scenario.ErrorRate
		result.ScenarioLatencyMs = scenario.LatencyMs
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}
	return result
}

func cloneCounts(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func parseConfig(args []string) (config, error) {
	var (
		cfg  config
		mode string
	)
	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.baseURL, "url", "http://localhost:8080", "shop-service HTTP base URL")
	fs.IntVar(&cfg.total, "total", 400, "scenarios to run; with -duration acts as an upper bound when set explicitly")
	fs.DurationVar(&cfg.duration, "duration", 0, "run for this long instead of a fixed count")
	fs.IntVar(&cfg.concurrency, "concurrency", 16, "parallel workers")
	fs.DurationVar(&cfg.timeout, "timeout", 3*time.Second, "per-request timeout")
	fs.StringVar(&mode, "mode", string(modeCreate), "scenario: create|create-update|create-delete")
	fs.StringVar(&cfg.productID, "product", "P1", "catalog product id used in orders")
	fs.IntVar(&cfg.quantity, "qty", 1, "quantity per order line")
	fs.StringVar(&cfg.customerTag, "customer-tag", "loadtest", "customer id prefix")
	fs.StringVar(&cfg.outputPath, "out", "", "optional path for a JSON report")
	fs.StringVar(&cfg.token, "token", "", "bearer token; scenarios use distinct customer ids, so it needs the admin role")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	var err error
	if cfg.mode, err = parseMode(mode); err != nil {
		return config{}, err
	}
	cfg.token = strings.TrimSpace(cfg.token)
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	switch {
	case cfg.baseURL == "":
		return config{}, errors.New("url is required")
	case cfg.total <= 0:
		return config{}, errors.New("total must be positive")
	case cfg.duration < 0:
		return config{}, errors.New("duration must not be negative")
	case cfg.concurrency <= 0:
		return config{}, errors.New("concurrency must be positive")
	case cfg.timeout <= 0:
		return config{}, errors.New("timeout must be positive")
	case strings.TrimSpace(cfg.productID) == "":
		return config{}, errors.New("product is required")
	case cfg.quantity <= 0:
		return config{}, errors.New("qty must be positive")
	}
	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch mode := loadMode(strings.TrimSpace(value)); mode {
	case modeCreate, modeCreateUpdate, modeCreateDelete:
		return mode, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	result := run(context.Background(), cfg, &http.Client{})
	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}
	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config, client *http.Client) report {
	startedAt := time.Now()
	runID := strconv.FormatInt(startedAt.UnixNano(), 36)
	col := newCollector()
	api := &apiClient{http: client, baseURL: cfg.baseURL, timeout: cfg.timeout, token: cfg.token, col: col}

	jobs := make(chan int, cfg.concurrency*2)
	var g errgroup.Group
	for range cfg.concurrency {
		g.Go(func() error {
			for index := range jobs {
				runScenario(ctx, api, cfg, index, runID)
			}
			return nil
		})
	}
	dispatchJobs(ctx, jobs, cfg)
	_ = g.Wait()

	return col.buildReport(startedAt, time.Since(startedAt))
}

func dispatchJobs(ctx context.Context, jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := range cfg.total {
			select {
			case <-ctx.Done():
				return
			case jobs <- i:
			}
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()
	for i := 0; !cfg.totalSet || i < cfg.total; i++ {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

func runScenario(ctx context.Context, api *apiClient, cfg config, index int, runID string) {
	started := time.Now()
	status := http.StatusOK
	defer func() { api.col.record(scenarioMethod, time.Since(started), status) }()

	body := orderBody(fmt.Sprintf("%s-%s-%d", cfg.customerTag, runID, index), cfg.productID, cfg.quantity)
	var created struct {
		ID string `json:"id"`
	}
	if status = api.call(ctx, "CreateOrder", http.MethodPost, "/api/v1/orders", body, &created); !isSuccess(status) {
		return
	}
	if created.ID == "" {
		status = 0
		return
	}

	switch cfg.mode {
	case modeCreateUpdate:
		body["lines"] = []map[string]any{{"product_id": cfg.productID, "quantity": cfg.quantity + 1}}
		status = api.call(ctx, "UpdateOrder", http.MethodPut, "/api/v1/orders/"+created.ID, body, nil)
	case modeCreateDelete:
		status = api.call(ctx, "DeleteOrder", http.MethodDelete, "/api/v1/orders/"+created.ID, nil, nil)
	}
}

func isSuccess(status int) bool { return status >= 200 && status < 300 }

func orderBody(customerID, productID string, quantity int) map[string]any {
	return map[string]any{
		"customer_id": customerID,
		"customer": map[string]any{
			"full_name": "Load Test",
			"email":     "load@example.com",
			"phone":     "600000000",
			"address": map[string]any{
				"street":      "Load Street",
				"number":      "1",
				"city":        "Benchville",
				"province":    "Benchshire",
				"country":     "Benchland",
				"postal_code": "10001",
			},
		},
		"lines": []map[string]any{{"product_id": productID, "quantity": quantity}},
	}
}

type apiClient struct {
	http    *http.Client
	baseURL string
	timeout time.Duration
	token   string
	col     *collector
}

// call выполняет запрос и возвращает HTTP-статус (0 при сетевой ошибке).
func (a *apiClient) call(ctx context.Context, method, httpMethod, path string, body any, out any) int {
	started := time.Now()
	status := a.do(ctx, httpMethod, path, body, out)
	a.col.record(method, time.Since(started), status)
	return status
}

func (a *apiClient) do(ctx context.Context, method, path string, body any, out any) int {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, payload)
	if err != nil {
		return 0
	}
	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return 0
	}
	defer resp.Body.Close()

	if out != nil && isSuccess(resp.StatusCode) {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return 0
		}
		return resp.StatusCode
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- путь задаётся явно флагом -out.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(out io.Writer, result report, cfg config) {
	_, _ = fmt.Fprintln(out, "Load test summary")
	_, _ = fmt.Fprintf(out, "mode=%s run=%s total=%d success=%d failed=%d error_rate=%.4f\n",
		cfg.mode, runTarget(cfg), result.TotalScenarios, result.SuccessScenarios, result.FailedScenarios, result.ErrorRate)
	_, _ = fmt.Fprintf(out, "duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	l := result.ScenarioLatencyMs
	_, _ = fmt.Fprintf(out, "scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		l.Min, l.Avg, l.P50, l.P95, l.P99, l.Max)

	names := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		if name != scenarioMethod {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	for _, name := range names {
		stats := result.Methods[name]
		_, _ = fmt.Fprintf(out, "%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name, stats.Calls, stats.Success, stats.Failed, stats.ErrorRate, stats.LatencyMs.P95)
	}
}

func runTarget(cfg config) string {
	switch {
	case cfg.duration <= 0:
		return fmt.Sprintf("count:%d", cfg.total)
	case cfg.totalSet:
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	default:
		return fmt.Sprintf("duration:%s", cfg.duration)
	}
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

// percentile интерполирует линейно между соседними рангами.
func percentile(sorted []float64, p float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}
	rank := (p / 100.0) * float64(len(sorted)-1)
	lower, upper := int(math.Floor(rank)), int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	return sorted[lower] + (sorted[upper]-sorted[lower])*(rank-float64(lower))
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
