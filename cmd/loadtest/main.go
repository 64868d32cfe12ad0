package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	idempotencyHeader = "Idempotency-Key"
	customerHeader    = "X-Customer-ID"
	defaultQty        = int64(1)
)

type loadMode string

const (
	modeBrowse   loadMode = "browse"
	modeCheckout loadMode = "checkout"
	modeMixed    loadMode = "mixed"
)

type config struct {
	baseURL     string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	mode        loadMode
	browseRate  int
	productID   string
	quantity    int64
	customerTag string
	outputPath  string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
	Max float64 `json:"max"`
}

type endpointReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Statuses  map[string]int64 `json:"statuses"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time                 `json:"started_at"`
	DurationSeconds   float64                   `json:"duration_seconds"`
	TotalScenarios    int64                     `json:"total_scenarios"`
	SuccessScenarios  int64                     `json:"success_scenarios"`
	FailedScenarios   int64                     `json:"failed_scenarios"`
	ErrorRate         float64                   `json:"error_rate"`
	RPS               float64                   `json:"rps"`
	ScenarioLatencyMs latencySummary            `json:"scenario_latency_ms"`
	Endpoints         map[string]endpointReport `json:"endpoints"`
}

type endpointStats struct {
	calls     int64
	success   int64
	failed    int64
	statuses  map[string]int64
	latencies []float64
}

type collector struct {
	mu        sync.Mutex
	endpoints map[string]*endpointStats
}

func newCollector() *collector {
	return &collector{
		endpoints: make(map[string]*endpointStats),
	}
}

// record учитывает вызов; статус 0 означает транспортную ошибку.
func (c *collector) record(endpoint string, latency time.Duration, status int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.endpoints[endpoint]
	if !ok {
		stats = &endpointStats{
			statuses: make(map[string]int64),
		}
		c.endpoints[endpoint] = stats
	}

	stats.calls++
	if status >= 200 && status < 300 {
		stats.success++
	} else {
		stats.failed++
	}
	stats.statuses[statusLabel(status)]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func statusLabel(status int) string {
	if status == 0 {
		return "transport_error"
	}
	return strconv.Itoa(status)
}

// reportFor агрегирует накопленную статистику эндпоинта в отчётную форму.
func reportFor(stats *endpointStats) endpointReport {
	statuses := make(map[string]int64, len(stats.statuses))
	for status, count := range stats.statuses {
		statuses[status] = count
	}

	return endpointReport{
		Calls:     stats.calls,
		Success:   stats.success,
		Failed:    stats.failed,
		ErrorRate: ratio(stats.failed, stats.calls),
		Statuses:  statuses,
		LatencyMs: buildLatencySummary(stats.latencies),
	}
}

func (c *collector) snapshot(name string) (endpointReport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.endpoints[name]
	if !ok {
		return endpointReport{}, false
	}
	return reportFor(stats), true
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Endpoints:       make(map[string]endpointReport, len(c.endpoints)),
	}
	for name, stats := range c.endpoints {
		result.Endpoints[name] = reportFor(stats)
	}

	if scenario, ok := result.Endpoints["scenario"]; ok {
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

func parseConfig() (config, error) {
	var cfg config
	var modeValue string
	var timeoutValue string
	var durationValue string

	flag.StringVar(&cfg.baseURL, "url", "http://localhost:8080", "API base URL")
	flag.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	flag.StringVar(&durationValue, "duration", "0s", "optional time-based run duration (e.g. 10m, 15m)")
	flag.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	flag.StringVar(&timeoutValue, "timeout", "5s", "per-request timeout")
	flag.StringVar(&modeValue, "mode", string(modeCheckout), "load mode: browse | checkout | mixed")
	flag.IntVar(&cfg.browseRate, "browse-rate", 50, "browse probability in percent for mixed mode (0..100)")
	flag.StringVar(&cfg.productID, "product-id", "prod-load", "product id added to carts")
	flag.Int64Var(&cfg.quantity, "quantity", defaultQty, "cart line quantity per scenario")
	flag.StringVar(&cfg.customerTag, "customer-tag", "load", "customer id prefix")
	flag.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	flag.Parse()

	var err error
	if cfg.timeout, err = time.ParseDuration(strings.TrimSpace(timeoutValue)); err != nil {
		return cfg, fmt.Errorf("parse timeout: %w", err)
	}
	if cfg.duration, err = time.ParseDuration(strings.TrimSpace(durationValue)); err != nil {
		return cfg, fmt.Errorf("parse duration: %w", err)
	}
	if cfg.mode, err = parseMode(modeValue); err != nil {
		return cfg, err
	}

	// В duration-режиме -total работает как верхняя граница только когда
	// пользователь задал флаг явно.
	flag.CommandLine.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	return cfg, validateConfig(cfg)
}

func validateConfig(cfg config) error {
	if strings.TrimSpace(cfg.baseURL) == "" {
		return errors.New("url is required")
	}
	if cfg.duration < 0 {
		return errors.New("duration must be >= 0")
	}
	if cfg.duration == 0 && cfg.total <= 0 {
		return errors.New("total must be > 0 when duration is not set")
	}
	if cfg.duration > 0 && cfg.totalSet && cfg.total <= 0 {
		return errors.New("total must be > 0 when explicitly set with duration")
	}
	if cfg.concurrency <= 0 {
		return errors.New("concurrency must be > 0")
	}
	if cfg.timeout <= 0 {
		return errors.New("timeout must be > 0")
	}
	if cfg.quantity <= 0 {
		return errors.New("quantity must be > 0")
	}
	if cfg.browseRate < 0 || cfg.browseRate > 100 {
		return errors.New("browse-rate must be between 0 and 100")
	}
	if strings.TrimSpace(cfg.productID) == "" {
		return errors.New("product-id is required")
	}
	if strings.TrimSpace(cfg.customerTag) == "" {
		return errors.New("customer-tag is required")
	}
	return nil
}

func parseMode(value string) (loadMode, error) {
	mode := loadMode(strings.TrimSpace(value))
	switch mode {
	case modeBrowse, modeCheckout, modeMixed:
		return mode, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	cfg, err := parseConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	client := &http.Client{
		Timeout:   cfg.timeout,
		Transport: &http.Transport{MaxIdleConnsPerHost: cfg.concurrency},
	}

	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	col := newCollector()

	jobs := make(chan int, cfg.concurrency*2)
	failures := runWorkerPool(client, cfg, runID, col, jobs)

	duration := time.Since(startedAt)
	result := col.buildReport(startedAt, duration)
	if result.FailedScenarios == 0 && failures > 0 {
		result.FailedScenarios = failures
		result.ErrorRate = ratio(result.FailedScenarios, result.TotalScenarios)
	}

	printReport(result, cfg)

	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}
	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

// runWorkerPool поднимает -concurrency воркеров, раздаёт им номера сценариев
// и блокируется до завершения всех; возвращает число упавших сценариев.
func runWorkerPool(client *http.Client, cfg config, runID string, col *collector, jobs chan int) int64 {
	var (
		failures int64
		wg       sync.WaitGroup
	)

	wg.Add(cfg.concurrency)
	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		go func() {
			defer wg.Done()
			for id := range jobs {
				if runErr := runScenario(client, cfg, id, runID, col); runErr != nil {
					atomic.AddInt64(&failures, 1)
				}
			}
		}()
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()
	return failures
}

// dispatchJobs раздаёт номера сценариев воркерам: фиксированное количество
// либо до истечения -duration (с необязательной границей -total).
func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for seq := 0; seq < cfg.total; seq++ {
			jobs <- seq
		}
		return
	}

	deadline := time.NewTimer(cfg.duration)
	defer deadline.Stop()

	for i := 0; !cfg.totalSet || i < cfg.total; i++ {
		select {
		case <-deadline.C:
			return
		case jobs <- i:
		}
	}
}

func runScenario(client *http.Client, cfg config, index int, runID string, col *collector) error {
	scenarioStart := time.Now()
	scenarioStatus := http.StatusOK
	defer func() {
		col.record("scenario", time.Since(scenarioStart), scenarioStatus)
	}()

	if cfg.mode == modeBrowse || (cfg.mode == modeMixed && shouldBrowse(index, cfg.browseRate)) {
		if status, err := runBrowse(client, cfg, col); err != nil {
			scenarioStatus = status
			return err
		}
		return nil
	}

	if status, err := runCheckout(client, cfg, index, runID, col); err != nil {
		scenarioStatus = status
		return err
	}
	return nil
}

// runBrowse имитирует посетителя каталога: список товаров и публичные счётчики продаж.
func runBrowse(client *http.Client, cfg config, col *collector) (int, error) {
	status, err := call(client, col, "GetCatalog", http.MethodGet, cfg.baseURL+"/api/v1/catalog", "", "", nil)
	if err != nil || status != http.StatusOK {
		return status, fmt.Errorf("catalog request failed with status %d: %w", status, errOf(err))
	}

	status, err = call(client, col, "GetSoldTotals", http.MethodGet, cfg.baseURL+"/api/v1/stats/sold", "", "", nil)
	if err != nil || status != http.StatusOK {
		return status, fmt.Errorf("stats request failed with status %d: %w", status, errOf(err))
	}
	return http.StatusOK, nil
}

// runCheckout проводит покупателя через регистрацию, корзину и чекаут.
func runCheckout(client *http.Client, cfg config, index int, runID string, col *collector) (int, error) {
	customerID := fmt.Sprintf("%s-%s-%d", cfg.customerTag, runID, index)

	status, err := call(client, col, "CreateAccount", http.MethodPost, cfg.baseURL+"/api/v1/accounts", "", "", map[string]any{
		"id":   customerID,
		"name": customerID,
	})
	if err != nil || status != http.StatusCreated {
		return status, fmt.Errorf("create account failed with status %d: %w", status, errOf(err))
	}

	status, err = call(client, col, "AddCartItem", http.MethodPost, cfg.baseURL+"/api/v1/cart/items", customerID, "", map[string]any{
		"product_id": cfg.productID,
	})
	if err != nil || status != http.StatusOK {
		return status, fmt.Errorf("add cart item failed with status %d: %w", status, errOf(err))
	}

	if cfg.quantity > 1 {
		status, err = call(client, col, "SetCartQuantity", http.MethodPatch,
			cfg.baseURL+"/api/v1/cart/items/"+cfg.productID, customerID, "", map[string]any{
				"quantity": cfg.quantity,
			})
		if err != nil || status != http.StatusOK {
			return status, fmt.Errorf("set cart quantity failed with status %d: %w", status, errOf(err))
		}
	}

	checkoutKey := fmt.Sprintf("lt-checkout-%s-%d", runID, index)
	status, err = call(client, col, "Checkout", http.MethodPost, cfg.baseURL+"/api/v1/checkout", customerID, checkoutKey, nil)
	if err != nil || status != http.StatusCreated {
		return status, fmt.Errorf("checkout failed with status %d: %w", status, errOf(err))
	}

	return http.StatusOK, nil
}

func call(
	client *http.Client,
	col *collector,
	endpoint, method, url, customerID, idempotencyKey string,
	body map[string]any,
) (int, error) {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if customerID != "" {
		req.Header.Set(customerHeader, customerID)
	}
	if idempotencyKey != "" {
		req.Header.Set(idempotencyHeader, idempotencyKey)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		col.record(endpoint, time.Since(start), 0)
		return 0, err
	}
	defer resp.Body.Close()

	col.record(endpoint, time.Since(start), resp.StatusCode)
	return resp.StatusCode, nil
}

// errOf подменяет nil на заглушку, чтобы %w в fmt.Errorf всегда имел цель.
func errOf(err error) error {
	if err != nil {
		return err
	}
	return errors.New("unexpected status")
}

func shouldBrowse(index, browseRate int) bool {
	if browseRate <= 0 {
		return false
	}
	if browseRate >= 100 {
		return true
	}
	return index%100 < browseRate
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	switch {
	case cleanPath == "." || cleanPath == string(filepath.Separator):
		return errors.New("output path must point to a file")
	case cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)):
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	encoded, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(cleanPath, append(encoded, '\n'), 0o644)
}

func printReport(result report, cfg config) {
	fmt.Println("Load test summary")
	fmt.Printf("mode=%s run=%s total=%d success=%d failed=%d error_rate=%.4f\n",
		cfg.mode, runTarget(cfg),
		result.TotalScenarios, result.SuccessScenarios, result.FailedScenarios, result.ErrorRate)
	fmt.Printf("duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)

	lat := result.ScenarioLatencyMs
	fmt.Printf("scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		lat.Min, lat.Avg, lat.P50, lat.P95, lat.P99, lat.Max)

	for _, name := range endpointNames(result) {
		stats := result.Endpoints[name]
		fmt.Printf("%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name, stats.Calls, stats.Success, stats.Failed, stats.ErrorRate, stats.LatencyMs.P95)
	}
}

// endpointNames возвращает имена эндпоинтов по алфавиту, без агрегата scenario.
func endpointNames(result report) []string {
	names := make([]string, 0, len(result.Endpoints))
	for name := range result.Endpoints {
		if name != "scenario" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
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

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}

	summary := latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
	}
	summary.P50 = percentile(sorted, 50)
	summary.P95 = percentile(sorted, 95)
	summary.P99 = percentile(sorted, 99)
	return summary
}

// percentile вычисляет p-й перцентиль по линейной интерполяции
// между соседними элементами отсортированного среза.
func percentile(sorted []float64, p float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}

	rank := p / 100.0 * float64(len(sorted)-1)
	lower := math.Floor(rank)
	upper := math.Ceil(rank)
	if lower == upper {
		return sorted[int(rank)]
	}

	lo, hi := sorted[int(lower)], sorted[int(upper)]
	return lo + (hi-lo)*(rank-lower)
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
